package card

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"ogcard/internal/fonts"
	"ogcard/internal/metadata"
)

// ErrNoRegularFont is returned when a request has no weight-400 variant.
var ErrNoRegularFont = errors.New("no regular weight font registered")

// NativeRenderer rasterizes cards in-process.
type NativeRenderer struct{}

// NewNativeRenderer returns an in-process renderer.
func NewNativeRenderer() *NativeRenderer {
	return &NativeRenderer{}
}

// Render draws the card and encodes it as PNG.
func (r *NativeRenderer) Render(ctx context.Context, meta metadata.PageMetadata, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	face, err := regularFace(req)
	if err != nil {
		return nil, err
	}
	defer face.Close()

	dc := gg.NewContext(req.Width, req.Height)
	paintBackground(dc, req.Width, req.Height)

	dc.SetFontFace(face)
	dc.SetColor(textColor)

	maxWidth := fixed.I(req.Width - 2*Padding)
	top := float64(Padding)

	title := ClampLines(face, meta.Title, maxWidth, TitleLines)
	drawLines(dc, face, title, Padding, top)
	top += float64(len(title)*LineHeight + Gap)

	description := ClampLines(face, meta.Description, maxWidth, DescriptionLines)
	drawLines(dc, face, description, Padding, top)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func regularFace(req Request) (font.Face, error) {
	f, ok := req.Variant(WeightRegular)
	if !ok || len(f.Data) == 0 {
		return nil, ErrNoRegularFont
	}
	sfnt, err := fonts.ToSFNT(f.Data)
	if err != nil {
		return nil, err
	}
	parsed, err := opentype.Parse(sfnt)
	if err != nil {
		return nil, fmt.Errorf("parse font %s: %w", f.Name, err)
	}
	// 72 DPI makes one point one pixel, matching CSS px sizes.
	face, err := opentype.NewFace(parsed, &opentype.FaceOptions{
		Size:    FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	return face, nil
}

func paintBackground(dc *gg.Context, width, height int) {
	dc.SetColor(background)
	dc.Clear()

	grad := gg.NewLinearGradient(0, 0, 0, float64(height))
	grad.AddColorStop(0, gradientTop)
	grad.AddColorStop(1, gradientBottom)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()
}

// drawLines draws each line centered vertically in its line box, the way
// CSS splits leading above and below the glyphs.
func drawLines(dc *gg.Context, face font.Face, lines []string, left, top float64) {
	m := face.Metrics()
	ascent := float64(m.Ascent) / 64
	descent := float64(m.Descent) / 64
	halfLeading := (LineHeight - ascent - descent) / 2

	for i, line := range lines {
		baseline := top + float64(i*LineHeight) + halfLeading + ascent
		dc.DrawString(line, left, baseline)
	}
}
