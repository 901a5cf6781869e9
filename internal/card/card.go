// Package card composes the share card image: a gradient canvas with a
// one-line title and a three-line description, each clamped with an ellipsis.
//
// All geometry is a 400x209 base design multiplied by Scale.
package card

import (
	"context"
	"image/color"

	"ogcard/internal/fonts"
	"ogcard/internal/metadata"
)

// Scale multiplies every base design dimension.
const Scale = 3

const (
	baseWidth      = 400
	baseHeight     = 209
	basePadding    = 16
	baseGap        = 8
	baseFontSize   = 14
	baseLineHeight = 21
)

// Scaled layout, in pixels.
const (
	Width      = baseWidth * Scale
	Height     = baseHeight * Scale
	Padding    = basePadding * Scale
	Gap        = baseGap * Scale
	FontSize   = baseFontSize * Scale
	LineHeight = baseLineHeight * Scale
)

// Visible line limits.
const (
	TitleLines       = 1
	DescriptionLines = 3
)

const (
	WeightRegular = 400
	WeightBold    = 700
	StyleNormal   = "normal"
)

// CacheControl is sent with every rendered card.
const CacheControl = "public, s-maxage=31536000, stale-if-error=86400, stale-while-revalidate=31536000"

var (
	background     = color.White
	gradientTop    = color.NRGBA{R: 219, G: 203, B: 255, A: 0}
	gradientBottom = color.NRGBA{R: 219, G: 203, B: 255, A: 128}
	textColor      = color.Black
)

// Font is one registered font variant.
type Font struct {
	Name   string
	Data   []byte
	Weight int
	Style  string
}

// Request describes a single render: canvas size, registered fonts and the
// response headers that go with the image.
type Request struct {
	Width   int
	Height  int
	Fonts   []Font
	Headers map[string]string
}

// NewRequest builds the request every card uses. Both variants are
// registered under family; the layout only ever applies the regular weight.
func NewRequest(family string, set fonts.Set) Request {
	return Request{
		Width:  Width,
		Height: Height,
		Fonts: []Font{
			{Name: family, Data: set.Regular, Weight: WeightRegular, Style: StyleNormal},
			{Name: family, Data: set.Bold, Weight: WeightBold, Style: StyleNormal},
		},
		Headers: ResponseHeaders(),
	}
}

// ResponseHeaders returns the headers sent with every card.
func ResponseHeaders() map[string]string {
	return map[string]string{
		"Cache-Control": CacheControl,
	}
}

// Variant returns the registered font with the given weight.
func (r Request) Variant(weight int) (Font, bool) {
	for _, f := range r.Fonts {
		if f.Weight == weight {
			return f, true
		}
	}
	return Font{}, false
}

// Renderer turns page metadata into encoded PNG bytes.
type Renderer interface {
	Render(ctx context.Context, meta metadata.PageMetadata, req Request) ([]byte, error)
}
