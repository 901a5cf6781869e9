package fonts

import (
	"bytes"
	"fmt"

	"github.com/tdewolff/font"
)

// Container formats, named as CSS @font-face format() hints.
const (
	FormatWOFF     = "woff"
	FormatWOFF2    = "woff2"
	FormatTrueType = "truetype"
	FormatOpenType = "opentype"
	FormatUnknown  = ""
)

var (
	magicWOFF     = []byte("wOFF")
	magicWOFF2    = []byte("wOF2")
	magicOpenType = []byte("OTTO")
	magicTrueType = []byte{0x00, 0x01, 0x00, 0x00}
	magicApple    = []byte("true")
)

// Format sniffs the container format from the leading magic bytes.
func Format(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicWOFF):
		return FormatWOFF
	case bytes.HasPrefix(data, magicWOFF2):
		return FormatWOFF2
	case bytes.HasPrefix(data, magicOpenType):
		return FormatOpenType
	case bytes.HasPrefix(data, magicTrueType), bytes.HasPrefix(data, magicApple):
		return FormatTrueType
	}
	return FormatUnknown
}

// ToSFNT unwraps WOFF and WOFF2 data into SFNT. SFNT input is returned as is.
func ToSFNT(data []byte) ([]byte, error) {
	switch Format(data) {
	case FormatWOFF, FormatWOFF2:
		sfnt, err := font.ToSFNT(data)
		if err != nil {
			return nil, fmt.Errorf("convert %s to sfnt: %w", Format(data), err)
		}
		return sfnt, nil
	case FormatTrueType, FormatOpenType:
		return data, nil
	}
	return nil, fmt.Errorf("unrecognized font data (%d bytes)", len(data))
}
