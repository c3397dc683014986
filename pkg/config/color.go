package config

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

// Palette returns the background and foreground colors: the color mode pair
// with any hex overrides applied.
func (c Config) Palette() (bg, fg color.RGBA, err error) {
	bg, fg = color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 255}
	if c.ColorMode == ColorDark {
		bg, fg = fg, bg
	}
	if c.BackgroundColor != "" {
		if bg, err = ParseHexColor(c.BackgroundColor); err != nil {
			return bg, fg, err
		}
	}
	if c.ForegroundColor != "" {
		if fg, err = ParseHexColor(c.ForegroundColor); err != nil {
			return bg, fg, err
		}
	}
	return bg, fg, nil
}

// ParseHexColor parses a "#RRGGBB" hex color string into an opaque color.
func ParseHexColor(hex string) (color.RGBA, error) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: must be 6 hex digits", hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid hex color %q: %w", hex, err)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
