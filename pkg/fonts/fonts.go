// Package fonts provides the typefaces used to rasterize captcha glyphs.
//
// The Go fonts ship inside golang.org/x/image, so the default set needs no
// external files. A custom TTF, OTF, WOFF or WOFF2 file can replace them;
// web fonts are converted to SFNT with github.com/tdewolff/font before
// parsing.
package fonts

import (
	"os"
	"strings"
	"sync"

	tdfont "github.com/tdewolff/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// Family is the display name of the embedded typeface.
const Family = "Go"

// Set maps font weights to parsed fonts.
type Set struct {
	Name    string
	regular *opentype.Font
	medium  *opentype.Font
	bold    *opentype.Font
}

// Font returns the face for weight: 1 regular, 2 medium, 3 and heavier bold.
func (s *Set) Font(weight int) *opentype.Font {
	switch {
	case weight <= 1:
		return s.regular
	case weight == 2:
		return s.medium
	default:
		return s.bold
	}
}

// Parsed once on first access.
var (
	goSet     *Set
	goSetErr  error
	goSetOnce sync.Once
)

// Default returns the embedded Go font set.
func Default() (*Set, error) {
	goSetOnce.Do(func() {
		s := &Set{Name: Family}
		for _, f := range []struct {
			dst  **opentype.Font
			data []byte
		}{
			{&s.regular, goregular.TTF},
			{&s.medium, gomedium.TTF},
			{&s.bold, gobold.TTF},
		} {
			parsed, err := opentype.Parse(f.data)
			if err != nil {
				goSetErr = errors.Wrap(errors.ErrCodeFont, err, "parse embedded font")
				return
			}
			*f.dst = parsed
		}
		goSet = s
	})
	return goSet, goSetErr
}

// Load reads a font file and uses it for every weight. Heavier weights are
// still rendered thicker by the rasterizer through dilation.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFont, err, "read font %s", path)
	}
	f, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return &Set{Name: path, regular: f, medium: f, bold: f}, nil
}

// Parse parses font data, converting WOFF and WOFF2 to SFNT first.
func Parse(name string, data []byte) (*opentype.Font, error) {
	if isWebFont(name, data) {
		sfnt, err := tdfont.ToSFNT(data)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeFont, err, "convert %s to sfnt", name)
		}
		data = sfnt
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFont, err, "parse font %s", name)
	}
	return f, nil
}

// isWebFont reports whether data is WOFF or WOFF2, by extension or by the
// "wOFF"/"wOF2" magic.
func isWebFont(name string, data []byte) bool {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".woff") || strings.HasSuffix(lower, ".woff2") {
		return true
	}
	if len(data) < 4 {
		return false
	}
	magic := string(data[:4])
	return magic == "wOFF" || magic == "wOF2"
}
