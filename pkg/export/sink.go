package export

import (
	"context"
	"image"
	"io"
	"math"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// Sink encodes a complete frame sequence to w.
type Sink interface {
	Format() string
	Ext() string
	ContentType() string
	Encode(ctx context.Context, w io.Writer, frames []*image.RGBA, fps int) error
}

// Options configures sink construction.
type Options struct {
	FFmpegPath string
}

// NewSink returns the sink for format.
func NewSink(format string, opts Options) (Sink, error) {
	switch format {
	case config.FormatGIF:
		return GIF{}, nil
	case config.FormatAPNG:
		return APNG{}, nil
	case config.FormatMP4:
		return MP4{FFmpegPath: opts.FFmpegPath}, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidFormat, "unsupported export format %q", format)
}

// Formats lists the supported export formats.
func Formats() []string {
	return []string{config.FormatGIF, config.FormatAPNG, config.FormatMP4}
}

// DelayCentiseconds converts a frame rate to a per-frame delay in 1/100 s,
// never less than 1.
func DelayCentiseconds(fps int) int {
	if fps <= 0 {
		return 1
	}
	return max(1, int(math.Round(100/float64(fps))))
}

func checkFrames(frames []*image.RGBA, fps int) error {
	if len(frames) == 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "no frames to export")
	}
	if fps <= 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "fps must be > 0, got %d", fps)
	}
	size := frames[0].Bounds().Size()
	for i, f := range frames {
		if f.Bounds().Min != (image.Point{}) || f.Bounds().Size() != size {
			return errors.New(errors.ErrCodeInternal, "frame %d has bounds %v, want %v at the origin", i, f.Bounds(), size)
		}
	}
	return nil
}
