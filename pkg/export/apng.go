package export

import (
	"context"
	"image"
	"io"

	"github.com/setanarut/apng"

	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// APNG encodes frames as a looping animated PNG.
type APNG struct{}

func (APNG) Format() string      { return "apng" }
func (APNG) Ext() string         { return "png" }
func (APNG) ContentType() string { return "image/apng" }

// Encode writes frames losslessly with a uniform delay.
func (APNG) Encode(ctx context.Context, w io.Writer, frames []*image.RGBA, fps int) error {
	if err := checkFrames(frames, fps); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := uint16(DelayCentiseconds(fps))
	a := &apng.APNG{
		Images: make([]image.Image, len(frames)),
		Delays: make([]uint16, len(frames)),
	}
	for i, f := range frames {
		a.Images[i] = f
		a.Delays[i] = delay
	}

	if err := apng.EncodeAll(w, a); err != nil {
		return errors.Wrap(errors.ErrCodeResource, err, "encode apng")
	}
	return nil
}
