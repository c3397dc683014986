package export

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// DefaultFFmpeg is the ffmpeg binary looked up on PATH.
const DefaultFFmpeg = "ffmpeg"

// MP4 encodes frames as H.264 in a fragmented MP4 container through ffmpeg.
type MP4 struct {
	FFmpegPath string
}

func (MP4) Format() string      { return "mp4" }
func (MP4) Ext() string         { return "mp4" }
func (MP4) ContentType() string { return "video/mp4" }

// Encode opens one video writer, appends every frame in order and closes the
// writer exactly once, also when a write fails.
func (m MP4) Encode(ctx context.Context, w io.Writer, frames []*image.RGBA, fps int) (err error) {
	if err := checkFrames(frames, fps); err != nil {
		return err
	}

	size := frames[0].Bounds().Size()
	vw, err := OpenVideo(ctx, m.FFmpegPath, w, size.X, size.Y, fps)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := vw.Close(); err == nil {
			err = cerr
		}
	}()

	for _, f := range frames {
		if err := vw.WriteFrame(f); err != nil {
			return err
		}
	}
	return nil
}

// VideoWriter streams raw RGBA frames into an ffmpeg process.
type VideoWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr bytes.Buffer
	width  int
	height int
	frames int

	closeOnce sync.Once
	closeErr  error
}

// OpenVideo starts ffmpeg reading width x height RGBA frames at fps from
// stdin and writing fragmented MP4 to w. Odd dimensions are padded to even,
// as yuv420p requires.
func OpenVideo(ctx context.Context, ffmpeg string, w io.Writer, width, height, fps int) (*VideoWriter, error) {
	if ffmpeg == "" {
		ffmpeg = DefaultFFmpeg
	}
	path, err := exec.LookPath(ffmpeg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "mp4 export requires ffmpeg. Install with:\n  macOS:  brew install ffmpeg\n  Linux:  apt install ffmpeg")
	}

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-movflags", "frag_keyframe+empty_moov",
		"-f", "mp4", "pipe:1",
	}

	vw := &VideoWriter{width: width, height: height}
	vw.cmd = exec.CommandContext(ctx, path, args...)
	vw.cmd.Stdout = w
	vw.cmd.Stderr = &vw.stderr

	if vw.stdin, err = vw.cmd.StdinPipe(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "open ffmpeg stdin")
	}
	if err := vw.cmd.Start(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "start ffmpeg")
	}
	return vw, nil
}

// WriteFrame appends one frame. Frames must match the writer's size.
func (v *VideoWriter) WriteFrame(f *image.RGBA) error {
	b := f.Bounds()
	if b.Dx() != v.width || b.Dy() != v.height {
		return errors.New(errors.ErrCodeInternal, "frame %d is %dx%d, writer expects %dx%d", v.frames, b.Dx(), b.Dy(), v.width, v.height)
	}

	rowLen := 4 * v.width
	if f.Stride == rowLen {
		if _, err := v.stdin.Write(f.Pix[f.PixOffset(b.Min.X, b.Min.Y):][:rowLen*v.height]); err != nil {
			return v.writeErr(err)
		}
	} else {
		for y := b.Min.Y; y < b.Max.Y; y++ {
			if _, err := v.stdin.Write(f.Pix[f.PixOffset(b.Min.X, y):][:rowLen]); err != nil {
				return v.writeErr(err)
			}
		}
	}
	v.frames++
	return nil
}

// Close finishes the stream and waits for ffmpeg. Only the first call does
// any work; later calls return the same result.
func (v *VideoWriter) Close() error {
	v.closeOnce.Do(func() {
		cerr := v.stdin.Close()
		if err := v.cmd.Wait(); err != nil {
			v.closeErr = errors.Wrap(errors.ErrCodeResource, err, "ffmpeg: %s", strings.TrimSpace(v.stderr.String()))
			return
		}
		if cerr != nil {
			v.closeErr = errors.Wrap(errors.ErrCodeResource, cerr, "close ffmpeg stdin")
		}
	})
	return v.closeErr
}

func (v *VideoWriter) writeErr(err error) error {
	return errors.Wrap(errors.ErrCodeResource, err, "write frame %d to ffmpeg", v.frames)
}
