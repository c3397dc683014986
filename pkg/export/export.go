package export

import (
	"bytes"
	"context"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/matzehuels/animcaptcha/internal/atomicfile"
	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// Artifact describes an exported file.
type Artifact struct {
	Path        string
	Format      string
	ContentType string
	Size        int64
}

// Exporter writes frame sequences to files.
type Exporter struct {
	Options Options
}

// New returns an exporter.
func New(opts Options) *Exporter {
	return &Exporter{Options: opts}
}

// FromConfig returns an exporter using the ffmpeg binary named in cfg.
func FromConfig(cfg config.Config) *Exporter {
	return New(Options{FFmpegPath: cfg.FFmpegPath})
}

// Encode encodes frames in memory.
func (e *Exporter) Encode(ctx context.Context, frames []*image.RGBA, format string, fps int) ([]byte, error) {
	sink, err := NewSink(format, e.Options)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := sink.Encode(ctx, &buf, frames, fps); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Export writes frames to cfg.OutputPath() in cfg.ExportFormat. The file
// only appears once encoding has fully succeeded.
func (e *Exporter) Export(ctx context.Context, frames []*image.RGBA, cfg config.Config) (*Artifact, error) {
	sink, err := NewSink(cfg.ExportFormat, e.Options)
	if err != nil {
		return nil, err
	}

	path := cfg.OutputPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "create output dir")
	}

	var cw countingWriter
	err = atomicfile.WriteFrom(path, 0o644, func(w io.Writer) error {
		cw.w = w
		return sink.Encode(ctx, &cw, frames, cfg.PlaybackFPS())
	})
	if err != nil {
		if errors.GetCode(err) == "" {
			err = errors.Wrap(errors.ErrCodeResource, err, "write %s", path)
		}
		return nil, err
	}

	return &Artifact{
		Path:        path,
		Format:      sink.Format(),
		ContentType: sink.ContentType(),
		Size:        cw.n,
	}, nil
}

// WriteBytes stores already encoded artifact data at cfg.OutputPath().
func WriteBytes(cfg config.Config, data []byte) (*Artifact, error) {
	sink, err := NewSink(cfg.ExportFormat, Options{})
	if err != nil {
		return nil, err
	}
	path := cfg.OutputPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "create output dir")
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return nil, errors.Wrap(errors.ErrCodeResource, err, "write %s", path)
	}
	return &Artifact{
		Path:        path,
		Format:      sink.Format(),
		ContentType: sink.ContentType(),
		Size:        int64(len(data)),
	}, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
