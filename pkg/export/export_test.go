package export

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// fakeFFmpegEnv turns the test binary into a stand-in for ffmpeg: it copies
// stdin to stdout, or fails with a message on stderr.
const fakeFFmpegEnv = "ANIMCAPTCHA_FAKE_FFMPEG"

func TestMain(m *testing.M) {
	switch os.Getenv(fakeFFmpegEnv) {
	case "copy":
		io.Copy(os.Stdout, os.Stdin)
		os.Exit(0)
	case "fail":
		io.Copy(io.Discard, os.Stdin)
		os.Stderr.WriteString("Unknown encoder 'libx264'\n")
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func twoColorFrames(n, w, h int) []*image.RGBA {
	bg := color.RGBA{255, 255, 255, 255}
	fg := color.RGBA{0, 0, 0, 255}
	frames := make([]*image.RGBA, n)
	for i := range frames {
		f := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				if (x+i)%4 == 0 {
					f.SetRGBA(x, y, fg)
				} else {
					f.SetRGBA(x, y, bg)
				}
			}
		}
		frames[i] = f
	}
	return frames
}

func noisyFrame(w, h int) *image.RGBA {
	f := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.SetRGBA(x, y, color.RGBA{uint8(x * 7), uint8(y * 13), uint8(x ^ y), 255})
		}
	}
	return f
}

func TestNewSink(t *testing.T) {
	tests := []struct {
		format  string
		ext     string
		wantErr bool
	}{
		{"gif", "gif", false},
		{"apng", "png", false},
		{"mp4", "mp4", false},
		{"webm", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			s, err := NewSink(tt.format, Options{})
			if tt.wantErr {
				if !errors.Is(err, errors.ErrCodeInvalidFormat) {
					t.Fatalf("NewSink(%q) error = %v, want INVALID_FORMAT", tt.format, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSink(%q): %v", tt.format, err)
			}
			if s.Ext() != tt.ext {
				t.Errorf("Ext() = %q, want %q", s.Ext(), tt.ext)
			}
		})
	}
}

func TestDelayCentiseconds(t *testing.T) {
	tests := map[int]int{30: 3, 25: 4, 10: 10, 60: 2, 200: 1, 1000: 1, 0: 1}
	for fps, want := range tests {
		if got := DelayCentiseconds(fps); got != want {
			t.Errorf("DelayCentiseconds(%d) = %d, want %d", fps, got, want)
		}
	}
}

func TestGIFRoundTrip(t *testing.T) {
	frames := twoColorFrames(6, 40, 20)
	var buf bytes.Buffer
	if err := (GIF{}).Encode(context.Background(), &buf, frames, 30); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	g, err := gif.DecodeAll(&buf)
	if err != nil {
		t.Fatalf("DecodeAll: %v", err)
	}
	if len(g.Image) != len(frames) {
		t.Fatalf("decoded %d frames, want %d", len(g.Image), len(frames))
	}
	if g.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0 (forever)", g.LoopCount)
	}
	for i, d := range g.Delay {
		if d != 3 {
			t.Errorf("frame %d delay = %d, want 3", i, d)
		}
	}

	// Two-color frames survive exactly.
	for i, img := range g.Image {
		for y := 0; y < 20; y++ {
			for x := 0; x < 40; x++ {
				want := frames[i].RGBAAt(x, y)
				r, gr, b, _ := img.At(x, y).RGBA()
				got := color.RGBA{uint8(r >> 8), uint8(gr >> 8), uint8(b >> 8), 255}
				if got != want {
					t.Fatalf("frame %d (%d,%d) = %v, want %v", i, x, y, got, want)
				}
			}
		}
	}
}

func TestPalettize(t *testing.T) {
	t.Run("exact", func(t *testing.T) {
		f := twoColorFrames(1, 8, 8)[0]
		p := Palettize(f)
		want := []color.Color{color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255}}
		if diff := cmp.Diff(want, []color.Color(p.Palette)); diff != "" {
			t.Errorf("palette mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("dithered", func(t *testing.T) {
		f := noisyFrame(64, 64)
		p := Palettize(f)
		if len(p.Palette) != 256 {
			t.Errorf("palette size = %d, want Plan9's 256", len(p.Palette))
		}
		if p.Bounds() != f.Bounds() {
			t.Errorf("bounds = %v, want %v", p.Bounds(), f.Bounds())
		}
	})
}

func TestAPNGSignature(t *testing.T) {
	var buf bytes.Buffer
	if err := (APNG{}).Encode(context.Background(), &buf, twoColorFrames(3, 16, 16), 10); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	sig := []byte("\x89PNG\r\n\x1a\n")
	if !bytes.HasPrefix(buf.Bytes(), sig) {
		t.Fatalf("output does not start with the PNG signature")
	}
	if !bytes.Contains(buf.Bytes(), []byte("acTL")) {
		t.Errorf("output has no acTL chunk")
	}
}

func TestEncodeRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer

	if err := (GIF{}).Encode(ctx, &buf, nil, 30); !errors.IsConfigurationError(err) {
		t.Errorf("empty frames: error = %v, want configuration error", err)
	}
	if err := (GIF{}).Encode(ctx, &buf, twoColorFrames(1, 4, 4), 0); !errors.IsConfigurationError(err) {
		t.Errorf("fps 0: error = %v, want configuration error", err)
	}
	mixed := append(twoColorFrames(1, 4, 4), twoColorFrames(1, 5, 4)...)
	if err := (APNG{}).Encode(ctx, &buf, mixed, 30); err == nil {
		t.Error("mixed frame sizes: expected error")
	}
}

func TestMP4MissingFFmpeg(t *testing.T) {
	m := MP4{FFmpegPath: filepath.Join(t.TempDir(), "no-such-ffmpeg")}
	err := m.Encode(context.Background(), io.Discard, twoColorFrames(2, 8, 8), 30)
	if !errors.IsResourceError(err) {
		t.Fatalf("error = %v, want resource error", err)
	}
}

func TestMP4StreamsRawFrames(t *testing.T) {
	t.Setenv(fakeFFmpegEnv, "copy")
	frames := twoColorFrames(4, 10, 6)

	var buf bytes.Buffer
	if err := (MP4{FFmpegPath: os.Args[0]}).Encode(context.Background(), &buf, frames, 30); err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var want []byte
	for _, f := range frames {
		want = append(want, f.Pix...)
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("ffmpeg received %d bytes, want %d raw RGBA bytes", buf.Len(), len(want))
	}
}

func TestVideoWriterCloseOnce(t *testing.T) {
	t.Setenv(fakeFFmpegEnv, "fail")

	vw, err := OpenVideo(context.Background(), os.Args[0], io.Discard, 8, 8, 30)
	if err != nil {
		t.Fatalf("OpenVideo: %v", err)
	}
	// Writes may or may not race the process exit; Close reports the failure.
	_ = vw.WriteFrame(twoColorFrames(1, 8, 8)[0])

	first := vw.Close()
	if !errors.IsResourceError(first) {
		t.Fatalf("Close() = %v, want resource error", first)
	}
	if second := vw.Close(); second != first {
		t.Errorf("second Close() = %v, want the first result %v", second, first)
	}
}

func TestVideoWriterFrameSize(t *testing.T) {
	t.Setenv(fakeFFmpegEnv, "copy")

	vw, err := OpenVideo(context.Background(), os.Args[0], io.Discard, 8, 8, 30)
	if err != nil {
		t.Fatalf("OpenVideo: %v", err)
	}
	defer vw.Close()

	if err := vw.WriteFrame(twoColorFrames(1, 9, 8)[0]); err == nil {
		t.Error("expected size mismatch error")
	}
	if vw.frames != 0 {
		t.Errorf("%d frames counted after a rejected write, want 0", vw.frames)
	}
}

func TestMP4WithRealFFmpeg(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	var buf bytes.Buffer
	if err := (MP4{}).Encode(context.Background(), &buf, twoColorFrames(10, 33, 17), 10); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Contains(buf.Bytes()[:min(64, buf.Len())], []byte("ftyp")) {
		t.Errorf("output has no ftyp box")
	}
}

func TestExporterExport(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = filepath.Join(t.TempDir(), "out")
	cfg.OutputName = "captcha"
	cfg.ExportFormat = config.FormatGIF
	cfg.FPS = 25

	art, err := New(Options{}).Export(context.Background(), twoColorFrames(5, 20, 10), cfg)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if want := filepath.Join(cfg.OutputDir, "captcha.gif"); art.Path != want {
		t.Errorf("Path = %q, want %q", art.Path, want)
	}
	info, err := os.Stat(art.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != art.Size {
		t.Errorf("Size = %d, file has %d bytes", art.Size, info.Size())
	}
	if art.ContentType != "image/gif" {
		t.Errorf("ContentType = %q", art.ContentType)
	}
}

func TestExporterPlaybackRate(t *testing.T) {
	tests := []struct {
		name      string
		fps       int
		exportFPS int
		wantDelay int
	}{
		{"generation rate", 30, 0, 3},
		{"slower playback", 30, 15, 7},
		{"faster playback", 10, 50, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.OutputDir = t.TempDir()
			cfg.OutputName = "clip"
			cfg.ExportFormat = config.FormatGIF
			cfg.FPS = tt.fps
			cfg.ExportFPS = tt.exportFPS

			art, err := New(Options{}).Export(context.Background(), twoColorFrames(4, 12, 8), cfg)
			if err != nil {
				t.Fatalf("Export: %v", err)
			}
			f, err := os.Open(art.Path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			g, err := gif.DecodeAll(f)
			if err != nil {
				t.Fatalf("DecodeAll: %v", err)
			}
			for i, d := range g.Delay {
				if d != tt.wantDelay {
					t.Errorf("frame %d delay = %d, want %d", i, d, tt.wantDelay)
				}
			}
		})
	}
}

func TestExporterUnwritableDestination(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.OutputDir = filepath.Join(blocker, "sub")
	cfg.ExportFormat = config.FormatAPNG

	frames := twoColorFrames(2, 8, 8)
	_, err := New(Options{}).Export(context.Background(), frames, cfg)
	if !errors.IsResourceError(err) {
		t.Fatalf("error = %v, want resource error", err)
	}

	// Frames are untouched and a retry elsewhere succeeds.
	cfg.OutputDir = dir
	if _, err := New(Options{}).Export(context.Background(), frames, cfg); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestExporterFailedEncodeLeavesNoFile(t *testing.T) {
	t.Setenv(fakeFFmpegEnv, "fail")

	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.ExportFormat = config.FormatMP4

	_, err := New(Options{FFmpegPath: os.Args[0]}).Export(context.Background(), twoColorFrames(2, 8, 8), cfg)
	if !errors.IsResourceError(err) {
		t.Fatalf("error = %v, want resource error", err)
	}
	entries, _ := os.ReadDir(cfg.OutputDir)
	if len(entries) != 0 {
		t.Errorf("output dir has %d entries after failed export, want 0", len(entries))
	}
}

func TestEncodeInMemory(t *testing.T) {
	data, err := New(Options{}).Encode(context.Background(), twoColorFrames(2, 8, 8), "gif", 30)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("GIF89a")) {
		t.Errorf("missing GIF89a header")
	}
	if _, err := New(Options{}).Encode(context.Background(), nil, "bmp", 30); !errors.Is(err, errors.ErrCodeInvalidFormat) {
		t.Errorf("bmp: error = %v, want INVALID_FORMAT", err)
	}
}
