package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// lumberjack starts its mill goroutine once per Logger and never stops it.
		goleak.IgnoreAnyFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

// smallConfig writes a fast-rendering config file and returns its path.
func smallConfig(t *testing.T) string {
	t.Helper()
	cfg := config.Default()
	cfg.Width, cfg.Height = 320, 96
	cfg.FontSize = 32
	cfg.DecoyFontSize = 16
	cfg.DecoyCanvas = 28
	cfg.InitialBgCount = 5
	cfg.FPS = 10
	cfg.Duration = 0.5
	path := filepath.Join(t.TempDir(), "small.toml")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	return path
}

// readManifest decodes a manifest written by a batch run.
func readManifest(path string) (Manifest, error) {
	var m Manifest
	_, err := toml.DecodeFile(path, &m)
	return m, err
}

// run executes the root command with args and returns what it wrote through
// cobra's output writer.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CACHE_HOME", t.TempDir())

	var out bytes.Buffer
	root := New(io.Discard, LogInfo).RootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommandSubcommands(t *testing.T) {
	root := New(io.Discard, LogInfo).RootCommand()

	var got []string
	for _, cmd := range root.Commands() {
		got = append(got, cmd.Name())
	}
	for _, want := range []string{"batch", "cache", "completion", "config", "generate", "serve"} {
		found := false
		for _, name := range got {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered (have %v)", want, got)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", config.FileName)

	if _, err := run(t, "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := run(t, "config", "init", path); err == nil {
		t.Error("config init over an existing file should fail without --force")
	}
	if _, err := run(t, "config", "init", "--force", path); err != nil {
		t.Errorf("config init --force: %v", err)
	}

	out, err := run(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	var cfg config.Config
	if err := config.Decode([]byte(out), &cfg); err != nil {
		t.Fatalf("config show output does not decode: %v\n%s", err, out)
	}
	if diff := cmp.Diff(config.Default(), cfg); diff != "" {
		t.Errorf("config show mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigShowMissingExplicitFile(t *testing.T) {
	_, err := run(t, "config", "show", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected error for a missing --config file")
	}
}

func TestGenerateWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	cfgPath := smallConfig(t)

	tests := []struct {
		name   string
		args   []string
		output string
	}{
		{"gif default", []string{"--seed", "42", "-d", dir}, "captcha.gif"},
		{"apng by extension", []string{"--seed", "42", "-o", filepath.Join(dir, "clip.png")}, "clip.png"},
		{"noise dark", []string{"--type", "noise", "--dark", "-o", filepath.Join(dir, "noise.gif")}, "noise.gif"},
		{"fixed text", []string{"--text", "ab3d9k", "--fps", "5", "-o", filepath.Join(dir, "text.gif")}, "text.gif"},
		{"slowed playback", []string{"--seed", "3", "--export-fps", "2", "-o", filepath.Join(dir, "slow.gif")}, "slow.gif"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"generate", "--config", cfgPath}, tt.args...)
			if _, err := run(t, args...); err != nil {
				t.Fatalf("generate: %v", err)
			}
			info, err := os.Stat(filepath.Join(dir, tt.output))
			if err != nil {
				t.Fatalf("artifact missing: %v", err)
			}
			if info.Size() == 0 {
				t.Error("artifact is empty")
			}
		})
	}
}

func TestGenerateNoExport(t *testing.T) {
	dir := t.TempDir()
	if _, err := run(t, "generate", "--config", smallConfig(t), "--no-export", "-d", dir); err != nil {
		t.Fatalf("generate --no-export: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("--no-export wrote %d files", len(entries))
	}
}

func TestGenerateRejectsBadFlags(t *testing.T) {
	cfgPath := smallConfig(t)

	tests := []struct {
		name string
		args []string
		code errors.Code
	}{
		{"unknown type", []string{"--type", "audio"}, errors.ErrCodeInvalidType},
		{"unknown format", []string{"--format", "webm"}, errors.ErrCodeInvalidFormat},
		{"unknown extension", []string{"-o", "out.webm"}, errors.ErrCodeInvalidFormat},
		{"zero fps", []string{"--fps", "0"}, errors.ErrCodeInvalidConfig},
		{"negative export fps", []string{"--export-fps", "-5"}, errors.ErrCodeInvalidConfig},
		{"directory output", []string{"-o", "out/"}, errors.ErrCodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"generate", "--config", cfgPath, "-d", t.TempDir()}, tt.args...)
			_, err := run(t, args...)
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("code = %q, want %q (err: %v)", got, tt.code, err)
			}
		})
	}
}

func TestApplyOutput(t *testing.T) {
	tests := []struct {
		path       string
		infer      bool
		wantDir    string
		wantName   string
		wantFormat string
	}{
		{"out/a.gif", true, "out", "a", config.FormatGIF},
		{"b.png", true, ".", "b", config.FormatAPNG},
		{"c.MP4", true, ".", "c", config.FormatMP4},
		{"d.png", false, ".", "d", config.FormatGIF},
		{"noext", true, ".", "noext", config.FormatGIF},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			cfg := config.Default()
			if err := applyOutput(&cfg, tt.path, tt.infer); err != nil {
				t.Fatal(err)
			}
			got := []string{cfg.OutputDir, cfg.OutputName, cfg.ExportFormat}
			want := []string{tt.wantDir, tt.wantName, tt.wantFormat}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("applyOutput(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestBatchPlainWritesManifest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "batch")
	_, err := run(t, "batch", "--config", smallConfig(t), "--plain",
		"-n", "3", "--concurrency", "2", "--seed", "5", "-d", dir)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	m, err := readManifest(filepath.Join(dir, ManifestName))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Captchas) != 3 {
		t.Fatalf("manifest has %d captchas, want 3", len(m.Captchas))
	}
	ids := map[string]bool{}
	for i, e := range m.Captchas {
		if e.Seed != uint64(5+i) {
			t.Errorf("captcha %d seed = %d, want %d", i, e.Seed, 5+i)
		}
		if len(e.Text) != config.Default().TextLength {
			t.Errorf("captcha %d text %q has wrong length", i, e.Text)
		}
		if !strings.HasPrefix(e.File, e.ID) {
			t.Errorf("captcha %d file %q not named after id %q", i, e.File, e.ID)
		}
		if _, err := os.Stat(filepath.Join(dir, e.File)); err != nil {
			t.Errorf("captcha %d: %v", i, err)
		}
		ids[e.ID] = true
	}
	if len(ids) != 3 {
		t.Errorf("ids not unique: %v", ids)
	}
}

func TestBatchReproducibleText(t *testing.T) {
	cfgPath := smallConfig(t)
	texts := func() []string {
		dir := t.TempDir()
		if _, err := run(t, "batch", "--config", cfgPath, "--plain", "-n", "2", "--seed", "99", "-d", dir); err != nil {
			t.Fatalf("batch: %v", err)
		}
		m, err := readManifest(filepath.Join(dir, ManifestName))
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, e := range m.Captchas {
			out = append(out, e.Text)
		}
		return out
	}
	if diff := cmp.Diff(texts(), texts()); diff != "" {
		t.Errorf("seeded batches differ (-first +second):\n%s", diff)
	}
}

func TestBatchRejectsBadCount(t *testing.T) {
	for _, args := range [][]string{{"-n", "0"}, {"--concurrency", "0"}} {
		_, err := run(t, append([]string{"batch", "--plain", "-d", t.TempDir()}, args...)...)
		if !errors.IsConfigurationError(err) {
			t.Errorf("batch %v: err = %v, want configuration error", args, err)
		}
	}
}

func TestBatchCancelled(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg, err := loadConfig(smallConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	cfg.OutputDir = t.TempDir()

	c := New(io.Discard, LogInfo)
	runner, err := c.newRunner(true)
	if err != nil {
		t.Fatal(err)
	}
	defer runner.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := &batch{runner: runner, base: cfg, count: 4, concurrency: 2}
	if _, err := b.run(ctx, func(batchEvent) {}); err == nil {
		t.Error("cancelled batch returned no error")
	}
}
