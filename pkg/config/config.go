// Package config defines the generation parameters for an animated captcha
// session: frame geometry, timing, glyph styling, decoy behavior, noise field
// motion and export destination.
//
// A Config is resolved once and treated as immutable afterwards. Files are
// TOML, decoded on top of [Default] so that partial files only override what
// they name:
//
//	captcha_type = "noise"
//	fps = 24
//	duration_seconds = 4
//	captcha_text = "AB3D9K"
package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/matzehuels/animcaptcha/internal/atomicfile"
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// Captcha variants.
const (
	TypeText  = "text"
	TypeNoise = "noise"
)

// Color modes.
const (
	ColorLight = "light"
	ColorDark  = "dark"
)

// Export formats.
const (
	FormatGIF  = "gif"
	FormatAPNG = "apng"
	FormatMP4  = "mp4"
)

// FileName is the default config file name looked up by the CLI.
const FileName = "animcaptcha.toml"

// Config holds every generation parameter. Zero values are not defaults;
// start from [Default] and override.
type Config struct {
	CaptchaType string `toml:"captcha_type" json:"captcha_type"`

	Width      int     `toml:"width" json:"width"`
	Height     int     `toml:"height" json:"height"`
	FPS        int     `toml:"fps" json:"fps"`
	Duration   float64 `toml:"duration_seconds" json:"duration_seconds"`
	Frames     int     `toml:"frame_count" json:"frame_count"` // overrides Duration when > 0

	FontSize    int     `toml:"font_size" json:"font_size"`
	FontWeight  int     `toml:"font_weight" json:"font_weight"`
	FontFile    string  `toml:"font_file" json:"-"`
	MaxRotation float64 `toml:"max_rotation_degrees" json:"max_rotation_degrees"`
	MinSpacing  int     `toml:"min_spacing" json:"min_spacing"`
	MaxSpacing  int     `toml:"max_spacing" json:"max_spacing"`

	BounceAmplitude float64 `toml:"bounce_amplitude" json:"bounce_amplitude"`
	BounceSpeed     float64 `toml:"bounce_speed" json:"bounce_speed"`

	ColorMode       string `toml:"color_mode" json:"color_mode"`
	BackgroundColor string `toml:"background_color" json:"background_color"`
	ForegroundColor string `toml:"foreground_color" json:"foreground_color"`

	BgSpawnRate    float64 `toml:"bg_spawn_rate" json:"bg_spawn_rate"`
	BgSpeedMin     float64 `toml:"bg_speed_min" json:"bg_speed_min"`
	BgSpeedMax     float64 `toml:"bg_speed_max" json:"bg_speed_max"`
	InitialBgCount int     `toml:"initial_bg_count" json:"initial_bg_count"`
	DecoyFontSize  int     `toml:"decoy_font_size" json:"decoy_font_size"`
	DecoyCanvas    int     `toml:"decoy_canvas" json:"decoy_canvas"`

	NoiseScale int `toml:"noise_scale" json:"noise_scale"`
	NoiseGrain int `toml:"noise_grain" json:"noise_grain"`
	SpeedX     int `toml:"speed_x" json:"speed_x"`
	SpeedY     int `toml:"speed_y" json:"speed_y"`

	Export       bool   `toml:"export" json:"export"`
	ExportFPS    int    `toml:"export_fps" json:"export_fps"` // playback rate; 0 = fps
	ExportFormat string `toml:"export_format" json:"export_format"`
	OutputName   string `toml:"output_name" json:"output_name"`
	OutputDir    string `toml:"output_dir" json:"-"`
	FFmpegPath   string `toml:"ffmpeg_path" json:"-"`

	CaptchaText string `toml:"captcha_text" json:"captcha_text"` // empty = random
	TextLength  int    `toml:"text_length" json:"text_length"`
	Seed        uint64 `toml:"seed" json:"seed"` // 0 = fresh seed per session
}

// Default returns the stock configuration: a 10 second, 500x160 text captcha
// at 30 fps exported as a GIF named "captcha".
func Default() Config {
	return Config{
		CaptchaType: TypeText,

		Width:    500,
		Height:   160,
		FPS:      30,
		Duration: 10,

		FontSize:    64,
		FontWeight:  2,
		MaxRotation: 15,
		MinSpacing:  2,
		MaxSpacing:  6,

		BounceAmplitude: 8,
		BounceSpeed:     2.0,

		ColorMode: ColorLight,

		BgSpawnRate:    10,
		BgSpeedMin:     0.6,
		BgSpeedMax:     2.0,
		InitialBgCount: 25,
		DecoyFontSize:  28,
		DecoyCanvas:    50,

		NoiseScale: 10,
		NoiseGrain: 1,
		SpeedX:     1,
		SpeedY:     0,

		Export:       true,
		ExportFormat: FormatGIF,
		OutputName:   "captcha",
		OutputDir:    ".",
		FFmpegPath:   "ffmpeg",

		TextLength: 6,
	}
}

// Load reads a TOML file on top of [Default] and validates the result.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, errors.Wrap(errors.ErrCodeResource, err, "read config %s", path)
	}

	if err := Decode(data, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode overlays TOML data onto cfg and rejects unknown keys.
func Decode(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse config")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "unknown config key %q", undecoded[0].String())
	}
	return nil
}

// Save writes the config as TOML using an atomic file write.
func (c Config) Save(path string) error {
	data, err := c.Marshal()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(errors.ErrCodeResource, err, "create config dir")
		}
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeResource, err, "write config %s", path)
	}
	return nil
}

// Marshal encodes the config as TOML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "encode config")
	}
	return buf.Bytes(), nil
}

// FrameCount returns the number of frames a session produces:
// Frames when set, otherwise round(Duration * FPS).
func (c Config) FrameCount() int {
	if c.Frames > 0 {
		return c.Frames
	}
	return int(math.Round(c.Duration * float64(c.FPS)))
}

// PlaybackFPS returns the rate the exported clip plays at: ExportFPS when
// set, otherwise the generation rate. A lower rate plays every frame slower.
func (c Config) PlaybackFPS() int {
	if c.ExportFPS > 0 {
		return c.ExportFPS
	}
	return c.FPS
}

// Ext returns the file extension for the export format.
func (c Config) Ext() string {
	if c.ExportFormat == FormatAPNG {
		return "png"
	}
	return c.ExportFormat
}

// OutputPath returns <output_dir>/<output_name>.<ext>.
func (c Config) OutputPath() string {
	dir := c.OutputDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fmt.Sprintf("%s.%s", c.OutputName, c.Ext()))
}
