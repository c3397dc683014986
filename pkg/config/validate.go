package config

import (
	"github.com/matzehuels/animcaptcha/pkg/errors"
)

// MaxFontWeight is the heaviest accepted font weight.
const MaxFontWeight = 9

// Upper bounds on parameters that size allocations.
const (
	MaxDimension      = 8192
	MaxFrameCount     = 36000
	MaxFontSize       = 1024
	MaxDecoyCanvas    = 1024
	MaxInitialBgCount = 10000
	MaxNoiseScale     = 100
	MaxNoiseGrain     = 64
	MaxFieldBytes     = 256 << 20
)

// Validate checks every parameter and returns the first violation as a
// configuration error. It never touches the filesystem.
func (c Config) Validate() error {
	switch c.CaptchaType {
	case TypeText, TypeNoise:
	default:
		return errors.New(errors.ErrCodeInvalidType, "unknown captcha_type %q: must be text or noise", c.CaptchaType)
	}

	if c.Width <= 0 || c.Height <= 0 {
		return invalid("frame size must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Width > MaxDimension || c.Height > MaxDimension {
		return invalid("frame size %dx%d exceeds %dx%d", c.Width, c.Height, MaxDimension, MaxDimension)
	}
	if c.FPS <= 0 {
		return invalid("fps must be > 0, got %d", c.FPS)
	}
	if c.Frames < 0 {
		return invalid("frame_count must be >= 0, got %d", c.Frames)
	}
	if c.Frames == 0 && c.Duration <= 0 {
		return invalid("duration_seconds must be > 0, got %g", c.Duration)
	}
	if c.FrameCount() < 1 {
		return invalid("duration_seconds %g at %d fps yields no frames", c.Duration, c.FPS)
	}
	if n := c.FrameCount(); n > MaxFrameCount {
		return invalid("%d frames exceed the maximum of %d", n, MaxFrameCount)
	}

	if c.FontSize <= 0 || c.FontSize > MaxFontSize {
		return invalid("font_size must be in [1, %d], got %d", MaxFontSize, c.FontSize)
	}
	if c.FontWeight < 1 || c.FontWeight > MaxFontWeight {
		return invalid("font_weight must be in [1, %d], got %d", MaxFontWeight, c.FontWeight)
	}
	if c.MaxRotation < 0 || c.MaxRotation > 180 {
		return invalid("max_rotation_degrees must be in [0, 180], got %g", c.MaxRotation)
	}
	if c.MinSpacing < 0 || c.MaxSpacing < c.MinSpacing {
		return invalid("spacing range [%d, %d] is invalid", c.MinSpacing, c.MaxSpacing)
	}
	if c.BounceAmplitude < 0 {
		return invalid("bounce_amplitude must be >= 0, got %g", c.BounceAmplitude)
	}

	switch c.ColorMode {
	case ColorLight, ColorDark:
	default:
		return invalid("unknown color_mode %q: must be light or dark", c.ColorMode)
	}
	if err := errors.ValidateHexColor("background_color", c.BackgroundColor); err != nil {
		return err
	}
	if err := errors.ValidateHexColor("foreground_color", c.ForegroundColor); err != nil {
		return err
	}

	if c.BgSpawnRate < 0 {
		return invalid("bg_spawn_rate must be >= 0, got %g", c.BgSpawnRate)
	}
	if c.BgSpeedMin <= 0 || c.BgSpeedMax < c.BgSpeedMin {
		return invalid("decoy speed range [%g, %g] is invalid: min must be > 0 and <= max", c.BgSpeedMin, c.BgSpeedMax)
	}
	if c.InitialBgCount < 0 || c.InitialBgCount > MaxInitialBgCount {
		return invalid("initial_bg_count must be in [0, %d], got %d", MaxInitialBgCount, c.InitialBgCount)
	}
	if c.DecoyFontSize <= 0 || c.DecoyFontSize > MaxFontSize {
		return invalid("decoy_font_size must be in [1, %d], got %d", MaxFontSize, c.DecoyFontSize)
	}
	if c.DecoyCanvas <= 0 || c.DecoyCanvas > MaxDecoyCanvas {
		return invalid("decoy_canvas must be in [1, %d], got %d", MaxDecoyCanvas, c.DecoyCanvas)
	}

	if c.NoiseScale < 1 || c.NoiseScale > MaxNoiseScale {
		return invalid("noise_scale must be in [1, %d], got %d", MaxNoiseScale, c.NoiseScale)
	}
	if n := c.FieldBytes(); c.CaptchaType == TypeNoise && n > MaxFieldBytes {
		return invalid("noise field of %d bytes at noise_scale %d exceeds %d bytes", n, c.NoiseScale, MaxFieldBytes)
	}
	if c.NoiseGrain < 1 || c.NoiseGrain > MaxNoiseGrain {
		return invalid("noise_grain must be in [1, %d], got %d", MaxNoiseGrain, c.NoiseGrain)
	}
	if c.SpeedX < 0 || c.SpeedY < 0 {
		return invalid("noise speed must be >= 0, got (%d, %d)", c.SpeedX, c.SpeedY)
	}

	if c.ExportFPS < 0 || c.ExportFPS > 1000 {
		return invalid("export_fps must be in [0, 1000], got %d", c.ExportFPS)
	}

	switch c.ExportFormat {
	case FormatGIF, FormatAPNG, FormatMP4:
	default:
		return errors.New(errors.ErrCodeInvalidFormat, "unknown export_format %q: must be gif, apng or mp4", c.ExportFormat)
	}
	if err := errors.ValidateOutputName(c.OutputName); err != nil {
		return err
	}

	if c.CaptchaText != "" {
		return errors.ValidateCaptchaText(c.CaptchaText)
	}
	if c.TextLength < 1 || c.TextLength > 32 {
		return invalid("text_length must be in [1, 32], got %d", c.TextLength)
	}
	return nil
}

// FieldBytes returns the size of the noise field a noise session allocates:
// (width*noise_scale) x (height*noise_scale) bytes.
func (c Config) FieldBytes() int64 {
	scale := int64(max(c.NoiseScale, 1))
	return int64(c.Width) * scale * int64(c.Height) * scale
}

func invalid(format string, args ...any) error {
	return errors.New(errors.ErrCodeInvalidConfig, format, args...)
}
