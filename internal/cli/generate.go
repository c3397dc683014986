package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

// generateOpts holds the generate command flags. Only flags the user set
// override the loaded configuration.
type generateOpts struct {
	configPath  string
	captchaType string
	text        string
	seed        uint64
	format      string
	output      string
	outDir      string
	fps         int
	exportFPS   int
	duration    float64
	width       int
	height      int
	dark        bool
	noExport    bool
	noCache     bool
	font        string
}

// generateCommand creates the generate command for rendering a single captcha.
func (c *CLI) generateCommand() *cobra.Command {
	opts := &generateOpts{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Render one animated captcha",
		Long: `Render one animated captcha and print its ground-truth text.

Settings are read from animcaptcha.toml in the working directory (or --config)
and overridden by flags. With --seed the output is reproducible and cached.`,
		Example: `  # Random six-character text captcha as captcha.gif
  animcaptcha generate

  # Reproducible noise captcha written as an animated PNG
  animcaptcha generate --type noise --seed 42 -o out/noise.png

  # Fixed text, dark palette, two seconds at 24 fps
  animcaptcha generate --text AB3D9K --dark --fps 24 --duration 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return c.runGenerate(cmd.Context(), cfg, opts.noCache)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./"+config.FileName+")")
	f.StringVarP(&opts.captchaType, "type", "t", "", "captcha type: text or noise")
	f.StringVar(&opts.text, "text", "", "captcha text (default: random)")
	f.Uint64Var(&opts.seed, "seed", 0, "random seed; fixes text and motion")
	f.StringVarP(&opts.format, "format", "f", "", "export format: gif, apng or mp4")
	f.StringVarP(&opts.output, "output", "o", "", "output file; the extension selects the format")
	f.StringVarP(&opts.outDir, "out-dir", "d", "", "output directory")
	f.IntVar(&opts.fps, "fps", 0, "frames per second")
	f.IntVar(&opts.exportFPS, "export-fps", 0, "playback rate of the exported clip (default: --fps)")
	f.Float64Var(&opts.duration, "duration", 0, "clip length in seconds")
	f.IntVar(&opts.width, "width", 0, "frame width in pixels")
	f.IntVar(&opts.height, "height", 0, "frame height in pixels")
	f.BoolVar(&opts.dark, "dark", false, "light glyphs on a dark background")
	f.BoolVar(&opts.noExport, "no-export", false, "render frames without writing a file")
	f.BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	f.StringVar(&opts.font, "font", "", "TTF/OTF font file (default: embedded)")

	_ = cmd.RegisterFlagCompletionFunc("type", cobra.FixedCompletions(
		[]string{config.TypeText, config.TypeNoise}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(
		[]string{config.FormatGIF, config.FormatAPNG, config.FormatMP4}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// resolve loads the config file and applies the flags the user set.
func (o *generateOpts) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("type") {
		cfg.CaptchaType = o.captchaType
	}
	if changed("text") {
		cfg.CaptchaText = o.text
	}
	if changed("seed") {
		cfg.Seed = o.seed
	}
	if changed("output") {
		if err := applyOutput(&cfg, o.output, !changed("format")); err != nil {
			return cfg, err
		}
	}
	if changed("format") {
		cfg.ExportFormat = o.format
	}
	if changed("out-dir") {
		cfg.OutputDir = o.outDir
	}
	if changed("fps") {
		cfg.FPS = o.fps
	}
	if changed("export-fps") {
		cfg.ExportFPS = o.exportFPS
	}
	if changed("duration") {
		cfg.Duration = o.duration
		cfg.Frames = 0
	}
	if changed("width") {
		cfg.Width = o.width
	}
	if changed("height") {
		cfg.Height = o.height
	}
	if changed("dark") && o.dark {
		cfg.ColorMode = config.ColorDark
	}
	if o.noExport {
		cfg.Export = false
	}
	if changed("font") {
		cfg.FontFile = o.font
	}

	return cfg, cfg.Validate()
}

// applyOutput splits an output path into directory, name and, when
// inferFormat is set, the export format implied by its extension.
func applyOutput(cfg *config.Config, path string, inferFormat bool) error {
	dir, file := filepath.Split(path)
	if file == "" {
		return errors.New(errors.ErrCodeInvalidConfig, "output %q names a directory, not a file", path)
	}
	if dir != "" {
		cfg.OutputDir = filepath.Clean(dir)
	}

	ext := filepath.Ext(file)
	cfg.OutputName = strings.TrimSuffix(file, ext)
	if !inferFormat || ext == "" {
		return nil
	}
	format, ok := formatForExt(ext)
	if !ok {
		return errors.New(errors.ErrCodeInvalidFormat, "cannot infer export format from %q; use --format", ext)
	}
	cfg.ExportFormat = format
	return nil
}

func formatForExt(ext string) (string, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "gif":
		return config.FormatGIF, true
	case "png", "apng":
		return config.FormatAPNG, true
	case "mp4":
		return config.FormatMP4, true
	}
	return "", false
}

// runGenerate renders cfg with a frame-counting spinner and prints the result.
func (c *CLI) runGenerate(ctx context.Context, cfg config.Config, noCache bool) error {
	runner, err := c.newRunner(noCache)
	if err != nil {
		return err
	}
	defer runner.Close()

	total := cfg.FrameCount()
	spinner := newSpinnerWithContext(ctx, fmt.Sprintf("Rendering %s captcha (0/%d frames)", cfg.CaptchaType, total))
	spinner.Start()

	res, err := runner.ExecuteWithProgress(ctx, cfg, func(done, total int) {
		spinner.SetMessage("Rendering %s captcha (%d/%d frames)", cfg.CaptchaType, done, total)
	})
	if err != nil {
		spinner.Stop()
		if res != nil && errors.IsResourceError(err) {
			printWarning("Rendered %d frames but could not write %s", res.Stats.Frames, res.Config.OutputPath())
		}
		return err
	}

	spinner.StopWithSuccess(fmt.Sprintf("Generated %s captcha", res.Config.CaptchaType))
	printGenerateResult(res)
	return nil
}

func printGenerateResult(res *pipeline.Result) {
	printKeyValue("Text", StyleHighlight.Render(res.Text))
	printKeyValue("Seed", fmt.Sprintf("%d", res.Seed()))
	printStats(res.Stats.Frames, res.Stats.PeakDecoys, res.Stats.Bytes, res.CacheInfo.Hit)
	if res.Artifact != nil {
		printFile(res.Artifact.Path)
		return
	}
	printNewline()
	printNextStep("Write it to disk", fmt.Sprintf("%s generate --seed %d", appName, res.Seed()))
}
