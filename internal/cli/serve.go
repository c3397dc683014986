package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/matzehuels/animcaptcha/internal/server"
	"github.com/matzehuels/animcaptcha/pkg/cache"
	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

type serveOpts struct {
	addr       string
	configPath string
	redisURL   string
	noCache    bool
	limits     server.Limits
}

// serveCommand creates the serve command for running the HTTP API.
func (c *CLI) serveCommand() *cobra.Command {
	opts := &serveOpts{limits: server.DefaultLimits}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP generation API",
		Long: `Serve captchas over HTTP. Requests start from the loaded configuration
and may override any generation parameter within the configured limits.

Seeded artifacts are cached in Redis when --redis-url is set, otherwise in
the local artifact cache.`,
		Example: `  animcaptcha serve --addr :8080
  animcaptcha serve --redis-url redis://localhost:6379/0

  curl -sD- localhost:8080/v1/captchas/gif -o captcha.gif`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", ":8080", "listen address")
	f.StringVarP(&opts.configPath, "config", "c", "", "base config file (default ./"+config.FileName+")")
	f.StringVar(&opts.redisURL, "redis-url", "", "cache artifacts in Redis (redis://host:port/db)")
	f.BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")
	f.IntVar(&opts.limits.MaxWidth, "max-width", opts.limits.MaxWidth, "largest frame width a request may ask for")
	f.IntVar(&opts.limits.MaxHeight, "max-height", opts.limits.MaxHeight, "largest frame height a request may ask for")
	f.IntVar(&opts.limits.MaxFrames, "max-frames", opts.limits.MaxFrames, "most frames a request may ask for")
	f.IntVar(&opts.limits.MaxNoiseScale, "max-noise-scale", opts.limits.MaxNoiseScale, "largest noise_scale a request may ask for")
	f.IntVar(&opts.limits.MaxFontSize, "max-font-size", opts.limits.MaxFontSize, "largest glyph or decoy font size a request may ask for")
	f.IntVar(&opts.limits.MaxDecoyCanvas, "max-decoy-canvas", opts.limits.MaxDecoyCanvas, "largest decoy_canvas a request may ask for")
	f.IntVar(&opts.limits.MaxInitialDecoys, "max-initial-decoys", opts.limits.MaxInitialDecoys, "largest initial_bg_count a request may ask for")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, opts *serveOpts) error {
	base, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	runner, err := c.newServeRunner(ctx, opts)
	if err != nil {
		return err
	}
	defer runner.Close()

	printInfo("Serving on %s", opts.addr)
	srv := server.New(runner, base, opts.limits, c.Logger)
	return srv.ListenAndServe(ctx, opts.addr)
}

// newServeRunner picks the cache backend: Redis, the local file cache, or none.
func (c *CLI) newServeRunner(ctx context.Context, opts *serveOpts) (*pipeline.Runner, error) {
	if opts.redisURL == "" || opts.noCache {
		return c.newRunner(opts.noCache)
	}

	rc, err := cache.NewRedisCache(ctx, opts.redisURL)
	if err != nil {
		return nil, err
	}
	c.Logger.Info("using redis cache", "url", opts.redisURL)
	return pipeline.NewRunner(rc, cache.NewScopedKeyer(nil, "api:"), c.Logger), nil
}
