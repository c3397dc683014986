package pipeline

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/animcaptcha/pkg/cache"
	"github.com/matzehuels/animcaptcha/pkg/compositor"
	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/export"
	"github.com/matzehuels/animcaptcha/pkg/fonts"
	"github.com/matzehuels/animcaptcha/pkg/glyph"
	"github.com/matzehuels/animcaptcha/pkg/observability"
)

// Runner encapsulates pipeline execution with caching.
// Both CLI and API use this to avoid duplicating caching logic.
//
// A Runner holds no per-session state besides one glyph rasterizer per font
// file, shared by every session it runs. Multiple goroutines can safely use
// the same Runner with different configs.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger

	mu          sync.Mutex
	rasterizers map[string]*glyph.Rasterizer
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cache:       c,
		Keyer:       keyer,
		Logger:      logger,
		rasterizers: make(map[string]*glyph.Rasterizer),
	}
}

// Execute generates cfg and, when cfg.Export is set, writes the artifact.
// Seeded runs are served from and stored into the cache.
func (r *Runner) Execute(ctx context.Context, cfg config.Config) (*Result, error) {
	return r.ExecuteWithProgress(ctx, cfg, nil)
}

// ExecuteWithProgress is Execute with a per-frame progress callback. The
// callback is not invoked when the artifact comes from the cache.
func (r *Runner) ExecuteWithProgress(ctx context.Context, cfg config.Config, progress func(done, total int)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Export {
		return r.GenerateWithProgress(ctx, cfg, progress)
	}

	var (
		res *Result
		err error
	)
	if cfg.Seed != 0 {
		res, err = r.build(ctx, cfg, progress)
	} else {
		res, err = r.GenerateWithProgress(ctx, cfg, progress)
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Export(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// Build returns a result carrying encoded artifact bytes in
// cfg.ExportFormat, from the cache when possible.
func (r *Runner) Build(ctx context.Context, cfg config.Config) (*Result, error) {
	return r.build(ctx, cfg, nil)
}

func (r *Runner) build(ctx context.Context, cfg config.Config, progress func(done, total int)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	key, err := r.ArtifactKey(cfg)
	if err != nil {
		return nil, err
	}
	if key != "" {
		if res, ok := r.lookup(ctx, key, cfg); ok {
			return res, nil
		}
		observability.Cache().OnCacheMiss(ctx, "artifact")
	}

	res, err := r.GenerateWithProgress(ctx, cfg, progress)
	if err != nil {
		return nil, err
	}
	if _, err := r.Encode(ctx, res); err != nil {
		return res, err
	}
	return res, nil
}

// Generate runs one session and returns its frames. It does not export.
func (r *Runner) Generate(ctx context.Context, cfg config.Config) (*Result, error) {
	return r.GenerateWithProgress(ctx, cfg, nil)
}

// GenerateWithProgress is Generate with a per-frame progress callback.
func (r *Runner) GenerateWithProgress(ctx context.Context, cfg config.Config, progress func(done, total int)) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rz, err := r.rasterizer(cfg.FontFile)
	if err != nil {
		return nil, err
	}

	frames := cfg.FrameCount()
	observability.Pipeline().OnGenerateStart(ctx, cfg.CaptchaType, frames)
	r.Logger.Debug("generating captcha",
		"type", cfg.CaptchaType,
		"size", []int{cfg.Width, cfg.Height},
		"frames", frames)

	start := time.Now()
	gen, err := compositor.GenerateContext(ctx, cfg, rz, progress)
	elapsed := time.Since(start)
	observability.Pipeline().OnGenerateComplete(ctx, cfg.CaptchaType, frames, elapsed, err)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Text:   gen.Text,
		Config: gen.Config,
		Frames: gen.Frames,
		Stats: Stats{
			Frames:       len(gen.Frames),
			PeakDecoys:   peak(gen.DecoyCounts),
			Spawned:      gen.Spawned,
			Expired:      gen.Expired,
			GenerateTime: elapsed,
		},
	}
	if res.Config.Seed != cfg.Seed {
		r.Logger.Debug("resolved random seed", "seed", res.Config.Seed)
	}
	r.Logger.Info("generated captcha",
		"type", cfg.CaptchaType,
		"frames", res.Stats.Frames,
		"seed", res.Config.Seed,
		"duration", elapsed.Round(time.Millisecond))
	if res.Stats.Spawned > 0 {
		r.Logger.Debug("decoy population",
			"spawned", res.Stats.Spawned,
			"expired", res.Stats.Expired,
			"peak", res.Stats.PeakDecoys)
	}
	return res, nil
}

// Encode encodes res.Frames in res.Config.ExportFormat, stores the bytes on
// res and caches them when the run is cacheable.
func (r *Runner) Encode(ctx context.Context, res *Result) ([]byte, error) {
	if res.Data != nil {
		return res.Data, nil
	}
	cfg := res.Config

	start := time.Now()
	data, err := export.FromConfig(cfg).Encode(ctx, res.Frames, cfg.ExportFormat, cfg.PlaybackFPS())
	if err != nil {
		return nil, err
	}
	res.Data = data
	res.Stats.Bytes = int64(len(data))
	res.Stats.EncodeTime = time.Since(start)

	if err := r.store(ctx, res); err != nil {
		r.Logger.Warn("artifact not cached", "key", res.CacheInfo.Key, "error", err)
	}
	return data, nil
}

// store caches res.Data with its ground truth when the run is cacheable.
func (r *Runner) store(ctx context.Context, res *Result) error {
	key, err := r.ArtifactKey(res.Config)
	if err != nil || key == "" {
		return err
	}
	res.CacheInfo.Key = key
	entry, err := cachedArtifact{
		Text:   res.Text,
		Format: res.Config.ExportFormat,
		Frames: len(res.Frames),
		Data:   res.Data,
	}.marshal()
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode cache entry")
	}
	if err := r.Cache.Set(ctx, key, entry, cache.TTLArtifact); err != nil {
		return err
	}
	observability.Cache().OnCacheSet(ctx, "artifact", len(entry))
	return nil
}

// Export writes the artifact for res to res.Config.OutputPath(). Encoded bytes
// already on res are written as-is; otherwise the frames are streamed to the
// file. On a ResourceError res is untouched and Export may be retried, for
// example after changing res.Config.OutputDir.
func (r *Runner) Export(ctx context.Context, res *Result) (*export.Artifact, error) {
	cfg := res.Config
	observability.Pipeline().OnExportStart(ctx, cfg.ExportFormat)
	start := time.Now()

	var (
		art *export.Artifact
		err error
	)
	switch {
	case res.Data != nil:
		art, err = export.WriteBytes(cfg, res.Data)
	case len(res.Frames) > 0:
		art, err = export.FromConfig(cfg).Export(ctx, res.Frames, cfg)
	default:
		err = errors.New(errors.ErrCodeInternal, "nothing to export: result has neither frames nor data")
	}

	elapsed := time.Since(start)
	var size int64
	if art != nil {
		size = art.Size
	}
	observability.Pipeline().OnExportComplete(ctx, cfg.ExportFormat, size, elapsed, err)
	if err != nil {
		r.Logger.Error("export failed", "path", cfg.OutputPath(), "error", err)
		return nil, err
	}

	res.Artifact = art
	res.Stats.Bytes = art.Size
	res.Stats.ExportTime = elapsed
	r.Logger.Info("exported captcha",
		"path", art.Path,
		"bytes", art.Size,
		"cached", res.CacheInfo.Hit)
	return art, nil
}

// ArtifactKey returns the cache key for cfg, or "" when cfg has no fixed
// seed and its output is therefore not reproducible.
func (r *Runner) ArtifactKey(cfg config.Config) (string, error) {
	if cfg.Seed == 0 {
		return "", nil
	}
	hash, err := cache.HashJSON(cacheIdentity(cfg))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeInternal, err, "hash config")
	}
	opts := cache.ArtifactKeyOpts{Format: cfg.ExportFormat}
	if cfg.FontFile != "" {
		data, err := os.ReadFile(cfg.FontFile)
		if err != nil {
			return "", errors.Wrap(errors.ErrCodeFont, err, "read font %s", cfg.FontFile)
		}
		opts.FontHash = cache.Hash(data)
	}
	return r.Keyer.ArtifactKey(hash, opts), nil
}

func (r *Runner) lookup(ctx context.Context, key string, cfg config.Config) (*Result, bool) {
	data, hit, err := r.Cache.Get(ctx, key)
	if err != nil {
		r.Logger.Warn("cache read failed", "error", err)
		return nil, false
	}
	if !hit {
		return nil, false
	}
	entry, err := unmarshalCached(data)
	if err != nil || entry.Format != cfg.ExportFormat {
		_ = r.Cache.Delete(ctx, key)
		return nil, false
	}

	observability.Cache().OnCacheHit(ctx, "artifact")
	r.Logger.Debug("artifact cache hit", "key", key)
	return &Result{
		Text:      entry.Text,
		Config:    cfg.Resolve(),
		Data:      entry.Data,
		Stats:     Stats{Frames: entry.Frames, Bytes: int64(len(entry.Data))},
		CacheInfo: CacheInfo{Key: key, Hit: true},
	}, true
}

// rasterizer returns the shared rasterizer for a font file ("" = embedded).
func (r *Runner) rasterizer(fontFile string) (*glyph.Rasterizer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rz, ok := r.rasterizers[fontFile]; ok {
		return rz, nil
	}
	if r.rasterizers == nil {
		r.rasterizers = make(map[string]*glyph.Rasterizer)
	}

	var set *fonts.Set
	if fontFile != "" {
		var err error
		if set, err = fonts.Load(fontFile); err != nil {
			return nil, err
		}
	}
	rz, err := glyph.New(set)
	if err != nil {
		return nil, err
	}
	r.rasterizers[fontFile] = rz
	return rz, nil
}

// Close releases resources held by the runner: the cache and the glyph
// rasterizers.
func (r *Runner) Close() error {
	r.mu.Lock()
	for k, rz := range r.rasterizers {
		rz.Close()
		delete(r.rasterizers, k)
	}
	r.mu.Unlock()

	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}
