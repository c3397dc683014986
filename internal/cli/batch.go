package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/BurntSushi/toml"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/animcaptcha/internal/atomicfile"
	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

// ManifestName is the file written next to a batch of captchas.
const ManifestName = "manifest.toml"

type batchOpts struct {
	configPath  string
	captchaType string
	format      string
	outDir      string
	count       int
	concurrency int
	seed        uint64
	plain       bool
	noCache     bool
}

// Manifest lists the ground truth for every captcha in a batch.
type Manifest struct {
	Generated time.Time       `toml:"generated"`
	Captchas  []ManifestEntry `toml:"captcha"`
}

// ManifestEntry is one generated captcha. File is relative to the manifest.
type ManifestEntry struct {
	ID     string `toml:"id"`
	Text   string `toml:"text"`
	Seed   uint64 `toml:"seed"`
	Format string `toml:"format"`
	File   string `toml:"file"`
	Frames int    `toml:"frames"`
}

// batchCommand creates the batch command for rendering many captchas.
func (c *CLI) batchCommand() *cobra.Command {
	opts := &batchOpts{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Render many captchas concurrently",
		Long: `Render a set of captchas into one directory and record their ground-truth
text in ` + ManifestName + `.

Each captcha gets a random UUID file name. With --seed, captcha i uses seed+i,
so the whole batch is reproducible.`,
		Example: `  # 100 GIF captchas in ./captchas
  animcaptcha batch -n 100

  # Reproducible noise batch without the progress view
  animcaptcha batch -n 20 --type noise --seed 7 --plain -d dataset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolve(cmd)
			if err != nil {
				return err
			}
			return c.runBatch(cmd.Context(), cfg, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "", "config file (default ./"+config.FileName+")")
	f.StringVarP(&opts.captchaType, "type", "t", "", "captcha type: text or noise")
	f.StringVarP(&opts.format, "format", "f", "", "export format: gif, apng or mp4")
	f.StringVarP(&opts.outDir, "out-dir", "d", "captchas", "output directory")
	f.IntVarP(&opts.count, "count", "n", 10, "number of captchas")
	f.IntVar(&opts.concurrency, "concurrency", runtime.NumCPU(), "captchas rendered in parallel")
	f.Uint64Var(&opts.seed, "seed", 0, "base seed; captcha i uses seed+i")
	f.BoolVar(&opts.plain, "plain", false, "print one line per captcha instead of the progress view")
	f.BoolVar(&opts.noCache, "no-cache", false, "disable the artifact cache")

	return cmd
}

func (o *batchOpts) resolve(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.count < 1 {
		return cfg, errors.New(errors.ErrCodeInvalidConfig, "count must be >= 1, got %d", o.count)
	}
	if o.concurrency < 1 {
		return cfg, errors.New(errors.ErrCodeInvalidConfig, "concurrency must be >= 1, got %d", o.concurrency)
	}

	changed := cmd.Flags().Changed
	if changed("type") {
		cfg.CaptchaType = o.captchaType
	}
	if changed("format") {
		cfg.ExportFormat = o.format
	}
	cfg.OutputDir = o.outDir
	cfg.Export = true
	cfg.CaptchaText = ""
	cfg.Seed = o.seed
	return cfg, cfg.Validate()
}

// batchEvent reports progress of one captcha in a batch.
type batchEvent struct {
	Index  int
	Frames int // frames rendered so far for this captcha
	Total  int
	Entry  *ManifestEntry // set once the captcha is written
}

// batch renders count captchas from one base config.
type batch struct {
	runner      *pipeline.Runner
	base        config.Config
	count       int
	concurrency int
}

// job returns the config for captcha i.
func (b *batch) job(i int) config.Config {
	cfg := b.base
	cfg.OutputName = uuid.NewString()
	if b.base.Seed != 0 {
		cfg.Seed = b.base.Seed + uint64(i)
	}
	return cfg
}

// run renders every captcha, reporting progress through report, which must
// be safe for concurrent use. The first failure cancels the rest.
func (b *batch) run(ctx context.Context, report func(batchEvent)) ([]ManifestEntry, error) {
	entries := make([]ManifestEntry, b.count)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i := range b.count {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			cfg := b.job(i)
			res, err := b.runner.ExecuteWithProgress(gctx, cfg, func(done, total int) {
				report(batchEvent{Index: i, Frames: done, Total: total})
			})
			if err != nil {
				return fmt.Errorf("captcha %d: %w", i+1, err)
			}
			entries[i] = ManifestEntry{
				ID:     cfg.OutputName,
				Text:   res.Text,
				Seed:   res.Seed(),
				Format: cfg.ExportFormat,
				File:   filepath.Base(res.Artifact.Path),
				Frames: res.Stats.Frames,
			}
			report(batchEvent{Index: i, Frames: res.Stats.Frames, Total: res.Stats.Frames, Entry: &entries[i]})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// runBatch renders the batch with the progress view on a terminal, or plain
// lines otherwise, then writes the manifest.
func (c *CLI) runBatch(ctx context.Context, cfg config.Config, opts *batchOpts) error {
	runner, err := c.newRunner(opts.noCache)
	if err != nil {
		return err
	}
	defer runner.Close()

	b := &batch{runner: runner, base: cfg, count: opts.count, concurrency: opts.concurrency}
	prog := newProgress(c.Logger)

	var entries []ManifestEntry
	if opts.plain || !isTerminal(os.Stdout) {
		entries, err = runBatchPlain(ctx, b)
	} else {
		entries, err = runBatchInteractive(ctx, b)
	}
	if err != nil {
		return err
	}

	path := filepath.Join(cfg.OutputDir, ManifestName)
	if err := writeManifest(path, Manifest{Generated: time.Now().UTC(), Captchas: entries}); err != nil {
		return err
	}

	prog.done(fmt.Sprintf("Generated %d captchas", len(entries)))
	printSuccess("Generated %d %s captchas", len(entries), cfg.CaptchaType)
	printFile(path)
	return nil
}

func runBatchPlain(ctx context.Context, b *batch) ([]ManifestEntry, error) {
	var done atomic.Int64
	return b.run(ctx, func(ev batchEvent) {
		if ev.Entry == nil {
			return
		}
		n := done.Add(1)
		fmt.Printf("[%d/%d] %s %s\n", n, b.count, ev.Entry.Text, ev.Entry.File)
	})
}

func runBatchInteractive(ctx context.Context, b *batch) ([]ManifestEntry, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newBatchModel(b.count), tea.WithContext(ctx), tea.WithOutput(os.Stderr))

	var (
		entries []ManifestEntry
		runErr  error
	)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		entries, runErr = b.run(ctx, func(ev batchEvent) { p.Send(ev) })
		p.Send(batchDoneMsg{err: runErr})
	}()

	final, err := p.Run()
	if m, ok := final.(batchModel); ok && m.interrupted {
		cancel()
	}
	if err != nil && !stderrors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-finished
		return nil, err
	}
	<-finished
	return entries, runErr
}

// writeManifest encodes m as TOML and writes it atomically.
func writeManifest(path string, m Manifest) error {
	data, err := toml.Marshal(m)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode manifest")
	}
	if err := atomicfile.Write(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeResource, err, "write manifest %s", path)
	}
	return nil
}
