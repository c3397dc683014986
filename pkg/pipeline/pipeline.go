// Package pipeline provides the generate → export pipeline for animcaptcha.
//
// This package is shared by the CLI, the batch command and the HTTP API so
// that caching, logging and hooks behave the same at every entry point.
//
// # Stages
//
//  1. Generate: validate the config and composite every frame
//  2. Encode: encode frames in the configured container format
//  3. Export: write the artifact to <output_dir>/<output_name>.<ext>
//
// A session is fully determined by its resolved config and seed, so when the
// caller fixes the seed the encoded artifact is cached under a hash of the
// config and later runs skip generation entirely. Unseeded runs never touch
// the cache.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	defer runner.Close()
//
//	res, err := runner.Execute(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Text, res.Artifact.Path)
//
// Run stages individually:
//
//	res, err := runner.Generate(ctx, cfg)
//	art, err := runner.Export(ctx, res) // retryable on ResourceError
package pipeline

import (
	"encoding/json"
	"image"
	"slices"
	"time"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/export"
)

// Result contains the outputs of a pipeline run.
type Result struct {
	// Text is the ground truth the frames show.
	Text string

	// Config is the resolved configuration, seed included.
	Config config.Config

	// Frames holds the composited frames. It is nil when the artifact was
	// served from cache.
	Frames []*image.RGBA

	// Data holds the encoded artifact once Encode has run.
	Data []byte

	// Artifact describes the written file once Export has run.
	Artifact *export.Artifact

	// Stats contains timing and size information.
	Stats Stats

	// CacheInfo tracks whether the artifact came from the cache.
	CacheInfo CacheInfo
}

// Seed returns the seed that reproduces the result.
func (r *Result) Seed() uint64 { return r.Config.Seed }

// Stats contains pipeline execution statistics.
type Stats struct {
	Frames       int
	PeakDecoys   int
	Spawned      int
	Expired      int
	Bytes        int64
	GenerateTime time.Duration
	EncodeTime   time.Duration
	ExportTime   time.Duration
}

// CacheInfo reports the cache key used and whether it hit.
type CacheInfo struct {
	Key string // empty when the run was not cacheable
	Hit bool
}

// cachedArtifact is the cache envelope. The ground truth travels with the
// bytes so a hit can answer without regenerating.
type cachedArtifact struct {
	Text   string `json:"text"`
	Format string `json:"format"`
	Frames int    `json:"frames"`
	Data   []byte `json:"data"`
}

func (c cachedArtifact) marshal() ([]byte, error) {
	return json.Marshal(c)
}

func unmarshalCached(data []byte) (cachedArtifact, error) {
	var c cachedArtifact
	err := json.Unmarshal(data, &c)
	return c, err
}

// cacheIdentity strips the fields that only affect where or whether the
// artifact is written, leaving what determines its bytes.
func cacheIdentity(cfg config.Config) config.Config {
	cfg.Export = false
	cfg.ExportFormat = ""
	cfg.OutputName = ""
	return cfg
}

func peak(counts []int) int {
	if len(counts) == 0 {
		return 0
	}
	return slices.Max(counts)
}
