package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/matzehuels/animcaptcha/pkg/config"
	"github.com/matzehuels/animcaptcha/pkg/errors"
	"github.com/matzehuels/animcaptcha/pkg/export"
	"github.com/matzehuels/animcaptcha/pkg/pipeline"
)

// CaptchaResponse is the body of POST /v1/captchas.
type CaptchaResponse struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Seed        uint64 `json:"seed"`
	Format      string `json:"format"`
	ContentType string `json:"content_type"`
	Frames      int    `json:"frames"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Cached      bool   `json:"cached"`
	Data        []byte `json:"data"` // base64 in JSON
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.decodeOverlay(w, r)
	if err != nil {
		s.respondError(w, err)
		return
	}

	res, sink, err := s.build(r, cfg)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, CaptchaResponse{
		ID:          uuid.NewString(),
		Text:        res.Text,
		Seed:        res.Seed(),
		Format:      sink.Format(),
		ContentType: sink.ContentType(),
		Frames:      res.Stats.Frames,
		Width:       res.Config.Width,
		Height:      res.Config.Height,
		Cached:      res.CacheInfo.Hit,
		Data:        res.Data,
	})
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	cfg := s.base
	cfg.ExportFormat = chi.URLParam(r, "format")

	q := r.URL.Query()
	if v := q.Get("type"); v != "" {
		cfg.CaptchaType = v
	}
	if v := q.Get("text"); v != "" {
		cfg.CaptchaText = v
	}
	if v := q.Get("seed"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.respondError(w, errors.Wrap(errors.ErrCodeInvalidConfig, err, "invalid seed %q", v))
			return
		}
		cfg.Seed = seed
	}

	res, sink, err := s.build(r, cfg)
	if err != nil {
		s.respondError(w, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", sink.ContentType())
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Captcha-Id", uuid.NewString())
	h.Set("X-Captcha-Text", res.Text)
	h.Set("X-Captcha-Seed", strconv.FormatUint(res.Seed(), 10))
	w.WriteHeader(http.StatusOK)
	io.Copy(w, bytes.NewReader(res.Data))
}

// decodeOverlay applies the JSON request body on top of the base config.
// Fields absent from the body keep their base values.
func (s *Server) decodeOverlay(w http.ResponseWriter, r *http.Request) (config.Config, error) {
	cfg := s.base
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(body)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "read request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeInvalidConfig, err, "decode config overlay")
	}
	return cfg, nil
}

// build validates cfg against the server limits and returns encoded bytes.
func (s *Server) build(r *http.Request, cfg config.Config) (*pipeline.Result, export.Sink, error) {
	cfg.Export = false
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if err := s.checkLimits(cfg); err != nil {
		return nil, nil, err
	}
	sink, err := export.NewSink(cfg.ExportFormat, export.Options{FFmpegPath: cfg.FFmpegPath})
	if err != nil {
		return nil, nil, err
	}

	res, err := s.runner.Build(r.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return res, sink, nil
}

func (s *Server) checkLimits(cfg config.Config) error {
	l := s.limits
	if l.MaxWidth > 0 && cfg.Width > l.MaxWidth {
		return errors.New(errors.ErrCodeInvalidConfig, "width %d exceeds the limit of %d", cfg.Width, l.MaxWidth)
	}
	if l.MaxHeight > 0 && cfg.Height > l.MaxHeight {
		return errors.New(errors.ErrCodeInvalidConfig, "height %d exceeds the limit of %d", cfg.Height, l.MaxHeight)
	}
	if n := cfg.FrameCount(); l.MaxFrames > 0 && n > l.MaxFrames {
		return errors.New(errors.ErrCodeInvalidConfig, "%d frames exceed the limit of %d", n, l.MaxFrames)
	}
	if l.MaxNoiseScale > 0 && cfg.CaptchaType == config.TypeNoise && cfg.NoiseScale > l.MaxNoiseScale {
		return errors.New(errors.ErrCodeInvalidConfig, "noise_scale %d exceeds the limit of %d", cfg.NoiseScale, l.MaxNoiseScale)
	}
	if l.MaxFontSize > 0 && max(cfg.FontSize, cfg.DecoyFontSize) > l.MaxFontSize {
		return errors.New(errors.ErrCodeInvalidConfig, "font size %d exceeds the limit of %d", max(cfg.FontSize, cfg.DecoyFontSize), l.MaxFontSize)
	}
	if l.MaxDecoyCanvas > 0 && cfg.DecoyCanvas > l.MaxDecoyCanvas {
		return errors.New(errors.ErrCodeInvalidConfig, "decoy_canvas %d exceeds the limit of %d", cfg.DecoyCanvas, l.MaxDecoyCanvas)
	}
	if l.MaxInitialDecoys > 0 && cfg.InitialBgCount > l.MaxInitialDecoys {
		return errors.New(errors.ErrCodeInvalidConfig, "initial_bg_count %d exceeds the limit of %d", cfg.InitialBgCount, l.MaxInitialDecoys)
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.IsConfigurationError(err) {
		status = http.StatusBadRequest
	} else {
		s.logger.Error("generation failed", "error", err)
	}
	s.respondJSON(w, status, ErrorResponse{
		Error: errors.UserMessage(err),
		Code:  string(errors.GetCode(err)),
	})
}
