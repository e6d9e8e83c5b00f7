// Package api serves packed training examples over HTTP.
//
// Every request to /v1/examples builds its own pipeline seeded from the
// query. The seed drives the document shuffle of the train split as well
// as the FIM draws, so concurrent consumers (one per training worker) each
// read an independent, reproducible stream.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/codepack/internal/dataset"
	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/pipeline"
	"github.com/samcharles93/codepack/internal/version"
)

// MaxCount caps the number of examples one request may ask for.
const MaxCount = 10000

const (
	headerRequestID = "X-Request-Id"
	mimeNDJSON      = "application/x-ndjson"
)

// Sources are the two splits the server can stream. Train is read in
// infinite mode, Valid once.
type Sources struct {
	// Train is the unshuffled training split.
	Train         dataset.Source
	Valid         dataset.Source
	// ShuffleBuffer is the document shuffle buffer applied to Train.
	ShuffleBuffer int
}

// TrainStream returns the training split shuffled with seed.
func (s Sources) TrainStream(seed uint64) dataset.Source {
	if s.Train == nil {
		return nil
	}
	return dataset.Shuffle(s.Train, s.ShuffleBuffer, seed)
}

type Server struct {
	enc     pipeline.Encoder
	sources Sources
	cfg     pipeline.Config
	log     logger.Logger
}

func NewServer(enc pipeline.Encoder, sources Sources, cfg pipeline.Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{
		enc:     enc,
		sources: sources,
		cfg:     cfg,
		log:     log.With("component", "api"),
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/info", s.handleInfo)
	e.GET("/v1/examples", s.handleExamples)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type infoResponse struct {
	Version    string          `json:"version"`
	Config     pipeline.Config `json:"config"`
	FIMEnabled bool            `json:"fim_enabled"`
	EOSID      int             `json:"eos_id"`
	Splits     []string        `json:"splits"`
	MaxCount   int             `json:"max_count"`
}

func (s *Server) handleInfo(c *echo.Context) error {
	p, err := pipeline.New(s.enc, s.sources.TrainStream(s.cfg.Seed), s.cfg, logger.Discard())
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	return c.JSON(http.StatusOK, infoResponse{
		Version:    version.String(),
		Config:     p.Config(),
		FIMEnabled: p.FIMEnabled(),
		EOSID:      s.enc.EOSID(),
		Splits:     s.splits(),
		MaxCount:   MaxCount,
	})
}

func (s *Server) splits() []string {
	var out []string
	if s.sources.Train != nil {
		out = append(out, "train")
	}
	if s.sources.Valid != nil {
		out = append(out, "valid")
	}
	return out
}

type examplesQuery struct {
	split string
	count int
	seed  uint64
}

func (s *Server) parseExamplesQuery(c *echo.Context) (examplesQuery, error) {
	q := examplesQuery{split: c.QueryParam("split"), count: -1, seed: s.cfg.Seed}
	if q.split == "" {
		q.split = "train"
	}
	if q.split != "train" && q.split != "valid" {
		return q, newInvalidRequest("split must be train or valid, got %q", q.split)
	}

	if raw := c.QueryParam("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxCount {
			return q, newInvalidRequest("count must be an integer in [1, %d]", MaxCount)
		}
		q.count = n
	} else if q.split == "train" {
		return q, newInvalidRequest("count is required for the train split")
	}

	if raw := c.QueryParam("seed"); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, newInvalidRequest("seed must be an unsigned integer")
		}
		q.seed = seed
	}
	return q, nil
}

func (s *Server) handleExamples(c *echo.Context) error {
	q, err := s.parseExamplesQuery(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	cfg := s.cfg
	cfg.Seed = q.seed
	src := s.sources.TrainStream(q.seed)
	cfg.Infinite = true
	if q.split == "valid" {
		src = s.sources.Valid
		cfg.Infinite = false
	}
	if src == nil {
		return writeError(c, http.StatusNotFound, "not_found_error", "split "+q.split+" is not configured")
	}

	reqID := newRequestID()
	log := s.log.With("request_id", reqID, "split", q.split, "seed", q.seed)
	p, err := pipeline.New(s.enc, src, cfg, log)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	res := c.Response()
	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeError(c, http.StatusInternalServerError, "server_error", "streaming unsupported")
	}
	res.Header().Set(echo.HeaderContentType, mimeNDJSON)
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set(headerRequestID, reqID)
	res.WriteHeader(http.StatusOK)

	start := time.Now()
	enc := json.NewEncoder(res)
	sent := 0
	for ex, err := range p.Examples(c.Request().Context()) {
		if err != nil {
			if errors.Is(err, c.Request().Context().Err()) {
				log.Info("client went away", "sent", sent)
				return nil
			}
			log.Error("stream failed", "error", err, "sent", sent)
			return enc.Encode(errorEnvelope{Error: ResponseError{Message: err.Error(), Type: "server_error"}})
		}
		if err := enc.Encode(ex); err != nil {
			return err
		}
		flusher.Flush()
		sent++
		if q.count > 0 && sent >= q.count {
			break
		}
	}
	log.Info("examples streamed", "sent", sent, "elapsed", time.Since(start))
	return nil
}
