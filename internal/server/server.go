package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/toricodesthings/image-ocr-service/internal/config"
	"github.com/toricodesthings/image-ocr-service/internal/extract"
	"github.com/toricodesthings/image-ocr-service/internal/ocr"
	"golang.org/x/sync/semaphore"
)

const version = "1.0.0"

// Summarizer forwards extracted text and returns a summary.
type Summarizer interface {
	Forward(ctx context.Context, text string) (string, error)
}

type Server struct {
	cfg        config.Config
	log        *logrus.Logger
	engineName string
	processor  *extract.Processor
	summarizer Summarizer

	requestSem *semaphore.Weighted
	limiters   *ipLimiters
	metrics    *serverMetrics
}

func New(cfg config.Config, log *logrus.Logger, engine ocr.Engine, summarizer Summarizer) *Server {
	return &Server{
		cfg:        cfg,
		log:        log,
		engineName: engine.Name(),
		processor:  extract.New(engine, log),
		summarizer: summarizer,
		requestSem: semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		limiters:   newIPLimiters(cfg.RateLimitEvery, cfg.RateLimitBurst),
		metrics:    &serverMetrics{},
	}
}

// Handler returns the fully wrapped route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.withMethod(s.handleIndex, http.MethodGet, http.MethodHead))
	mux.HandleFunc("/health", s.withMethod(s.handleHealth, http.MethodGet))
	mux.HandleFunc("/metrics", s.withMethod(s.handleMetrics, http.MethodGet))

	mux.HandleFunc("/process-image",
		s.withRateLimit(
			s.withMethod(
				s.withConcurrencyLimit(s.handleProcessImage), http.MethodPost)))

	mux.HandleFunc("/send-to-make",
		s.withRateLimit(
			s.withMethod(
				s.withConcurrencyLimit(s.handleSendToMake), http.MethodPost)))

	return s.withLogging(s.withRecovery(s.withCORS(mux)))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	maxHeaderBytes := 1 << 20
	if s.cfg.MaxHeaderBytes > 0 {
		maxHeaderBytes = s.cfg.MaxHeaderBytes
	}

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}

	go s.housekeeping(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.WithFields(logrus.Fields{
		"addr":           srv.Addr,
		"engine":         s.engineName,
		"max_concurrent": s.cfg.MaxConcurrentRequests,
		"webhook":        s.cfg.WebhookURL != "",
	}).Info("imgocr listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) housekeeping(ctx context.Context) {
	interval := s.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active, files := s.metrics.get()
		s.log.WithFields(logrus.Fields{
			"active":     active,
			"total":      total,
			"files":      files,
			"goroutines": runtime.NumGoroutine(),
			"mem_mb":     m.Alloc / (1 << 20),
		}).Info("stats")

		s.limiters.reset()
	}
}

type serverMetrics struct {
	mu             sync.RWMutex
	totalRequests  int64
	activeReqs     int64
	filesProcessed int64
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}

func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}

func (m *serverMetrics) addFiles(n int) {
	m.mu.Lock()
	m.filesProcessed += int64(n)
	m.mu.Unlock()
}

func (m *serverMetrics) get() (total, active, files int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalRequests, m.activeReqs, m.filesProcessed
}
