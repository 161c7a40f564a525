package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/route-beacon/mrt-ingester/internal/archive"
	"go.uber.org/zap"
)

// ConsumerStatus is an interface for checking Kafka consumer join state.
type ConsumerStatus interface {
	IsJoined() bool
}

// SourceLister reports archive progress per collector and source.
type SourceLister interface {
	ListSources(ctx context.Context, collector string) ([]archive.SourceStatus, error)
}

// DBChecker abstracts the database health check for testability.
type DBChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	srv       *http.Server
	pool      *pgxpool.Pool
	dbChecker DBChecker
	consumer  ConsumerStatus
	sources   SourceLister
	logger    *zap.Logger
}

func NewServer(addr string, pool *pgxpool.Pool, consumer ConsumerStatus, sources SourceLister, logger *zap.Logger) *Server {
	s := &Server{
		pool:     pool,
		consumer: consumer,
		sources:  sources,
		logger:   logger,
	}
	if pool != nil {
		s.dbChecker = pool
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("GET /sources", s.handleSources)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return s
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("HTTP server listening", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	allOK := true

	// Check PostgreSQL.
	if s.dbChecker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.dbChecker.Ping(ctx); err != nil {
			checks["postgres"] = "error"
			allOK = false
		} else {
			checks["postgres"] = "ok"
		}
	} else {
		checks["postgres"] = "error"
		allOK = false
	}

	// Check the Kafka consumer group.
	if s.consumer != nil && s.consumer.IsJoined() {
		checks["kafka"] = "ok"
	} else {
		checks["kafka"] = "not_joined"
		allOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	httpStatus := http.StatusOK
	if !allOK {
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

// handleSources lists archive progress. ?collector=NAME narrows the list.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.sources == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": "archive unavailable"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	list, err := s.sources.ListSources(ctx, r.URL.Query().Get("collector"))
	if err != nil {
		s.logger.Error("listing sources failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "query failed"})
		return
	}
	if list == nil {
		list = []archive.SourceStatus{}
	}

	var stale []string
	now := time.Now()
	for _, src := range list {
		if now.Sub(src.LastRecordTime) > staleAfter {
			stale = append(stale, src.Collector+"/"+src.Source)
		}
	}
	json.NewEncoder(w).Encode(map[string]any{
		"sources": list,
		"stale":   stale,
	})
}

// staleAfter is how old a source's newest record may be before /sources
// lists it as stale.
const staleAfter = time.Hour
