// Copyright (C) 2025-2026 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cardinalhq/spanrunner/internal/batcher"
)

type Status int32

const (
	StatusStarting Status = iota
	StatusHealthy
	StatusUnhealthy
)

type ReadyStatus int32

const (
	ReadyStatusNotReady ReadyStatus = iota
	ReadyStatusReady
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Reporter is the engine surface the health endpoints read.
type Reporter interface {
	Snapshot() batcher.Snapshot
	SinkHealthy(ctx context.Context) bool
}

type Response struct {
	Healthy bool   `json:"healthy"`
	Status  string `json:"status,omitempty"`
}

// StatsResponse is the /stats document. Durations are milliseconds.
type StatsResponse struct {
	Status          string  `json:"status"`
	Running         bool    `json:"running"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
	RecordsReceived int64   `json:"records_received"`
	RecordsAccepted int64   `json:"records_accepted"`
	RecordsRejected int64   `json:"records_rejected"`
	BatchesFlushed  int64   `json:"batches_flushed"`
	BatchesFailed   int64   `json:"batches_failed"`
	AvgFlushMs      float64 `json:"avg_flush_ms"`
	P50FlushMs      float64 `json:"p50_flush_ms"`
	P99FlushMs      float64 `json:"p99_flush_ms"`
	DistinctTraces  uint64  `json:"distinct_traces"`
	QueueLength     int     `json:"queue_length"`
	QueueCapacity   int     `json:"queue_capacity"`
	Partitions      int     `json:"partitions"`
	PendingRecords  int     `json:"pending_records"`
}

func NewStatsResponse(s batcher.Snapshot) StatsResponse {
	return StatsResponse{
		Status:          s.Health.String(),
		Running:         s.Running,
		UptimeSeconds:   s.Uptime.Seconds(),
		RecordsReceived: s.RecordsReceived,
		RecordsAccepted: s.RecordsAccepted,
		RecordsRejected: s.RecordsRejected,
		BatchesFlushed:  s.BatchesFlushed,
		BatchesFailed:   s.BatchesFailed,
		AvgFlushMs:      millis(s.AvgFlushDuration()),
		P50FlushMs:      millis(s.FlushDurationP50),
		P99FlushMs:      millis(s.FlushDurationP99),
		DistinctTraces:  s.DistinctTraces,
		QueueLength:     s.QueueLength,
		QueueCapacity:   s.QueueCapacity,
		Partitions:      s.Partitions,
		PendingRecords:  s.PendingRecords,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

type Config struct {
	Port int `mapstructure:"port" yaml:"port"`
	// SinkTimeout bounds the sink check made by /readyz.
	SinkTimeout time.Duration `mapstructure:"sink_timeout" yaml:"sink_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Port:        8090,
		SinkTimeout: 2 * time.Second,
	}
}

type Server struct {
	port        int
	sinkTimeout time.Duration
	reporter    Reporter
	status      atomic.Int32
	readyStatus atomic.Int32
	conditions  sync.Map // map[string]bool, named readiness conditions
	server      *http.Server
}

func NewServer(config Config, reporter Reporter) *Server {
	def := DefaultConfig()
	if config.Port == 0 {
		config.Port = def.Port
	}
	if config.SinkTimeout <= 0 {
		config.SinkTimeout = def.SinkTimeout
	}

	return &Server{
		port:        config.Port,
		sinkTimeout: config.SinkTimeout,
		reporter:    reporter,
	}
}

func (s *Server) SetStatus(status Status) {
	s.status.Store(int32(status))
	slog.Debug("Health check status updated", slog.String("status", status.String()))
}

func (s *Server) GetStatus() Status {
	return Status(s.status.Load())
}

func (s *Server) SetReady(ready bool) {
	if ready {
		s.readyStatus.Store(int32(ReadyStatusReady))
	} else {
		s.readyStatus.Store(int32(ReadyStatusNotReady))
	}
	slog.Debug("Ready status updated", slog.Bool("ready", ready))
}

// SetReadyCondition sets a named readiness condition. All conditions must be
// true, along with the base ready flag, for IsReady to return true.
func (s *Server) SetReadyCondition(name string, ready bool) {
	s.conditions.Store(name, ready)
	slog.Debug("Ready condition updated", slog.String("condition", name), slog.Bool("ready", ready))
}

// IsReady reports the ready flag and conditions, then asks the engine
// whether it is running and its sink accepts writes.
func (s *Server) IsReady(ctx context.Context) bool {
	if ReadyStatus(s.readyStatus.Load()) != ReadyStatusReady {
		return false
	}
	ready := true
	s.conditions.Range(func(_, value any) bool {
		if !value.(bool) {
			ready = false
			return false
		}
		return true
	})
	if !ready || s.reporter == nil {
		return ready
	}
	if !s.reporter.Snapshot().Running {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.sinkTimeout)
	defer cancel()
	return s.reporter.SinkHealthy(ctx)
}

// Health combines the process status with the engine's own health. A
// degraded engine still counts as serving.
func (s *Server) Health() batcher.Health {
	if s.GetStatus() != StatusHealthy {
		return batcher.HealthUnhealthy
	}
	if s.reporter == nil {
		return batcher.HealthHealthy
	}
	return s.reporter.Snapshot().Health
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthzHandler)
	mux.HandleFunc("/readyz", s.readyzHandler)
	mux.HandleFunc("/livez", s.livezHandler)
	mux.HandleFunc("/stats", s.statsHandler)
	return mux
}

// Start serves until ctx is done. A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("Starting health check server", slog.Int("port", s.port))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server error", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	return s.Stop()
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	slog.Info("Stopping health check server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	health := s.Health()
	writeJSON(w, health != batcher.HealthUnhealthy, Response{
		Healthy: health != batcher.HealthUnhealthy,
		Status:  health.String(),
	})
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	isReady := s.IsReady(r.Context())
	writeJSON(w, isReady, Response{Healthy: isReady})
}

func (s *Server) livezHandler(w http.ResponseWriter, _ *http.Request) {
	isAlive := s.GetStatus() != StatusUnhealthy
	writeJSON(w, isAlive, Response{Healthy: isAlive})
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	if s.reporter == nil {
		http.Error(w, "no engine attached", http.StatusNotFound)
		return
	}
	writeJSON(w, true, NewStatsResponse(s.reporter.Snapshot()))
}

func writeJSON(w http.ResponseWriter, ok bool, body any) {
	w.Header().Set("Content-Type", "application/json")
	if ok {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode health check response", slog.Any("error", err))
	}
}
