package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/c360/resilkit/channel"
	"github.com/c360/resilkit/config"
	"github.com/c360/resilkit/errors"
	"github.com/c360/resilkit/health"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/bloom"
	"github.com/c360/resilkit/pkg/lookup"
	"github.com/c360/resilkit/pkg/lww"
	"github.com/c360/resilkit/pkg/ratelimit"
)

// daemon composes the feed, its admission limiter, the replicated state map
// and the HTTP surface.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	feed    *channel.Channel
	store   *stateStore
	clients *ratelimit.Group
	server  *metric.Server

	// encoding a snapshot walks the whole map
	snapshots *rate.Limiter
}

func newDaemon(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) (*daemon, error) {
	d := &daemon{
		cfg:       cfg,
		logger:    logger,
		snapshots: rate.NewLimiter(rate.Limit(5), 2), // 5 snapshots/sec with burst of 2
	}

	filter, err := bloom.New(cfg.Filter.ExpectedItems, cfg.Filter.FalsePositiveRate)
	if err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}

	var regOpts []lww.Option[json.RawMessage]
	if cfg.State.Replica != "" {
		regOpts = append(regOpts, lww.WithReplica[json.RawMessage](cfg.State.Replica))
	}
	regs := lww.New[string, json.RawMessage](regOpts...)

	d.store, err = newStateStore(regs, filter, cfg.State.CompressSnapshot,
		logger.With("component", "state"), lookup.WithMetrics(registry, "state"))
	if err != nil {
		return nil, fmt.Errorf("create state store: %w", err)
	}

	feedLimiter, err := ratelimit.New(cfg.Limiter.Capacity, cfg.Limiter.RefillRate,
		ratelimit.WithMetrics(registry, "feed"))
	if err != nil {
		return nil, fmt.Errorf("create feed limiter: %w", err)
	}

	d.clients, err = ratelimit.NewGroup(cfg.Limiter.Capacity, cfg.Limiter.RefillRate,
		ratelimit.WithMetrics(registry, "http"))
	if err != nil {
		return nil, fmt.Errorf("create client limiters: %w", err)
	}

	d.feed, err = channel.New(cfg.ChannelConfig(), newTransport(cfg.Feed), d.store.HandleMessage,
		channel.WithLogger(logger),
		channel.WithMetrics(registry, "feed"),
		channel.WithLimiter(feedLimiter),
		channel.WithStatusListener(d.onStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("create feed channel: %w", err)
	}

	d.server = metric.NewServer(cfg.Server.Addr, cfg.Server.MetricsPath, registry, d.health)
	d.routes(d.server.Router())
	return d, nil
}

func newTransport(feed config.FeedConfig) channel.Transport {
	switch feed.Transport {
	case config.TransportNATS:
		return channel.NewNATSTransport(feed.Subject)
	default:
		return channel.NewWebSocketTransport()
	}
}

func (d *daemon) onStatus(s channel.Status) {
	if s == channel.StatusError {
		d.logger.Error("Feed gave up reconnecting", "error", d.feed.LastError())
		return
	}
	d.logger.Info("Feed status changed", "status", s)
}

func (d *daemon) health() health.Status {
	state := health.NewHealthy("state", fmt.Sprintf("%d keys", d.store.Len()))
	return health.Aggregate("resilkit", d.feed.Health(), state)
}

// run connects the feed and serves HTTP until ctx is cancelled or the
// server fails.
func (d *daemon) run(ctx context.Context) error {
	if err := d.feed.Connect(ctx); err != nil {
		// The channel schedules its own retries after a failed dial.
		d.logger.Warn("Initial feed connect failed", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info("HTTP server listening", "addr", d.server.Address())
		errCh <- d.server.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// shutdown stops the feed and then the HTTP server.
func (d *daemon) shutdown(ctx context.Context) error {
	d.feed.Disconnect()
	return d.server.Shutdown(ctx)
}

func (d *daemon) routes(r *mux.Router) {
	r.HandleFunc("/status", d.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", d.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/state/{key}", d.handleState).Methods(http.MethodGet)
}

type feedStatus struct {
	Status       channel.Status `json:"status"`
	Connected    bool           `json:"connected"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Attempts     int            `json:"attempts"`
	CurrentDelay string         `json:"current_delay"`
	Received     int64          `json:"received"`
	LastUpdate   *time.Time     `json:"last_update,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
}

type statusResponse struct {
	Feed    feedStatus   `json:"feed"`
	Keys    int          `json:"keys"`
	Lookups lookup.Stats `json:"lookups"`
}

func (d *daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	fs := feedStatus{
		Status:       d.feed.Status(),
		Connected:    d.feed.IsConnected(),
		ConnectionID: d.feed.ConnectionID(),
		Attempts:     d.feed.Attempts(),
		CurrentDelay: d.feed.CurrentDelay().String(),
		Received:     d.feed.ReceivedCount(),
	}
	if t := d.feed.LastUpdate(); !t.IsZero() {
		fs.LastUpdate = &t
	}
	if err := d.feed.LastError(); err != nil {
		fs.LastError = health.Sanitize(err.Error())
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Feed:    fs,
		Keys:    d.store.Len(),
		Lookups: d.store.Stats(),
	})
}

func (d *daemon) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	if !d.snapshots.Allow() {
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	data, err := d.store.Snapshot()
	if err != nil {
		d.logger.Error("Snapshot encode failed", "error", err)
		writeError(w, http.StatusInternalServerError, "snapshot unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (d *daemon) handleState(w http.ResponseWriter, r *http.Request) {
	if !d.clients.TryConsume(clientKey(r), 1) {
		w.Header().Set("Retry-After", retryAfterSeconds(d.clients.Get(clientKey(r)).RetryAfter(1)))
		writeError(w, http.StatusTooManyRequests, "rate limited")
		return
	}

	key := mux.Vars(r)["key"]
	reg, err := d.store.Get(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, stateEntry{Key: key, Register: reg})
	case errors.Is(err, errors.ErrKeyNotFound):
		writeError(w, http.StatusNotFound, "key not found")
	case errors.Is(err, errors.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limited")
	default:
		d.logger.Warn("State lookup failed", "key", key, "error", err)
		writeError(w, http.StatusServiceUnavailable, "lookup failed")
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func retryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
