package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/resilkit/channel"
	"github.com/c360/resilkit/config"
	"github.com/c360/resilkit/metric"
	"github.com/c360/resilkit/pkg/lww"
)

func testDaemon(t *testing.T, mutate func(*config.Config)) *daemon {
	t.Helper()
	cfg := config.Default()
	cfg.Feed.URL = "ws://127.0.0.1:1/events"
	cfg.State.Replica = "local"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	d, err := newDaemon(cfg, metric.NewMetricsRegistry(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return d
}

func get(t *testing.T, d *daemon, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	d.server.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func setMsg(t *testing.T, key, value string, ts int64) channel.Message {
	t.Helper()
	payload, err := json.Marshal(setPayload{Key: key, Value: json.RawMessage(value), Timestamp: ts})
	require.NoError(t, err)
	return channel.Message{Type: msgSet, ID: key, Payload: payload}
}

func TestDaemon_SetThenLookup(t *testing.T) {
	d := testDaemon(t, nil)

	d.store.HandleMessage(setMsg(t, "status", `"draft"`, 100))
	d.store.HandleMessage(setMsg(t, "status", `"filed"`, 200))
	d.store.HandleMessage(setMsg(t, "status", `"stale"`, 150))

	rec := get(t, d, "/state/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got stateEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "status", got.Key)
	assert.JSONEq(t, `"filed"`, string(got.Value))
	assert.Equal(t, int64(200), got.Timestamp)
}

func TestDaemon_UnknownKeyIsFiltered(t *testing.T) {
	d := testDaemon(t, nil)
	d.store.HandleMessage(setMsg(t, "present", `1`, 1))

	rec := get(t, d, "/state/absent")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stats := d.store.Stats()
	assert.Equal(t, int64(1), stats.Filtered+stats.FalsePositives)
}

func TestDaemon_SetWithoutTimestampUsesClock(t *testing.T) {
	d := testDaemon(t, nil)
	d.store.HandleMessage(setMsg(t, "k", `"v"`, 0))

	reg, err := d.store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Positive(t, reg.Timestamp)
	assert.Equal(t, "local", reg.Replica)
}

func TestDaemon_DropsBadMessages(t *testing.T) {
	d := testDaemon(t, nil)

	d.store.HandleMessage(setMsg(t, "", `"v"`, 1))
	d.store.HandleMessage(channel.Message{Type: msgSet, Payload: json.RawMessage(`[1,2]`)})
	d.store.HandleMessage(channel.Message{Type: msgSnapshot, Payload: json.RawMessage(`{"data":"AAAA"}`)})
	d.store.HandleMessage(channel.Message{Type: "heartbeat"})

	assert.Equal(t, 0, d.store.Len())
}

func TestDaemon_MergesSnapshotFromPeer(t *testing.T) {
	d := testDaemon(t, nil)
	d.store.HandleMessage(setMsg(t, "a", `"local"`, 10))

	peer := lww.New[string, json.RawMessage](lww.WithReplica[json.RawMessage]("peer"))
	peer.Set("a", json.RawMessage(`"peer"`), 20)
	peer.Set("b", json.RawMessage(`"only-peer"`), 5)
	data, err := peer.EncodeSnapshot(true)
	require.NoError(t, err)

	payload, err := json.Marshal(snapshotPayload{Data: data})
	require.NoError(t, err)
	d.store.HandleMessage(channel.Message{Type: msgSnapshot, Payload: payload})

	assert.Equal(t, 2, d.store.Len())
	for key, want := range map[string]string{"a": `"peer"`, "b": `"only-peer"`} {
		rec := get(t, d, "/state/"+key)
		require.Equal(t, http.StatusOK, rec.Code, key)
		var got stateEntry
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.JSONEq(t, want, string(got.Value))
	}
}

func TestDaemon_SnapshotEndpointRoundTrips(t *testing.T) {
	d := testDaemon(t, func(c *config.Config) { c.State.CompressSnapshot = true })
	d.store.HandleMessage(setMsg(t, "x", `42`, 7))

	rec := get(t, d, "/snapshot")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))

	snap, err := lww.DecodeSnapshot[string, json.RawMessage](rec.Body.Bytes())
	require.NoError(t, err)
	require.Contains(t, snap, "x")
	assert.Equal(t, int64(7), snap["x"].Timestamp)
}

func TestDaemon_Status(t *testing.T) {
	d := testDaemon(t, nil)
	d.store.HandleMessage(setMsg(t, "k", `1`, 1))
	get(t, d, "/state/k")

	rec := get(t, d, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, channel.StatusDisconnected, got.Feed.Status)
	assert.False(t, got.Feed.Connected)
	assert.Equal(t, 1, got.Keys)
	assert.Equal(t, int64(1), got.Lookups.Hits)
}

func TestDaemon_Health(t *testing.T) {
	d := testDaemon(t, nil)

	rec := get(t, d, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resilkit")
}

func TestDaemon_LookupsAreRateLimitedPerClient(t *testing.T) {
	d := testDaemon(t, func(c *config.Config) {
		c.Limiter.Capacity = 1
		c.Limiter.RefillRate = 0.5
	})
	d.store.HandleMessage(setMsg(t, "k", `1`, 1))

	assert.Equal(t, http.StatusOK, get(t, d, "/state/k").Code)

	rec := get(t, d, "/state/k")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestDaemon_SnapshotsAreThrottled(t *testing.T) {
	d := testDaemon(t, nil)

	assert.Equal(t, http.StatusOK, get(t, d, "/snapshot").Code)
	assert.Equal(t, http.StatusOK, get(t, d, "/snapshot").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, d, "/snapshot").Code)
}
