//go:build integration

package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startNATS(t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start NATS container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return container, fmt.Sprintf("nats://%s:%s", host, port.Port())
}

func TestNATSTransport_Integration(t *testing.T) {
	container, serverURL := startNATS(t)

	cfg := DefaultConfig(serverURL)
	cfg.Query = map[string]string{"subject": "feeds.dockets"}
	cfg.BaseDelay = 100 * time.Millisecond
	cfg.MaxReconnectAttempts = 3

	received := make(chan Message, 8)
	ch, err := New(cfg, NewNATSTransport(""), func(m Message) { received <- m }, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer ch.Disconnect()

	require.NoError(t, ch.Connect(context.Background()))
	require.True(t, ch.IsConnected())

	pub, err := nats.Connect(serverURL)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish("feeds.dockets", []byte(`{"type":"docket.updated","id":"n-1"}`)))
	require.NoError(t, pub.Publish("feeds.dockets", []byte(`not json`)))
	require.NoError(t, pub.Publish("feeds.other", []byte(`{"type":"ignored"}`)))
	require.NoError(t, pub.Publish("feeds.dockets", []byte(`{"type":"docket.updated","id":"n-2"}`)))
	require.NoError(t, pub.Flush())

	for _, want := range []string{"n-1", "n-2"} {
		select {
		case m := <-received:
			assert.Equal(t, want, m.ID)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	assert.Equal(t, int64(2), ch.ReceivedCount())

	t.Run("server loss exhausts reconnects", func(t *testing.T) {
		require.NoError(t, container.Stop(context.Background(), nil))

		require.Eventually(t, func() bool {
			return ch.Status() == StatusError && ch.LastError() != nil
		}, 30*time.Second, 50*time.Millisecond)
		assert.Contains(t, ch.LastError().Error(), "failed to reconnect after 3 attempts")
	})
}
