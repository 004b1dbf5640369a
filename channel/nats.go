package channel

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/resilkit/errors"
)

// NATSTransport subscribes to a feed subject on a NATS server.
//
// The subject is taken from the endpoint's "subject" query parameter,
// falling back to Subject. The client's own reconnect logic is disabled; the
// Channel decides when to reconnect.
type NATSTransport struct {
	Subject string
	Name    string
	Options []nats.Option
}

var _ Transport = (*NATSTransport)(nil)

// NewNATSTransport returns a transport subscribing to subject.
func NewNATSTransport(subject string) *NATSTransport {
	return &NATSTransport{Subject: subject, Name: "resilkit"}
}

// Dial connects to the server and subscribes to the subject.
func (t *NATSTransport) Dial(ctx context.Context, endpoint string, events Events) (Conn, error) {
	serverURL, subject, err := t.resolve(endpoint)
	if err != nil {
		return nil, err
	}

	nc := &natsConn{}
	opts := []nats.Option{
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil && !nc.closing.Load() && !nc.abandoned.Load() {
				events.OnError(err)
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if nc.abandoned.Load() {
				return
			}
			if nc.closing.Load() {
				events.OnClose(true, nil)
				return
			}
			events.OnClose(false, errors.ErrConnectionLost)
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			events.OnError(err)
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			opts = append(opts, nats.Timeout(remaining))
		}
	}
	if t.Name != "" {
		opts = append(opts, nats.Name(t.Name))
	}
	opts = append(opts, t.Options...)

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(serverURL, opts...)
		done <- result{conn, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.conn != nil {
				nc.abandoned.Store(true)
				late.conn.Close()
			}
		}()
		return nil, errors.WrapTransient(ctx.Err(), "nats_transport", "Dial", "connection cancelled")
	}
	if res.err != nil {
		return nil, errors.WrapTransient(res.err, "nats_transport", "Dial", "establish connection")
	}
	nc.conn = res.conn

	_, err = res.conn.Subscribe(subject, func(m *nats.Msg) {
		events.OnMessage(m.Data)
	})
	if err != nil {
		nc.abandoned.Store(true)
		res.conn.Close()
		return nil, errors.WrapTransient(err, "nats_transport", "Dial", fmt.Sprintf("subscribe %s", subject))
	}
	if err := res.conn.Flush(); err != nil {
		nc.abandoned.Store(true)
		res.conn.Close()
		return nil, errors.WrapTransient(err, "nats_transport", "Dial", "flush subscription")
	}
	return nc, nil
}

func (t *NATSTransport) resolve(endpoint string) (string, string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", errors.WrapInvalid(err, "nats_transport", "Dial", "parse endpoint")
	}
	subject := u.Query().Get("subject")
	if subject == "" {
		subject = t.Subject
	}
	if subject == "" {
		return "", "", errors.WrapInvalid(
			fmt.Errorf("%w: no subject in endpoint or transport", errors.ErrMissingConfig),
			"nats_transport", "Dial", "resolve subject")
	}
	u.RawQuery = ""
	return u.String(), subject, nil
}

type natsConn struct {
	conn    *nats.Conn
	closing atomic.Bool
	once    sync.Once

	// set when Dial fails after connecting; the close is not reported
	abandoned atomic.Bool
}

// Close closes the NATS connection. The resulting close event is clean.
func (c *natsConn) Close() error {
	c.once.Do(func() {
		c.closing.Store(true)
		if c.conn != nil {
			c.conn.Close()
		}
	})
	return nil
}
