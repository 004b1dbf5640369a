package channel

import "context"

// Events receives what happens on one transport connection.
//
// A Transport calls OnMessage for a connection sequentially, in arrival
// order. OnError and OnClose may come from other goroutines, concurrently
// with OnMessage, and a message may still arrive after OnClose. OnClose is
// reported at most once. Channel drops events that arrive after the
// connection was closed or replaced.
type Events interface {
	// OnMessage is called for every inbound frame.
	OnMessage(data []byte)

	// OnError reports a transport error that does not by itself end the
	// connection.
	OnError(err error)

	// OnClose reports the end of the connection. clean is true for an
	// expected close (normal closure, local Close); err describes an
	// unclean close.
	OnClose(clean bool, err error)
}

// Transport opens connections to a feed endpoint. A successful Dial is the
// open event.
type Transport interface {
	Dial(ctx context.Context, endpoint string, events Events) (Conn, error)
}

// Conn is an open transport connection.
type Conn interface {
	// Close closes the connection. It is safe to call more than once.
	Close() error
}
