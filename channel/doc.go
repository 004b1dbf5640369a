// Package channel maintains a long-lived feed connection that survives
// transient disconnects.
//
// A Channel dials an endpoint through a Transport, parses inbound frames as
// JSON Message envelopes and hands them to a Handler. After an unclean close
// it schedules a reconnect: the Nth consecutive failure waits
//
//	min(BaseDelay * Multiplier^(N-1), MaxDelay)
//
// and after MaxReconnectAttempts failures the channel stops, moves to
// StatusError and reports "failed to reconnect after N attempts" through
// LastError. Reconnect clears that state; a successful open clears it too.
//
// Malformed frames are logged and dropped without touching the connection.
//
// Two transports are provided: WebSocketTransport (gorilla/websocket) and
// NATSTransport (nats.go core subscriptions). Tests can inject their own.
//
// Basic usage:
//
//	cfg := channel.DefaultConfig("wss://feeds.example.com/events")
//	cfg.Query = map[string]string{"topic": "docket-42"}
//
//	ch, err := channel.New(cfg, channel.NewWebSocketTransport(), func(m channel.Message) {
//	    log.Println(m.Type, m.ID)
//	}, channel.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	_ = ch.Connect(ctx)
//	defer ch.Disconnect()
package channel
