// Package streaming bridges an eventbus.Subscription to a websocket
// connection, letting a web collaborator push build events to a browser
// without the core depending on any HTTP routing.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sremani/chengis/internal/domain/event"
	"github.com/sremani/chengis/internal/eventbus"
	"github.com/sremani/chengis/internal/logging"
)

// WriteDeadline bounds how long a single frame write may block before the
// connection is considered dead.
const WriteDeadline = 10 * time.Second

// PingInterval is how often a keepalive ping is sent on an otherwise idle
// connection.
const PingInterval = 30 * time.Second

// Conn is the subset of *websocket.Conn this package needs, so callers can
// substitute a fake in tests.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Pump copies events from sub to conn as JSON text frames until sub's
// channel closes or a write (of an event or a ping) fails. It sends
// periodic pings so a reverse proxy does not idle the connection out.
func Pump(conn Conn, sub *eventbus.Subscription, log *logging.Logger) error {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	defer sub.Close()

	for {
		select {
		case evt, ok := <-sub.Events:
			if !ok {
				return nil
			}
			if err := writeEvent(conn, evt); err != nil {
				if log != nil {
					log.WithError(err).WithField("build_id", sub.BuildID).Warn("streaming: write failed, closing")
				}
				return err
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(WriteDeadline))
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteDeadline)); err != nil {
				return err
			}
		}
	}
}

func writeEvent(conn Conn, evt event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(WriteDeadline)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}
