package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"netprobe/internal/netprobe/domain"
	"netprobe/internal/netprobe/sink"
	errs "netprobe/pkg/errors"
)

const wsWriteWait = 10 * time.Second

// handleDuplexUpload upgrades to a WebSocket and acknowledges every inbound
// message with {"bytes": n, "dt": seconds since the previous one}.
func (s *Server) handleDuplexUpload(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		requestLogger(r).Debug("websocket upgrade rejected", "error", err)
		return
	}
	ws.SetReadLimit(s.cfg.Duplex.MaxMessageSize)

	conn := &wsConn{
		ws:          ws,
		sink:        s.sink,
		idleTimeout: s.cfg.Duplex.IdleTimeout,
	}

	// The request context ends once the handler returns, which is after Serve.
	s.sessions.Serve(r.Context(), conn)
}

// wsConn adapts a gorilla WebSocket connection to session.Conn.
type wsConn struct {
	ws          *websocket.Conn
	sink        *sink.Sink
	idleTimeout time.Duration
	closeSent   bool
}

func (c *wsConn) Receive(ctx context.Context) (int, error) {
	if c.idleTimeout > 0 {
		if err := c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return 0, fmt.Errorf("%w: %v", errs.ErrTransport, err)
		}
	}

	for {
		msgType, rd, err := c.ws.NextReader()
		if err != nil {
			return 0, classifyWSError(err)
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}

		n, err := c.sink.Consume(ctx, rd)
		if err != nil {
			return 0, err
		}
		return int(n), nil
	}
}

func (c *wsConn) Acknowledge(ctx context.Context, sample domain.ThroughputSample) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(sample)
}

func (c *wsConn) Close() error {
	if !c.closeSent {
		c.closeSent = true
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	}
	return c.ws.Close()
}

// classifyWSError maps peer-initiated closes to io.EOF and everything else
// to a transport fault.
func classifyWSError(err error) error {
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	if errors.Is(err, sink.ErrTooLarge) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrTransport, err)
}
