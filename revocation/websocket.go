package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/gorilla/websocket"
)

// WebsocketSource subscribes to a revocation endpoint over a websocket.
// The connection is dialed once; any read failure is terminal and surfaces
// through Next. There is no automatic reconnect at this layer.
type WebsocketSource struct {
	conn *websocket.Conn
	log  *slog.Logger
}

// DialWebsocket connects to the revocation endpoint (ws:// or wss://).
func DialWebsocket(ctx context.Context, url string, log *slog.Logger) (*WebsocketSource, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("could not connect to revocation endpoint: %w", err)
	}

	log.Info("Subscribed to revocation notices", "url", url)
	return &WebsocketSource{conn: conn, log: log}, nil
}

// Next implements Source. Messages that do not decode as notices are
// dropped; read failures are terminal.
func (s *WebsocketSource) Next(ctx context.Context) (Notice, error) {
	// The websocket read has no context support of its own; cancellation
	// unblocks it by closing the connection.
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Notice{}, ctx.Err()
			}
			return Notice{}, fmt.Errorf("could not read notice: %w", err)
		}

		var notice Notice
		if err := json.Unmarshal(data, &notice); err != nil {
			s.log.Warn("Dropping undecodable revocation message", "err", err)
			continue
		}
		return notice, nil
	}
}

// Close closes the underlying connection.
func (s *WebsocketSource) Close() error {
	return s.conn.Close()
}
