package session

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// Conn is the duplex message transport a session owns. gorilla's *websocket.Conn
// satisfies it; tests substitute an in-memory fake.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Message type constants mirroring the websocket package, so callers of the
// Conn abstraction do not need to import it.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Dialer opens the duplex connection for one session.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials the streaming service over a real websocket.
type WebsocketDialer struct {
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	return conn, nil
}

// closeFrame is the graceful close handshake payload.
func closeFrame() []byte {
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}

func writeCloseFrame(c Conn) {
	_ = c.WriteMessage(websocket.CloseMessage, closeFrame())
}
