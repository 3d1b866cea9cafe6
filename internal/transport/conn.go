package transport

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
)

// Conn abstracts the websocket connection so Session can be tested without a
// real server. *websocket.Conn satisfies this interface.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Dialer opens a connection to the chat endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with github.com/coder/websocket.
type WebsocketDialer struct {
	HTTPClient *http.Client
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
