package transport

import (
	"errors"
	"fmt"
	"net/url"
)

// ChatPath is the fixed path of the chat socket on the forum server.
const ChatPath = "/api/chat/ws"

// ErrNoEndpoint is returned when neither a base URL nor a fallback origin is configured.
var ErrNoEndpoint = errors.New("no base url or fallback origin configured")

// ResolveEndpoint derives the chat socket URL from the forum's base URL by
// swapping the scheme to its websocket equivalent and replacing the path.
// An empty baseURL falls back to fallbackOrigin.
func ResolveEndpoint(baseURL, fallbackOrigin string) (string, error) {
	raw := baseURL
	if raw == "" {
		raw = fallbackOrigin
	}
	if raw == "" {
		return "", ErrNoEndpoint
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", raw, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no host", raw)
	}
	u.Path = ChatPath
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String(), nil
}
