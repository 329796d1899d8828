package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
)

// GatewayBaseURL is the Cloudflare AI Gateway websocket base.
const GatewayBaseURL = "wss://gateway.ai.cloudflare.com/v1"

// Transport provides the interface for sending and receiving frames.
// Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, frame any) error
	Receive(ctx context.Context) (json.RawMessage, error)
	Close() error
}

// DialFunc opens a Transport for a Config.
type DialFunc func(ctx context.Context, cfg Config) (Transport, error)

// DialOptions configures the WebSocket connection.
type DialOptions struct {
	// HTTPHeader specifies additional HTTP headers to send during handshake.
	HTTPHeader http.Header

	// HTTPClient is the HTTP client used for the handshake.
	// If nil, http.DefaultClient is used.
	HTTPClient *http.Client
}

// GatewayURL returns the websocket URL for cfg. Endpoint wins when set;
// otherwise the Cloudflare gateway URL is built from AccountID and GatewayName.
func GatewayURL(cfg Config) (string, error) {
	base := cfg.Endpoint
	if base == "" {
		if cfg.AccountID == "" {
			return "", &ConfigError{Field: "AccountID", Message: "required when Endpoint is empty"}
		}
		if cfg.GatewayName == "" {
			return "", &ConfigError{Field: "GatewayName", Message: "required when Endpoint is empty"}
		}
		base = fmt.Sprintf("%s/%s/%s/google", GatewayBaseURL,
			url.PathEscape(cfg.AccountID), url.PathEscape(cfg.GatewayName))
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", &ConfigError{Field: "Endpoint", Message: err.Error()}
	}
	if cfg.APIKey != "" {
		q := u.Query()
		q.Set("api_key", cfg.APIKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Dial connects to the gateway and returns a Transport.
func Dial(ctx context.Context, cfg Config, opts *DialOptions) (Transport, error) {
	target, err := GatewayURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if opts != nil && opts.HTTPHeader != nil {
		headers = opts.HTTPHeader.Clone()
	}
	if cfg.AuthToken != "" {
		headers.Set("cf-aig-authorization", "Bearer "+cfg.AuthToken)
	}
	if cfg.APIKey != "" {
		headers.Set("x-goog-api-key", cfg.APIKey)
	}

	dialOpts := &websocket.DialOptions{
		HTTPHeader: headers,
	}
	if opts != nil && opts.HTTPClient != nil {
		dialOpts.HTTPClient = opts.HTTPClient
	}

	conn, _, err := websocket.Dial(ctx, target, dialOpts)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", URL: redactURL(target), Err: redactDialError(err)}
	}

	conn.SetReadLimit(32 * 1024 * 1024) // 32MB

	return &wsTransport{conn: conn}, nil
}

// redactDialError drops the handshake URL, which carries the API key, from
// err's message while keeping the underlying cause.
func redactDialError(err error) error {
	var ue *url.Error
	if !errors.As(err, &ue) {
		return err
	}
	return &url.Error{Op: ue.Op, URL: redactURL(ue.URL), Err: ue.Err}
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// wsTransport implements Transport over WebSocket.
type wsTransport struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Send encodes frame as JSON and writes it as a text message.
func (t *wsTransport) Send(ctx context.Context, frame any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return &SendError{Op: "marshal", Err: err}
	}

	if err := t.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &ConnectionError{Op: "write", Err: err}
	}

	return nil
}

// Receive returns the next frame. Binary frames are passed through as-is;
// the gateway sends JSON in both frame types.
func (t *wsTransport) Receive(ctx context.Context) (json.RawMessage, error) {
	_, data, err := t.conn.Read(ctx)
	if err != nil {
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}
		return nil, &ConnectionError{Op: "read", Err: err}
	}

	if !json.Valid(data) {
		return nil, &ProtocolError{Message: "received non-JSON frame"}
	}

	return json.RawMessage(data), nil
}

// Close closes the transport.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	// Not under mu: the close handshake may wait on a concurrent Receive.
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
