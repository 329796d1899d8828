package livechat

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Config identifies the gateway, credentials and model for a session.
// Every field is optional; the session fills in defaults.
type Config struct {
	AccountID   string
	GatewayName string
	APIKey      string
	AuthToken   string
	Model       string

	// Endpoint overrides the gateway URL built from AccountID and GatewayName.
	Endpoint string
}

// --- Session Options ---

// SessionOption configures a Session.
type SessionOption func(*sessionConfig)

type sessionConfig struct {
	logger    *slog.Logger
	dial      DialFunc
	onSend    func(frame any)
	onReceive func(raw json.RawMessage)
}

// WithLogger sets a structured logger for the session.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

// WithDialer replaces the function used to open the transport.
func WithDialer(dial DialFunc) SessionOption {
	return func(c *sessionConfig) {
		c.dial = dial
	}
}

// WithDialOptions dials the gateway with custom handshake options.
func WithDialOptions(opts *DialOptions) SessionOption {
	return func(c *sessionConfig) {
		c.dial = func(ctx context.Context, cfg Config) (Transport, error) {
			return Dial(ctx, cfg, opts)
		}
	}
}

// WithOnSend sets a callback invoked before each frame is sent.
func WithOnSend(fn func(frame any)) SessionOption {
	return func(c *sessionConfig) {
		c.onSend = fn
	}
}

// WithOnReceive sets a callback invoked after each frame is received.
func WithOnReceive(fn func(raw json.RawMessage)) SessionOption {
	return func(c *sessionConfig) {
		c.onReceive = fn
	}
}

// --- Adapter Options ---

// AdapterOption configures an Adapter.
type AdapterOption func(*adapterConfig)

type adapterConfig struct {
	logger      *slog.Logger
	autoConnect bool
	maxMessages int
}

func defaultAdapterConfig() adapterConfig {
	return adapterConfig{
		logger:      slog.Default(),
		autoConnect: true,
	}
}

// WithAdapterLogger sets the logger that receives connect and send failures.
// Defaults to slog.Default().
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(c *adapterConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithAutoConnect controls whether Mount connects. Defaults to true.
func WithAutoConnect(enabled bool) AdapterOption {
	return func(c *adapterConfig) {
		c.autoConnect = enabled
	}
}

// WithMaxMessages bounds the message log to the newest n messages.
// Zero or negative keeps every message.
func WithMaxMessages(n int) AdapterOption {
	return func(c *adapterConfig) {
		if n < 0 {
			n = 0
		}
		c.maxMessages = n
	}
}
