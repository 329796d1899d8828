package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ListenerID identifies a registered message handler.
type ListenerID string

// MessageHandler receives raw inbound frames.
type MessageHandler func(raw json.RawMessage)

// Conn is the contract an Adapter needs from a live chat session.
// Session is the production implementation.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	SendUserMessage(ctx context.Context, text string) error
	OnMessage(fn MessageHandler) ListenerID
	OffMessage(id ListenerID)
	Close() error
}

// Session is a Gemini Live session reached through the AI gateway.
// It is safe for concurrent use by multiple goroutines. A Session can be
// connected and disconnected repeatedly until Close is called.
type Session struct {
	cfg  Config
	opts sessionConfig

	// connectMu serializes Connect so concurrent callers share one dial.
	connectMu sync.Mutex

	mu        sync.RWMutex
	transport Transport
	cancel    context.CancelFunc
	connected bool
	closed    bool
	handlers  map[ListenerID]MessageHandler
	order     []ListenerID
}

var _ Conn = (*Session)(nil)

// NewSession creates a disconnected session for cfg.
func NewSession(cfg Config, opts ...SessionOption) *Session {
	sc := sessionConfig{}
	for _, opt := range opts {
		opt(&sc)
	}
	if sc.dial == nil {
		sc.dial = func(ctx context.Context, cfg Config) (Transport, error) {
			return Dial(ctx, cfg, nil)
		}
	}

	return &Session{
		cfg:      cfg,
		opts:     sc,
		handlers: make(map[ListenerID]MessageHandler),
	}
}

// Config returns the configuration the session was created with.
func (s *Session) Config() Config {
	return s.cfg
}

// Connect dials the gateway and completes the setup handshake.
// It returns nil immediately if the session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.RLock()
	closed, connected := s.closed, s.connected
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if connected {
		return nil
	}

	transport, err := s.opts.dial(ctx, s.cfg)
	if err != nil {
		return err
	}

	if err := s.handshake(ctx, transport); err != nil {
		transport.Close()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		transport.Close()
		return ErrClosed
	}
	s.transport = transport
	s.cancel = cancel
	s.connected = true
	s.mu.Unlock()

	if s.opts.logger != nil {
		s.opts.logger.Info("session connected", slog.String("model", modelResource(s.cfg.Model)))
	}

	go s.readLoop(loopCtx, transport)

	return nil
}

// handshake sends the setup frame and waits for setupComplete.
func (s *Session) handshake(ctx context.Context, transport Transport) error {
	if err := s.send(ctx, transport, NewSetupFrame(s.cfg.Model)); err != nil {
		return err
	}

	raw, err := transport.Receive(ctx)
	if err != nil {
		return err
	}
	if s.opts.onReceive != nil {
		s.opts.onReceive(raw)
	}

	msg, err := ParseServerMessage(raw)
	if err != nil {
		return &ProtocolError{Message: "malformed setup response: " + err.Error()}
	}
	if msg.IsError() {
		return &ProtocolError{Code: msg.Error.Status, Message: msg.Error.Message}
	}
	if !msg.IsSetupComplete() {
		return ErrUnexpectedFrame
	}
	return nil
}

// Disconnect closes the current connection. Listeners stay registered.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	transport, cancel := s.transport, s.cancel
	s.transport = nil
	s.cancel = nil
	s.connected = false
	s.mu.Unlock()

	if transport == nil {
		return nil
	}

	err := transport.Close()
	cancel()

	if s.opts.logger != nil {
		s.opts.logger.Info("session disconnected")
	}
	return err
}

// IsConnected reports whether the session has a live connection.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// SendUserMessage sends text as a completed user turn.
func (s *Session) SendUserMessage(ctx context.Context, text string) error {
	s.mu.RLock()
	transport, connected := s.transport, s.connected
	s.mu.RUnlock()

	if !connected || transport == nil {
		return ErrNotConnected
	}

	return s.send(ctx, transport, NewUserTextFrame(text))
}

// OnMessage registers fn for every inbound frame and returns its id.
// Handlers run on the read goroutine in registration order.
func (s *Session) OnMessage(fn MessageHandler) ListenerID {
	id := ListenerID(uuid.NewString())

	s.mu.Lock()
	s.handlers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	return id
}

// OffMessage removes a handler. Unknown ids are ignored.
func (s *Session) OffMessage(id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handlers[id]; !ok {
		return
	}
	delete(s.handlers, id)
	s.order = slices.DeleteFunc(s.order, func(v ListenerID) bool { return v == id })
}

// Listeners returns the number of registered handlers.
func (s *Session) Listeners() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Close disconnects and drops every handler. A closed session cannot reconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handlers = make(map[ListenerID]MessageHandler)
	s.order = nil
	s.mu.Unlock()

	return s.Disconnect()
}

// readLoop delivers frames to handlers until the transport fails or closes.
func (s *Session) readLoop(ctx context.Context, transport Transport) {
	for {
		raw, err := transport.Receive(ctx)
		if err != nil {
			s.mu.Lock()
			owned := s.transport == transport
			if owned {
				s.transport = nil
				s.cancel = nil
				s.connected = false
			}
			s.mu.Unlock()

			if owned {
				transport.Close()
				if s.opts.logger != nil && !errors.Is(err, ErrClosed) {
					s.opts.logger.Warn("session read failed", slog.Any("error", err))
				}
			}
			return
		}

		if s.opts.onReceive != nil {
			s.opts.onReceive(raw)
		}

		if s.opts.logger != nil {
			s.opts.logger.Debug("received frame", slog.Int("bytes", len(raw)))
		}

		s.dispatch(raw)
	}
}

// dispatch invokes every registered handler with raw.
func (s *Session) dispatch(raw json.RawMessage) {
	s.mu.RLock()
	handlers := make([]MessageHandler, 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		fn(raw)
	}
}

// send writes a frame through transport.
func (s *Session) send(ctx context.Context, transport Transport, frame any) error {
	if s.opts.onSend != nil {
		s.opts.onSend(frame)
	}

	if s.opts.logger != nil {
		s.opts.logger.Debug("sending frame", slog.String("type", frameType(frame)))
	}

	return transport.Send(ctx, frame)
}

func frameType(frame any) string {
	switch frame.(type) {
	case *SetupFrame:
		return "setup"
	case *ClientContentFrame:
		return "clientContent"
	default:
		return "unknown"
	}
}
