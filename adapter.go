package livechat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// State is a snapshot of an Adapter. Messages and the frames in it are
// copies the caller owns.
type State struct {
	Connected bool
	Messages  []json.RawMessage
	Err       error

	// Received counts every message recorded, including any evicted by
	// WithMaxMessages. Received-len(Messages) frames have been dropped.
	Received int

	// Version increases with every change, so consumers receiving snapshots
	// from several goroutines can drop older ones.
	Version uint64
}

// Adapter exposes a shared live chat connection as observable state for a
// UI: connection status, every inbound frame, and the last failure.
//
// Operations never return errors. Failures are stored in State.Err as an
// *Error and logged. The Adapter is safe for concurrent use.
type Adapter struct {
	pool *Pool
	cfg  Config
	opts adapterConfig

	mu          sync.Mutex
	lease       *Lease
	want        bool
	connected   bool
	err         error
	messages    *messageLog
	version     uint64
	generation  uint64
	cancel      context.CancelFunc
	listener    ListenerID
	listenerGen uint64
	mounted     bool
	unmounted   bool
	subs        []subscriber
	nextSub     uint64
}

type subscriber struct {
	id uint64
	fn func(State)
}

// NewAdapter creates an unmounted adapter. The session is acquired from pool
// with cfg on the first Connect.
func NewAdapter(pool *Pool, cfg Config, opts ...AdapterOption) *Adapter {
	ac := defaultAdapterConfig()
	for _, opt := range opts {
		opt(&ac)
	}

	return &Adapter{
		pool:     pool,
		cfg:      cfg,
		opts:     ac,
		messages: newMessageLog(ac.maxMessages),
	}
}

// Mount activates the adapter and, unless auto-connect is disabled, connects
// before returning. Calling Mount more than once has no effect.
func (a *Adapter) Mount(ctx context.Context) {
	a.mu.Lock()
	if a.mounted || a.unmounted {
		a.mu.Unlock()
		return
	}
	a.mounted = true
	auto := a.opts.autoConnect
	a.mu.Unlock()

	if auto {
		a.Connect(ctx)
	}
}

// Connect connects the shared session and starts collecting messages.
// The outcome is reported through State; Connect itself never fails.
// A result that arrives after a later Connect, Disconnect or Unmount is
// discarded.
func (a *Adapter) Connect(ctx context.Context) {
	a.mu.Lock()
	if a.unmounted {
		a.mu.Unlock()
		a.opts.logger.Debug("connect ignored", slog.Any("error", ErrUnmounted))
		return
	}

	if a.lease == nil {
		lease, err := a.pool.Acquire(a.cfg)
		if err != nil {
			a.failConnectLocked(nil, err)
			return
		}
		a.lease = lease
	}

	a.generation++
	gen := a.generation
	a.want = true
	if a.cancel != nil {
		a.cancel()
	}
	connectCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	lease := a.lease
	conn := lease.Conn()
	a.mu.Unlock()

	err := connectLease(connectCtx, lease)
	cancel()

	a.mu.Lock()
	if gen != a.generation || a.unmounted {
		// A connect that completed after Disconnect must not leave our
		// claim on the session behind.
		idle := err == nil && !a.want && lease.withdraw()
		a.mu.Unlock()
		a.opts.logger.Debug("discarding stale connect result", slog.Uint64("generation", gen))
		if idle {
			if err := lease.disconnect(); err != nil {
				a.opts.logger.Debug("session disconnect", slog.Any("error", err))
			}
		}
		return
	}
	a.cancel = nil

	if err != nil {
		a.failConnectLocked(conn, err)
		return
	}

	if a.listener != "" {
		conn.OffMessage(a.listener)
	}
	a.listenerGen = gen
	a.listener = conn.OnMessage(func(raw json.RawMessage) {
		a.handleMessage(gen, raw)
	})
	a.connected = true
	a.err = nil
	notify := a.changedLocked()
	a.mu.Unlock()

	notify()
}

// failConnectLocked records a connect failure and unlocks a.mu.
func (a *Adapter) failConnectLocked(conn Conn, err error) {
	if conn != nil && a.listener != "" {
		conn.OffMessage(a.listener)
	}
	a.listener = ""
	a.connected = false
	a.err = &Error{Kind: ErrorKindConnectionFailed, Err: err}
	notify := a.changedLocked()
	a.mu.Unlock()

	a.opts.logger.Error("failed to connect", slog.Any("error", err))
	notify()
}

// connectLease connects through lease, turning a panic into an error.
func connectLease(ctx context.Context, lease *Lease) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("connection failed: %v", r)
		}
	}()
	return lease.Connect(ctx)
}

// Disconnect stops collecting messages and withdraws this adapter's claim on
// the session, which is disconnected once no other adapter sharing it is
// connected. Messages, the last error and the session handle are kept.
// Without a session handle it does nothing.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	if a.lease == nil || a.unmounted {
		a.mu.Unlock()
		return
	}
	lease := a.lease
	a.detachLocked()
	idle := lease.withdraw()
	notify := a.changedLocked()
	a.mu.Unlock()

	if idle {
		if err := lease.disconnect(); err != nil {
			a.opts.logger.Debug("session disconnect", slog.Any("error", err))
		}
	}
	notify()
}

// detachLocked invalidates in-flight connects and removes the listener.
func (a *Adapter) detachLocked() {
	a.generation++
	a.want = false
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}

	conn := a.lease.Conn()
	if a.listener != "" {
		conn.OffMessage(a.listener)
		a.listener = ""
	}
	a.connected = false
}

// SendMessage sends text as a user turn without waiting for a reply.
// If this adapter or the session is not connected nothing is sent and
// State.Err reports ErrorKindSendWhileDisconnected.
func (a *Adapter) SendMessage(ctx context.Context, text string) {
	a.mu.Lock()
	if a.unmounted {
		a.mu.Unlock()
		a.opts.logger.Debug("send ignored", slog.Any("error", ErrUnmounted))
		return
	}
	lease, connected := a.lease, a.connected
	a.mu.Unlock()

	if lease == nil || !connected || !lease.Conn().IsConnected() {
		a.fail(ErrorKindSendWhileDisconnected, ErrNotConnected)
		return
	}

	if err := lease.Conn().SendUserMessage(ctx, text); err != nil {
		kind := ErrorKindSendFailed
		if errors.Is(err, ErrNotConnected) {
			kind = ErrorKindSendWhileDisconnected
		}
		a.fail(kind, err)
	}
}

func (a *Adapter) fail(kind ErrorKind, err error) {
	a.mu.Lock()
	if a.unmounted {
		a.mu.Unlock()
		return
	}
	a.err = &Error{Kind: kind, Err: err}
	notify := a.changedLocked()
	a.mu.Unlock()

	a.opts.logger.Error("cannot send message", slog.String("kind", string(kind)), slog.Any("error", err))
	notify()
}

// handleMessage appends raw unchanged if gen still owns the listener.
func (a *Adapter) handleMessage(gen uint64, raw json.RawMessage) {
	a.mu.Lock()
	if a.listener == "" || a.listenerGen != gen || a.unmounted {
		a.mu.Unlock()
		return
	}
	a.messages.append(raw)
	notify := a.changedLocked()
	a.mu.Unlock()

	notify()
}

// State returns the current snapshot.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stateLocked()
}

func (a *Adapter) stateLocked() State {
	return State{
		Connected: a.connected,
		Messages:  a.messages.snapshot(),
		Err:       a.err,
		Received:  a.messages.received(),
		Version:   a.version,
	}
}

// Subscribe calls fn with a fresh snapshot after every change until the
// returned cancel func is called or the adapter is unmounted. fn must not
// block; it runs on the goroutine that caused the change.
func (a *Adapter) Subscribe(fn func(State)) (cancel func()) {
	a.mu.Lock()
	if a.unmounted {
		a.mu.Unlock()
		return func() {}
	}
	a.nextSub++
	id := a.nextSub
	a.subs = append(a.subs, subscriber{id: id, fn: fn})
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			for i, s := range a.subs {
				if s.id == id {
					a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// changedLocked bumps the version and returns a func that delivers the new
// snapshot to subscribers. Call it after releasing a.mu.
func (a *Adapter) changedLocked() func() {
	a.version++
	if len(a.subs) == 0 {
		return func() {}
	}

	st := a.stateLocked()
	fns := make([]func(State), len(a.subs))
	for i, s := range a.subs {
		fns[i] = s.fn
	}
	return func() {
		for _, fn := range fns {
			fn(st)
		}
	}
}

// Unmount tears the adapter down: in-flight connects are discarded, the
// listener is removed and the session lease is released. The session is
// closed if no other adapter holds it, and disconnected if no other adapter
// is connected. Later calls are no-ops.
func (a *Adapter) Unmount() {
	a.mu.Lock()
	if a.unmounted {
		a.mu.Unlock()
		return
	}
	a.unmounted = true
	a.subs = nil

	lease := a.lease
	if lease != nil {
		a.detachLocked()
		a.lease = nil
	} else {
		a.generation++
		a.want = false
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
	}
	a.mu.Unlock()

	if lease != nil {
		lease.Release()
	}
}
