package livechat

import (
	"context"
	"log/slog"
	"sync"
)

// ConnFactory builds the shared Conn for a Pool.
type ConnFactory func(cfg Config) (Conn, error)

// Pool hands out shared, reference-counted access to one Conn.
// The first Acquire builds the Conn; the last Release closes it.
// Holders connect and disconnect through their Lease, and the Conn is only
// disconnected once no holder wants it connected.
// It is safe for concurrent use by multiple goroutines.
type Pool struct {
	factory ConnFactory
	logger  *slog.Logger

	// opMu orders disconnects against claims so a disconnect never
	// lands after a holder has claimed the connected Conn.
	opMu sync.Mutex

	mu     sync.Mutex
	conn   Conn
	cfg    Config
	refs   int
	active int
}

// NewPool creates a Pool whose Conn is a Session built with opts.
func NewPool(opts ...SessionOption) *Pool {
	p := NewPoolWithFactory(func(cfg Config) (Conn, error) {
		return NewSession(cfg, opts...), nil
	})

	sc := sessionConfig{}
	for _, opt := range opts {
		opt(&sc)
	}
	p.logger = sc.logger

	return p
}

// NewPoolWithFactory creates a Pool that builds its Conn with factory.
// This is useful for testing or alternative session implementations.
func NewPoolWithFactory(factory ConnFactory) *Pool {
	return &Pool{factory: factory}
}

// Acquire returns a lease on the shared Conn, building it with cfg if none
// exists. Later callers share the existing Conn and their cfg is ignored.
func (p *Pool) Acquire(cfg Config) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		conn, err := p.factory(cfg)
		if err != nil {
			return nil, err
		}
		p.conn = conn
		p.cfg = cfg
	} else if cfg != p.cfg && p.logger != nil {
		p.logger.Warn("pool already holds a session with a different config; reusing it")
	}
	p.refs++

	return &Lease{pool: p, conn: p.conn}, nil
}

// Refs returns the number of outstanding leases.
func (p *Pool) Refs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refs
}

// Active returns the number of leases that want the Conn connected.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// release drops one reference. The last one closes the Conn; otherwise the
// Conn is disconnected if l was the last holder wanting it connected.
func (p *Pool) release(l *Lease) {
	p.mu.Lock()
	wasActive := l.active
	idle := p.withdrawLocked(l) && wasActive
	l.released = true
	if p.conn != l.conn || p.refs == 0 {
		p.mu.Unlock()
		return
	}
	p.refs--
	last := p.refs == 0
	if last {
		p.conn = nil
		p.cfg = Config{}
		p.active = 0
	}
	p.mu.Unlock()

	if last {
		if err := l.conn.Close(); err != nil && p.logger != nil {
			p.logger.Warn("closing shared session", slog.Any("error", err))
		}
		return
	}
	if idle {
		p.disconnectIfIdle(l.conn)
	}
}

// withdrawLocked clears l's claim and reports whether no holder of the
// current Conn still wants it connected.
func (p *Pool) withdrawLocked(l *Lease) bool {
	if l.active {
		l.active = false
		if p.conn == l.conn {
			p.active--
		}
	}
	return p.conn == l.conn && p.active == 0
}

// disconnectIfIdle disconnects conn unless a holder claimed it meanwhile.
func (p *Pool) disconnectIfIdle(conn Conn) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	idle := p.conn == conn && p.active == 0
	p.mu.Unlock()
	if !idle {
		return nil
	}

	err := conn.Disconnect()
	if err != nil && p.logger != nil {
		p.logger.Warn("disconnecting shared session", slog.Any("error", err))
	}
	return err
}

// Lease is one holder's reference to a Pool's Conn.
type Lease struct {
	pool *Pool
	conn Conn
	once sync.Once

	// guarded by pool.mu
	active   bool
	released bool
}

// Conn returns the shared connection.
func (l *Lease) Conn() Conn {
	return l.conn
}

// Connect connects the shared Conn and records this holder as wanting it
// connected. A released lease cannot claim the Conn and gets ErrClosed.
func (l *Lease) Connect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		if err := l.conn.Connect(ctx); err != nil {
			return err
		}

		l.pool.opMu.Lock()
		if !l.conn.IsConnected() {
			// Another holder's disconnect won the race; dial again.
			l.pool.opMu.Unlock()
			if err := ctx.Err(); err != nil {
				return err
			}
			if attempt+1 >= maxLeaseConnectAttempts {
				return ErrNotConnected
			}
			continue
		}
		claimed := l.claim()
		l.pool.opMu.Unlock()

		if claimed {
			return nil
		}
		l.pool.disconnectIfIdle(l.conn)
		return ErrClosed
	}
}

const maxLeaseConnectAttempts = 3

// claim records l as wanting the Conn connected. It fails once l has been
// released or the pool has moved on to a new Conn.
func (l *Lease) claim() bool {
	p := l.pool
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.released || p.conn != l.conn {
		return false
	}
	if !l.active {
		l.active = true
		p.active++
	}
	return true
}

// withdraw drops this holder's claim without touching the Conn and reports
// whether the Conn should now be disconnected with disconnect.
func (l *Lease) withdraw() bool {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.pool.withdrawLocked(l)
}

// disconnect disconnects the Conn if no holder wants it connected.
func (l *Lease) disconnect() error {
	return l.pool.disconnectIfIdle(l.conn)
}

// Disconnect withdraws this holder's claim on the connection. The shared
// Conn is disconnected only when no other holder wants it connected.
func (l *Lease) Disconnect() error {
	if !l.withdraw() {
		return nil
	}
	return l.disconnect()
}

// Active reports whether this holder currently wants the Conn connected.
func (l *Lease) Active() bool {
	l.pool.mu.Lock()
	defer l.pool.mu.Unlock()
	return l.active
}

// Release gives the reference back. Only the first call has any effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l)
	})
}
