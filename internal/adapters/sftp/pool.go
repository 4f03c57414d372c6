package sftp

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gasops/bankbridge/internal/apperrors"
	"github.com/gasops/bankbridge/internal/core/domain"
	portssvc "github.com/gasops/bankbridge/internal/core/ports/services"
	"github.com/gasops/bankbridge/internal/metrics"
)

// PoolOptions tunes pool behaviour; zero values fall back to defaults.
type PoolOptions struct {
	AcquireTimeout      time.Duration // default 10s
	HealthCheckInterval time.Duration // default 60s
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 10 * time.Second
	}
	if o.HealthCheckInterval <= 0 {
		o.HealthCheckInterval = time.Minute
	}
	return o
}

// Pool is the bounded connection pool for one bank. The slot channel holds
// one token per open connection, so the configured max can never be exceeded
// no matter how callers interleave Acquire and Release.
type Pool struct {
	bank    domain.BankConfiguration
	dialer  Dialer
	secrets portssvc.SecretProvider
	opts    PoolOptions
	logger  *slog.Logger
	reg     *metrics.Registry

	idle  chan Conn
	slots chan struct{}

	stopOnce sync.Once
	stopped  chan struct{}
}

func newPool(bank domain.BankConfiguration, dialer Dialer, secrets portssvc.SecretProvider,
	opts PoolOptions, logger *slog.Logger, reg *metrics.Registry) *Pool {
	size := bank.PoolSize()
	p := &Pool{
		bank:    bank,
		dialer:  dialer,
		secrets: secrets,
		opts:    opts.withDefaults(),
		logger:  logger.With(slog.String("bank_code", bank.BankCode)),
		reg:     reg,
		idle:    make(chan Conn, size),
		slots:   make(chan struct{}, size),
		stopped: make(chan struct{}),
	}
	go p.healthLoop()
	return p
}

// Acquire returns an idle, health-checked connection, dialing a new one when
// the pool is below its max. At max it blocks up to the acquire timeout and
// then fails with a PoolExhaustedError.
func (p *Pool) Acquire(ctx context.Context) (Conn, error) {
	deadline := time.NewTimer(p.opts.AcquireTimeout)
	defer deadline.Stop()

	for {
		// Prefer an idle connection over dialing.
		select {
		case c := <-p.idle:
			if err := c.Keepalive(); err != nil {
				p.discard(c, err)
				continue
			}
			return c, nil
		default:
		}

		select {
		case c := <-p.idle:
			if err := c.Keepalive(); err != nil {
				p.discard(c, err)
				continue
			}
			return c, nil
		case p.slots <- struct{}{}:
			c, err := p.dial(ctx)
			if err != nil {
				<-p.slots
				return nil, err
			}
			p.reg.SetConnectionsActive(p.bank.BankCode, len(p.slots))
			return c, nil
		case <-deadline.C:
			return nil, &apperrors.PoolExhaustedError{BankCode: p.bank.BankCode, Waited: p.opts.AcquireTimeout}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a connection to the idle set, or discards it when the
// caller saw it fail.
func (p *Pool) Release(c Conn, healthy bool) {
	if c == nil {
		return
	}
	if !healthy {
		p.discard(c, nil)
		return
	}
	select {
	case p.idle <- c:
	default:
		// Idle set full; should not happen since capacity equals max open,
		// but never block a releasing caller.
		p.discard(c, nil)
	}
}

func (p *Pool) dial(ctx context.Context) (Conn, error) {
	creds, err := p.secrets.GetCredentials(ctx, p.bank.BankCode)
	if err != nil {
		return nil, err
	}
	c, err := p.dialer.Dial(ctx, p.bank, creds)
	if err != nil {
		p.logger.Warn("SFTP dial failed", slog.String("error", err.Error()))
		return nil, err
	}
	return c, nil
}

func (p *Pool) discard(c Conn, cause error) {
	if err := c.Close(); err != nil {
		p.logger.Debug("Closing discarded connection failed", slog.String("error", err.Error()))
	}
	<-p.slots
	p.reg.SetConnectionsActive(p.bank.BankCode, len(p.slots))
	if cause != nil {
		p.logger.Warn("Discarded unhealthy connection", slog.String("error", cause.Error()))
	}
}

// healthLoop keepalives idle connections on the configured interval. A
// connection failing the check is closed and removed, not returned to idle.
func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopped:
			return
		case <-ticker.C:
			p.sweepIdle()
		}
	}
}

func (p *Pool) sweepIdle() {
	n := len(p.idle)
	for i := 0; i < n; i++ {
		select {
		case c := <-p.idle:
			if err := c.Keepalive(); err != nil {
				p.discard(c, err)
				continue
			}
			p.Release(c, true)
		default:
			return
		}
	}
}

// Close stops the health loop and closes every idle connection. In-flight
// connections are closed by their holders via Release.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopped) })
	for {
		select {
		case c := <-p.idle:
			p.discard(c, nil)
		default:
			return
		}
	}
}

// Manager owns one pool per configured bank. It implements the
// ConnectionPoolSvc port consumed by the transfer executor.
type Manager struct {
	pools map[string]*Pool
}

var _ portssvc.ConnectionPoolSvc = (*Manager)(nil)

// NewManager builds the per-bank pools from the bank directory.
func NewManager(banks portssvc.BankDirectory, dialer Dialer, secrets portssvc.SecretProvider,
	opts PoolOptions, logger *slog.Logger, reg *metrics.Registry) *Manager {
	pools := make(map[string]*Pool)
	for _, bank := range banks.All() {
		pools[bank.BankCode] = newPool(bank, dialer, secrets, opts, logger, reg)
	}
	return &Manager{pools: pools}
}

// Acquire draws a connection from the named bank's pool.
func (m *Manager) Acquire(ctx context.Context, bankCode string) (Conn, error) {
	p, ok := m.pools[bankCode]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return p.Acquire(ctx)
}

// Release hands a connection back to the named bank's pool.
func (m *Manager) Release(bankCode string, c Conn, healthy bool) {
	if p, ok := m.pools[bankCode]; ok {
		p.Release(c, healthy)
	}
}

// Close shuts every pool down.
func (m *Manager) Close() {
	for _, p := range m.pools {
		p.Close()
	}
}
