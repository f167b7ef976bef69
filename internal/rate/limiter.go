package rate

import (
	"context"
	"sync"
	"time"
)

// Keys of the external targets the onboarding service throttles.
const (
	KeyRPC      = "rpc"
	KeyIPFS     = "ipfs"
	KeyExchange = "exchange"
)

// Config defines rate limiting parameters for one external target.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown suspends the bucket after it runs dry; zero disables it.
	Cooldown time.Duration
}

// Limiter is a token bucket.
type Limiter struct {
	mu         sync.Mutex
	now        func() time.Time
	tokens     float64
	last       time.Time
	rate       float64
	burst      float64
	cooldown   time.Duration
	blockedTil time.Time
}

// New creates a limiter with a full bucket. A non-positive rate disables
// limiting.
func New(cfg Config) *Limiter {
	return newWithClock(cfg, time.Now)
}

func newWithClock(cfg Config, now func() time.Time) *Limiter {
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		now:      now,
		tokens:   float64(burst),
		last:     now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(burst),
		cooldown: cfg.Cooldown,
	}
}

// Allow takes a token if one is available.
func (l *Limiter) Allow() bool {
	ok, _ := l.reserve()
	return ok
}

// reserve takes a token or reports how long until one is available.
func (l *Limiter) reserve() (bool, time.Duration) {
	if l.rate <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Before(l.blockedTil) {
		return false, l.blockedTil.Sub(now)
	}

	l.tokens += now.Sub(l.last).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.last = now

	if l.tokens >= 1 {
		l.tokens--
		return true, 0
	}

	if l.cooldown > 0 {
		l.blockedTil = now.Add(l.cooldown)
		return false, l.cooldown
	}
	deficit := (1 - l.tokens) / l.rate
	return false, time.Duration(deficit * float64(time.Second))
}

// Wait blocks until a token is taken or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		ok, delay := l.reserve()
		if ok {
			return nil
		}
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// Manager holds one limiter per target key.
type Manager struct {
	mu        sync.RWMutex
	limiters  map[string]*Limiter
	overrides map[string]Config
	defaults  Config
}

func NewManager(defaults Config) *Manager {
	return &Manager{
		limiters:  make(map[string]*Limiter),
		overrides: make(map[string]Config),
		defaults:  defaults,
	}
}

// Configure sets the parameters used for key. It replaces any limiter
// already created for key.
func (m *Manager) Configure(key string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[key] = cfg
	delete(m.limiters, key)
}

func (m *Manager) GetLimiter(key string) *Limiter {
	m.mu.RLock()
	if lim, ok := m.limiters[key]; ok {
		m.mu.RUnlock()
		return lim
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if lim, ok := m.limiters[key]; ok {
		return lim
	}
	cfg, ok := m.overrides[key]
	if !ok {
		cfg = m.defaults
	}
	lim := New(cfg)
	m.limiters[key] = lim
	return lim
}

// Wait blocks until a call to key is allowed. A nil Manager never blocks.
func (m *Manager) Wait(ctx context.Context, key string) error {
	if m == nil {
		return ctx.Err()
	}
	return m.GetLimiter(key).Wait(ctx)
}
