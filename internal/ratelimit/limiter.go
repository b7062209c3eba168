// Package ratelimit bounds how fast deposits enter the shielded pool.
//
// Two limits apply: a global cap on shields per fixed epoch window, and a
// per-owner token bucket that keeps one owner from consuming the whole epoch.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/shadowvault/core/pkg/types"
)

// Limiter errors
var (
	ErrRateLimited    = errors.New("deposit limit for this epoch reached")
	ErrOwnerThrottled = errors.New("owner is submitting too fast")
	ErrInvalidConfig  = errors.New("invalid rate limit config")
)

// Config holds limiter configuration
type Config struct {
	// MaxPerEpoch is the number of shields accepted per epoch
	MaxPerEpoch uint64 `json:"max_per_epoch"`

	// Epoch is the window length
	Epoch time.Duration `json:"epoch"`

	// OwnerRate is the sustained per-owner rate in requests per second;
	// 0 disables the per-owner bucket
	OwnerRate float64 `json:"owner_rate"`

	// OwnerBurst is the per-owner bucket size
	OwnerBurst int `json:"owner_burst"`

	// MaxOwners bounds the number of tracked buckets
	MaxOwners int `json:"max_owners"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxPerEpoch: 1000,
		Epoch:       10 * time.Minute,
		OwnerRate:   1,
		OwnerBurst:  5,
		MaxOwners:   10_000,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.MaxPerEpoch == 0 {
		return fmt.Errorf("%w: max_per_epoch must be positive", ErrInvalidConfig)
	}
	if c.Epoch < time.Second {
		return fmt.Errorf("%w: epoch %s shorter than 1s", ErrInvalidConfig, c.Epoch)
	}
	if c.OwnerRate < 0 || (c.OwnerRate > 0 && c.OwnerBurst <= 0) {
		return fmt.Errorf("%w: owner bucket %v/%d", ErrInvalidConfig, c.OwnerRate, c.OwnerBurst)
	}
	if c.OwnerRate > 0 && c.MaxOwners <= 0 {
		return fmt.Errorf("%w: max_owners must be positive", ErrInvalidConfig)
	}
	return nil
}

// Limiter counts admissions per epoch
type Limiter struct {
	mu sync.Mutex

	cfg   Config
	clock func() time.Time

	epoch int64
	count uint64

	owners *lru.Cache
}

// New creates a limiter. A nil clock uses time.Now.
func New(cfg *Config, clock func() time.Time) (*Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = time.Now
	}

	l := &Limiter{cfg: *cfg, clock: clock, epoch: -1}
	if cfg.OwnerRate > 0 {
		cache, err := lru.New(cfg.MaxOwners)
		if err != nil {
			return nil, err
		}
		l.owners = cache
	}
	return l, nil
}

// Allow admits one shield by owner or returns why it cannot be admitted.
// A rejected request does not consume the epoch budget.
func (l *Limiter) Allow(owner types.Hash) error {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(now)
	if l.count >= l.cfg.MaxPerEpoch {
		return fmt.Errorf("%w: %d in epoch %d", ErrRateLimited, l.count, l.epoch)
	}

	if l.owners != nil && !l.bucket(owner).AllowN(now, 1) {
		return ErrOwnerThrottled
	}

	l.count++
	return nil
}

// Remaining returns the admissions left in the current epoch
func (l *Limiter) Remaining() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(l.clock())
	return l.cfg.MaxPerEpoch - l.count
}

// Epoch returns the current epoch number
func (l *Limiter) Epoch() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.roll(l.clock())
	return l.epoch
}

func (l *Limiter) roll(now time.Time) {
	epoch := now.Unix() / int64(l.cfg.Epoch/time.Second)
	if epoch != l.epoch {
		l.epoch = epoch
		l.count = 0
	}
}

func (l *Limiter) bucket(owner types.Hash) *rate.Limiter {
	if v, ok := l.owners.Get(owner); ok {
		return v.(*rate.Limiter)
	}
	b := rate.NewLimiter(rate.Limit(l.cfg.OwnerRate), l.cfg.OwnerBurst)
	l.owners.Add(owner, b)
	return b
}
