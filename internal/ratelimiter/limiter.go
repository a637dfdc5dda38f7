package ratelimiter

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// KeyedLimiters holds one token bucket per key (a queue id or a sink name),
// created on first use. Burst equals the rate so no capacity is saved up
// beyond one second's worth.
//
// A non-positive rate disables limiting: Allow always succeeds and Wait
// returns immediately.
type KeyedLimiters struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates KeyedLimiters granting ratePerSec tokens per second per key.
func New(ratePerSec int) *KeyedLimiters {
	return &KeyedLimiters{
		limit:    rate.Limit(ratePerSec),
		burst:    ratePerSec,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Enabled reports whether the limiters enforce anything.
func (kl *KeyedLimiters) Enabled() bool {
	return kl != nil && kl.burst > 0
}

// Allow reports whether key may proceed now. Used on the request path where
// callers are rejected instead of made to wait.
func (kl *KeyedLimiters) Allow(key string) bool {
	if !kl.Enabled() {
		return true
	}
	return kl.get(key).Allow()
}

// Wait blocks until key's limiter grants a token. It returns a non-nil error
// only if ctx is cancelled while waiting.
func (kl *KeyedLimiters) Wait(ctx context.Context, key string) error {
	if !kl.Enabled() {
		return ctx.Err()
	}
	return kl.get(key).Wait(ctx)
}

// Forget drops key's limiter, e.g. when its queue no longer exists.
func (kl *KeyedLimiters) Forget(key string) {
	if kl == nil {
		return
	}
	kl.mu.Lock()
	delete(kl.limiters, key)
	kl.mu.Unlock()
}

func (kl *KeyedLimiters) get(key string) *rate.Limiter {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	l, ok := kl.limiters[key]
	if !ok {
		l = rate.NewLimiter(kl.limit, kl.burst)
		kl.limiters[key] = l
	}
	return l
}
