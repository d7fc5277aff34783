package instalogin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long a QR login session stays redeemable.
const DefaultTTL = 10 * time.Minute

type entry struct {
	userID    int64
	createdAt time.Time
}

// Broker hands out short-lived, single-use session ids that let a second
// device adopt an already-authenticated user. Entries live only in process
// memory; an id can move from created to consumed or expired, nothing else.
type Broker struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

func NewBroker(ttl time.Duration, logger *slog.Logger) *Broker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Broker{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Create records a new login session for the given user and returns its id.
// The id is 32 bytes from crypto/rand, hex-encoded, and is the only secret
// in the handoff.
func (b *Broker) Create(userID int64) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	id := hex.EncodeToString(buf)

	b.mu.Lock()
	b.entries[id] = entry{userID: userID, createdAt: b.now()}
	b.mu.Unlock()

	return id, nil
}

// Validate reports whether the id is still redeemable without consuming it.
// Used by the QR status poll; repeated calls never invalidate the session.
func (b *Broker) Validate(id string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return 0, false
	}
	if b.expired(e) {
		delete(b.entries, id)
		return 0, false
	}
	return e.userID, true
}

// Consume atomically redeems the id: a valid entry is removed and its user
// id returned; anything else reports false. Two concurrent redemptions of
// the same id cannot both succeed.
func (b *Broker) Consume(id string) (int64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return 0, false
	}
	delete(b.entries, id)
	if b.expired(e) {
		return 0, false
	}
	return e.userID, true
}

func (b *Broker) expired(e entry) bool {
	return b.now().Sub(e.createdAt) > b.ttl
}

// Sweep drops expired entries so abandoned QR codes do not accumulate.
func (b *Broker) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, e := range b.entries {
		if b.expired(e) {
			delete(b.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until the context is cancelled.
func (b *Broker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := b.Sweep(); n > 0 && b.logger != nil {
				b.logger.Debug("swept expired login sessions", "removed", n)
			}
		}
	}
}

// Len reports the number of live entries.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
