package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitchtrail/pitchtrail-backend/pkg/redis"
)

// ErrAlreadyProcessed is returned by Reserve when another delivery of the event
// already holds or completed the reservation.
var ErrAlreadyProcessed = errors.New("event already processed")

// Manager dedupes Pub/Sub deliveries per consumer. Markers live under
// `pt:idempotency:evt:<consumer>:<event_id>` and expire after the TTL.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	now   func() time.Time
}

// NewManager builds a dedupe guard. A zero ttl keeps markers forever.
func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}, nil
}

// Reservation is a held marker for one consumer and event.
type Reservation struct {
	manager *Manager
	key     string
}

// Reserve writes the marker for eventID. The caller owns the event until it
// calls Release; a redelivery that arrives meanwhile gets ErrAlreadyProcessed.
func (m *Manager) Reserve(ctx context.Context, consumer string, eventID uuid.UUID) (*Reservation, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return nil, err
	}
	set, err := m.store.SetNX(ctx, key, m.now().UTC().Format(time.RFC3339Nano), m.ttl)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", key, err)
	}
	if !set {
		return nil, ErrAlreadyProcessed
	}
	return &Reservation{manager: m, key: key}, nil
}

// Release drops the marker so the next delivery is processed again. Call it
// when handling failed with a retryable error.
func (r *Reservation) Release(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if err := r.manager.store.Del(ctx, r.key); err != nil {
		return fmt.Errorf("release %s: %w", r.key, err)
	}
	return nil
}

// Key returns the redis key backing the reservation.
func (r *Reservation) Key() string { return r.key }

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
