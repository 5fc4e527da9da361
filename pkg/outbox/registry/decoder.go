package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pitchtrail/pitchtrail-backend/pkg/enums"
)

// ErrNoDecoder means the event type or payload version is unknown to this consumer.
var ErrNoDecoder = errors.New("decoder not registered")

// DecoderFunc turns a raw envelope data section into a typed payload.
type DecoderFunc func(payload json.RawMessage) (interface{}, error)

type registryKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry stores versioned payload decoders for consumers.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]DecoderFunc
}

// NewDecoderRegistry builds an empty decoder registry.
func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{registry: make(map[registryKey]DecoderFunc)}
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if decoder, ok := r.registry[registryKey{eventType: eventType, version: version}]; ok {
		return decoder(payload)
	}
	return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
}

// JSONDecoder builds a DecoderFunc that unmarshals into a fresh value from factory.
func JSONDecoder(factory func() interface{}) DecoderFunc {
	return func(payload json.RawMessage) (interface{}, error) {
		target := factory()
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		return target, nil
	}
}
