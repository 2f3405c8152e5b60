package oracle

import (
	"errors"
	"fmt"

	"valuechain/core/events"
)

var (
	// ErrUnauthorized indicates the caller is not the governance owner.
	ErrUnauthorized = errors.New("oracle: caller is not the owner")
	// ErrInvalidProvider indicates a zero provider address.
	ErrInvalidProvider = errors.New("oracle: provider address required")
)

type storedProviderRecord struct {
	Authorized bool
}

// Registry is the owner-managed whitelist of addresses authorized to submit
// observations. Removing a provider blocks future submissions immediately but
// never invalidates observations already stored.
type Registry struct {
	store   Storage
	owner   ProviderID
	emitter events.Emitter
}

// NewRegistry constructs a registry gated by the supplied governance owner.
func NewRegistry(store Storage, owner ProviderID) *Registry {
	return &Registry{store: store, owner: owner, emitter: events.NoopEmitter{}}
}

// SetEmitter wires the registry to an event sink.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.emitter = emitter
}

// Owner returns the governance identity controlling the registry.
func (r *Registry) Owner() ProviderID {
	if r == nil {
		return ProviderID{}
	}
	return r.owner
}

// AddProvider authorizes a provider. Adding an already-authorized provider is
// an idempotent no-op.
func (r *Registry) AddProvider(caller, provider ProviderID) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("oracle: registry not configured")
	}
	if caller != r.owner {
		return ErrUnauthorized
	}
	if provider.IsZero() {
		return ErrInvalidProvider
	}
	var record storedProviderRecord
	ok, err := r.store.KVGet(providerRecordKey(provider), &record)
	if err != nil {
		return fmt.Errorf("oracle: load provider record: %w", err)
	}
	if ok && record.Authorized {
		return nil
	}
	record.Authorized = true
	if err := r.store.KVPut(providerRecordKey(provider), record); err != nil {
		return fmt.Errorf("oracle: store provider record: %w", err)
	}
	r.emitter.Emit(events.ProviderAdded{Provider: provider})
	return nil
}

// RemoveProvider revokes a provider's authorization. Subsequent submissions
// from the provider are rejected; stored observations remain readable.
func (r *Registry) RemoveProvider(caller, provider ProviderID) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("oracle: registry not configured")
	}
	if caller != r.owner {
		return ErrUnauthorized
	}
	if provider.IsZero() {
		return ErrInvalidProvider
	}
	var record storedProviderRecord
	ok, err := r.store.KVGet(providerRecordKey(provider), &record)
	if err != nil {
		return fmt.Errorf("oracle: load provider record: %w", err)
	}
	if !ok || !record.Authorized {
		return nil
	}
	if err := r.store.KVDelete(providerRecordKey(provider)); err != nil {
		return fmt.Errorf("oracle: delete provider record: %w", err)
	}
	r.emitter.Emit(events.ProviderRemoved{Provider: provider})
	return nil
}

// IsAuthorized reports whether the provider may submit observations.
func (r *Registry) IsAuthorized(provider ProviderID) (bool, error) {
	if r == nil || r.store == nil {
		return false, fmt.Errorf("oracle: registry not configured")
	}
	var record storedProviderRecord
	ok, err := r.store.KVGet(providerRecordKey(provider), &record)
	if err != nil {
		return false, fmt.Errorf("oracle: load provider record: %w", err)
	}
	return ok && record.Authorized, nil
}
