package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	maxIDAttempts = 4
	clientIDBytes = 4
	roomIDBytes   = 4
	tokenBytes    = 16
)

var (
	ErrMissingID = errors.New("missing id")
	// ErrDuplicateID on an internally consistent path is an invariant
	// violation, not a user error.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrIDSpaceExhausted caps birthday-collision retries so short random
	// ids can never loop forever.
	ErrIDSpaceExhausted = errors.New("too many attempts to generate a unique id")
)

// Registrant is an entity that can live in a Registry.
type Registrant interface {
	RegistryID() string
	setRegistered(bool)
}

// Registry maps identifier -> live entity and owns id generation for its
// id space. It carries no lock of its own: all mutation is serialized by
// the hub lock (or a single test goroutine).
type Registry[T Registrant] struct {
	kind    string // for error text: "client", "game room"
	idBytes int
	byID    map[string]T
}

func NewRegistry[T Registrant](kind string, idBytes int) *Registry[T] {
	return &Registry[T]{
		kind:    kind,
		idBytes: idBytes,
		byID:    make(map[string]T),
	}
}

func (r *Registry[T]) HasID(id string) bool {
	_, ok := r.byID[id]
	return ok
}

func (r *Registry[T]) GetByID(id string) (T, bool) {
	e, ok := r.byID[id]
	return e, ok
}

func (r *Registry[T]) Len() int {
	return len(r.byID)
}

// All snapshots the stored entities so callers may mutate the registry
// while iterating.
func (r *Registry[T]) All() []T {
	all := make([]T, 0, len(r.byID))
	for _, e := range r.byID {
		all = append(all, e)
	}
	return all
}

// RemoveID is a no-op when the id is absent. Otherwise it clears the
// registered flag on whatever entity is currently stored — not the
// caller's, which may have been replaced since — and drops the mapping.
func (r *Registry[T]) RemoveID(id string) {
	e, ok := r.byID[id]
	if !ok {
		return
	}
	e.setRegistered(false)
	delete(r.byID, id)
}

// Put inserts the entity under its own id and marks it registered.
func (r *Registry[T]) Put(e T) error {
	id := e.RegistryID()
	if id == "" {
		return fmt.Errorf("%w: %s", ErrMissingID, r.kind)
	}
	if r.HasID(id) {
		return fmt.Errorf("%w: %s %s", ErrDuplicateID, r.kind, id)
	}
	r.byID[id] = e
	e.setRegistered(true)
	return nil
}

// GenerateID draws random hex ids until one misses the registry, giving
// up after maxIDAttempts. Membership is re-checked on every draw, so an
// id handed out here is free at the moment of the check; Put revalidates
// regardless.
func (r *Registry[T]) GenerateID() (string, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		id, err := generateHexString(r.idBytes)
		if err != nil {
			return "", err
		}
		if !r.HasID(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrIDSpaceExhausted, r.kind)
}

func generateHexString(byteCount int) (string, error) {
	b := make([]byte, byteCount)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateToken draws a token-length secret. Tokens are not registry keys
// and need no collision check.
func GenerateToken() (string, error) {
	return generateHexString(tokenBytes)
}
