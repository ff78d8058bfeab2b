// Package store implements the server-side cache slot storage.
//
// Each slot holds at most one entry: the latest compressed archive and the
// fingerprint the client sent with it. A push replaces both. Backends only
// move bytes; Slots adds per-slot locking and fingerprint comparison on top.
package store

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/theMackabu/volt/internal/errs"
)

var ErrNotFound = errors.New("volt: slot not found")

// Store is a slot-keyed blob backend.
type Store interface {
	// Put replaces the archive and fingerprint of slot. The archive is read
	// from r until EOF.
	Put(ctx context.Context, slot uuid.UUID, r io.Reader, fingerprint string) (int64, error)

	// Fingerprint returns the stored fingerprint or ErrNotFound.
	Fingerprint(ctx context.Context, slot uuid.UUID) (string, error)

	// Open returns the stored archive and its size or ErrNotFound. The
	// returned reader stays valid after a concurrent Put replaces the entry.
	Open(ctx context.Context, slot uuid.UUID) (io.ReadCloser, int64, error)
}

// Status is the result of comparing a client fingerprint with a slot.
type Status int

const (
	Missing   Status = iota // no archive stored
	Changed                 // archive stored, fingerprint differs
	Unchanged               // stored fingerprint equals the client's
)

func (s Status) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	}
	return "missing"
}

// ParseSlot validates a slot id. Anything that is not a UUID is a
// configuration error and never reaches a backend.
func ParseSlot(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errs.Errorf(errs.Configuration, "parse slot", "invalid slot id %q: %v", s, err)
	}
	return id, nil
}

// Slots serializes access to a Store per slot.
type Slots struct {
	backend Store
	locks   *Locks
}

func NewSlots(backend Store) *Slots {
	return &Slots{backend: backend, locks: NewLocks()}
}

// Push replaces the entry of slot while holding the slot's write lock, so
// archive and fingerprint change together.
func (s *Slots) Push(ctx context.Context, slot uuid.UUID, r io.Reader, fingerprint string) (int64, error) {
	defer s.locks.Lock(slot)()

	n, err := s.backend.Put(ctx, slot, r, strings.TrimSpace(fingerprint))
	if err != nil {
		return n, errs.E(errs.Storage, "push", err)
	}
	return n, nil
}

// Pull compares fingerprint with the stored one. When they differ and an
// archive exists, the open archive is returned; the caller streams it after
// the slot lock has been released and must close it.
func (s *Slots) Pull(ctx context.Context, slot uuid.UUID, fingerprint string) (Status, io.ReadCloser, int64, error) {
	defer s.locks.RLock(slot)()

	unchanged, err := s.unchanged(ctx, slot, fingerprint)
	if err != nil {
		return Missing, nil, 0, err
	}
	if unchanged {
		return Unchanged, nil, 0, nil
	}

	rc, size, err := s.backend.Open(ctx, slot)
	if errors.Is(err, ErrNotFound) {
		return Missing, nil, 0, nil
	}
	if err != nil {
		return Missing, nil, 0, errs.E(errs.Storage, "pull", err)
	}
	return Changed, rc, size, nil
}

// Check is Pull without the archive.
func (s *Slots) Check(ctx context.Context, slot uuid.UUID, fingerprint string) (Status, error) {
	status, rc, _, err := s.Pull(ctx, slot, fingerprint)
	if rc != nil {
		rc.Close()
	}
	return status, err
}

func (s *Slots) unchanged(ctx context.Context, slot uuid.UUID, fingerprint string) (bool, error) {
	want := strings.TrimSpace(fingerprint)
	if want == "" {
		return false, nil
	}
	stored, err := s.backend.Fingerprint(ctx, slot)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errs.E(errs.Storage, "read fingerprint", err)
	}
	return strings.TrimSpace(stored) == want, nil
}
