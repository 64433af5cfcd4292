// Package store holds the error taxonomy shared by the meeting persistence
// backends. The backends live in subpackages:
//
//   - memory: maps, for tests and zero-config runs
//   - sqlite: the on-disk local cache
//   - postgres: the optional hosted mirror with pgvector recall
//   - localfirst: combines a local and a remote backend
package store

import (
	"errors"
	"math"
)

var (
	// ErrNotFound is returned when a record or chat history does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when inserting a record whose ID is taken.
	ErrDuplicate = errors.New("store: duplicate id")
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector. The slices must have equal length.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Op is a write the remote mirror has not seen yet.
type Op string

const (
	OpInsert Op = "insert"
	OpDelete Op = "delete"
)

// Pending is an unmirrored write on one meeting. A backend keeps at most one
// per meeting; a later write replaces the earlier one.
type Pending struct {
	ID string
	Op Op
}
