// Package models defines the local queue records and the names used for the
// remote ownership hierarchy (Owner → Location → Meter → Reading → Blob).
package models

import (
	"fmt"
	"strings"
	"time"
)

// QueuedUpload is a captured reading that the remote store has not yet
// confirmed.
type QueuedUpload struct {
	// ID is the local, monotonically assigned queue id.
	ID int64

	// ReadingID is the remote document id the reading will be written under.
	// It is fixed at enqueue time so retries never create a second record.
	ReadingID string

	OwnerID string
	MeterID string

	// LocalBlobPath points at the photo owned exclusively by this entry.
	LocalBlobPath string

	Value float64

	// CapturedAt is the local wall clock; used only for local ordering.
	CapturedAt time.Time
}

// QueuedDeletion is a not-yet-confirmed request to remove an owning entity
// and all of its descendants.
type QueuedDeletion struct {
	ID         int64
	EntityKind EntityKind
	OwnerID    string
	EntityID   string
	// Requests counts the enqueues merged into this entry. It only grows.
	Requests int
}

// EntityKind enumerates the deletable owning entities.
type EntityKind string

const (
	EntityKindLocation EntityKind = "Location"
	EntityKindMeter    EntityKind = "Meter"
)

// ParseEntityKind accepts the canonical names case-insensitively.
func ParseEntityKind(s string) (EntityKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "location":
		return EntityKindLocation, nil
	case "meter":
		return EntityKindMeter, nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", s)
	}
}

func (k EntityKind) Valid() bool {
	return k == EntityKindLocation || k == EntityKindMeter
}

func (k EntityKind) String() string { return string(k) }
