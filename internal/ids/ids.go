// Package ids provides strongly typed, validated identifiers for the
// core entities of spec.md §3 (Asset, Session, Hunt, HuntModule,
// Finding) and for analysts. Asset, Session, Hunt and Finding IDs are
// generated as UUIDv4 strings; HuntModuleID is a slug and AnalystID an
// opaque string. AssetID and SessionID implement
// encoding.TextMarshaler/TextUnmarshaler — the same pattern the
// teacher's lib/ref package uses for its Matrix identity types,
// generalized here to a single kind per entity instead of ref's
// hierarchical localpart scheme.
package ids

import (
	"fmt"

	"github.com/google/uuid"
)

// AssetID identifies a remote host.
type AssetID string

// SessionID identifies a live analyst handle on an Asset.
type SessionID string

// HuntID identifies one scheduled execution of a HuntModule.
type HuntID string

// HuntModuleID identifies a hunt module spec (a slug, not a UUID).
type HuntModuleID string

// FindingID identifies a persisted intelligence record.
type FindingID string

// AnalystID identifies the human operator driving a Session.
type AnalystID string

// NewAssetID generates a fresh random AssetID.
func NewAssetID() AssetID { return AssetID(uuid.NewString()) }

// NewSessionID generates a fresh random SessionID.
func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// NewHuntID generates a fresh random HuntID.
func NewHuntID() HuntID { return HuntID(uuid.NewString()) }

// NewFindingID generates a fresh random FindingID.
func NewFindingID() FindingID { return FindingID(uuid.NewString()) }

// ParseAssetID validates raw as a non-empty identifier.
func ParseAssetID(raw string) (AssetID, error) {
	if raw == "" {
		return "", fmt.Errorf("ids: asset id is empty")
	}
	return AssetID(raw), nil
}

// ParseSessionID validates raw as a non-empty identifier.
func ParseSessionID(raw string) (SessionID, error) {
	if raw == "" {
		return "", fmt.Errorf("ids: session id is empty")
	}
	return SessionID(raw), nil
}

// ParseHuntModuleID validates raw as a non-empty slug.
func ParseHuntModuleID(raw string) (HuntModuleID, error) {
	if raw == "" {
		return "", fmt.Errorf("ids: hunt module id is empty")
	}
	return HuntModuleID(raw), nil
}

func (id AssetID) String() string      { return string(id) }
func (id SessionID) String() string    { return string(id) }
func (id HuntID) String() string       { return string(id) }
func (id HuntModuleID) String() string { return string(id) }
func (id FindingID) String() string    { return string(id) }
func (id AnalystID) String() string    { return string(id) }

func (id AssetID) IsZero() bool   { return id == "" }
func (id SessionID) IsZero() bool { return id == "" }
func (id HuntID) IsZero() bool    { return id == "" }

// MarshalText implements encoding.TextMarshaler.
func (id AssetID) MarshalText() ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("ids: cannot marshal zero AssetID")
	}
	return []byte(id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AssetID) UnmarshalText(data []byte) error {
	*id = AssetID(data)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (id SessionID) MarshalText() ([]byte, error) {
	if id == "" {
		return nil, fmt.Errorf("ids: cannot marshal zero SessionID")
	}
	return []byte(id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SessionID) UnmarshalText(data []byte) error {
	*id = SessionID(data)
	return nil
}
