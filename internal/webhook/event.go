// Package webhook turns inbound change notifications into sync work.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vonshlovens/notionsync-pg/internal/source"
)

var (
	// ErrInvalidPayload is returned for bodies that cannot be decoded.
	ErrInvalidPayload = errors.New("invalid webhook payload")
	// ErrUnsupportedEvent is returned for event types that need no work.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
)

// Kind is what happened to the record or database.
type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindDeleted       Kind = "deleted"
	KindSchemaUpdated Kind = "schema_updated"
)

// Event is a decoded change notification.
type Event struct {
	ID         string
	Kind       Kind
	SourceType string
	DatabaseID string
	RecordID   string

	// VerificationToken is set on the one-time subscription handshake,
	// which carries no event.
	VerificationToken string
}

// Verification reports whether the event is a subscription handshake.
func (e Event) Verification() bool {
	return e.VerificationToken != ""
}

var nativeKinds = map[string]Kind{
	"page.created":            KindCreated,
	"page.undeleted":          KindCreated,
	"page.properties_updated": KindUpdated,
	"page.content_updated":    KindUpdated,
	"page.moved":              KindUpdated,
	"page.deleted":            KindDeleted,
	"database.schema_updated": KindSchemaUpdated,
}

type reference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type payload struct {
	// Native shape.
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	Entity *reference `json:"entity"`
	Data   *struct {
		Parent *reference `json:"parent"`
	} `json:"data"`

	// Simplified shape.
	EventKind          string `json:"eventKind"`
	ExternalDatabaseID string `json:"externalDatabaseId"`
	RecordID           string `json:"recordId"`

	VerificationToken string `json:"verification_token"`
}

// ParseEvent decodes either the native notification shape or the
// simplified {eventKind, externalDatabaseId, recordId} shape.
func ParseEvent(body []byte) (Event, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	if p.VerificationToken != "" && p.Type == "" && p.EventKind == "" {
		return Event{VerificationToken: p.VerificationToken}, nil
	}

	if p.EventKind != "" {
		return parseSimple(p)
	}
	return parseNative(p)
}

func parseSimple(p payload) (Event, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(p.EventKind)))
	switch kind {
	case KindCreated, KindUpdated, KindDeleted:
	default:
		return Event{}, fmt.Errorf("%w: eventKind %q", ErrUnsupportedEvent, p.EventKind)
	}
	if p.RecordID == "" || p.ExternalDatabaseID == "" {
		return Event{}, fmt.Errorf("%w: recordId and externalDatabaseId are required", ErrInvalidPayload)
	}
	return Event{
		Kind:       kind,
		SourceType: string(kind),
		DatabaseID: source.CanonicalID(p.ExternalDatabaseID),
		RecordID:   source.CanonicalID(p.RecordID),
	}, nil
}

func parseNative(p payload) (Event, error) {
	if p.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	kind, ok := nativeKinds[p.Type]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, p.Type)
	}
	if p.Entity == nil || p.Entity.ID == "" {
		return Event{}, fmt.Errorf("%w: missing entity", ErrInvalidPayload)
	}

	ev := Event{ID: p.ID, Kind: kind, SourceType: p.Type}
	if kind == KindSchemaUpdated {
		ev.DatabaseID = source.CanonicalID(p.Entity.ID)
		return ev, nil
	}

	ev.RecordID = source.CanonicalID(p.Entity.ID)
	if p.Data != nil && p.Data.Parent != nil {
		switch p.Data.Parent.Type {
		case "", "database", "database_id", "data_source":
			ev.DatabaseID = source.CanonicalID(p.Data.Parent.ID)
		}
	}
	if ev.DatabaseID == "" && p.Type == "page.moved" {
		// The payload names only the new parent, so the old database's row
		// stays until that database's next full pass.
		slog.Debug("page moved out of a database", "event", p.ID, "record", ev.RecordID)
	}
	return ev, nil
}
