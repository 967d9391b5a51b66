// Package identity defines the contact data model and the resolver that
// merges raw records from independent sources into one deduplicated view.
package identity

import (
	"fmt"
	"time"

	"github.com/basket/shadowbook/internal/normalize"
)

// Source tags the external system a contact record came from.
type Source string

const (
	// SourceImport marks contacts the user explicitly imported. Import rows
	// live in their own table and are never touched by source syncs.
	SourceImport Source = "import"
	// SourceBackup is the phone backup archive.
	SourceBackup Source = "backup"
	// SourceAddressBook is the OS-level address book.
	SourceAddressBook Source = "address_book"
	// SourceMailbox is the cloud mailbox.
	SourceMailbox Source = "mailbox"
)

// SyncSources are the sources that own shadow rows. SourceImport is excluded:
// it participates in matching with the highest precedence but is persisted
// separately and only written by the explicit import flow.
var SyncSources = []Source{SourceBackup, SourceAddressBook, SourceMailbox}

// DefaultPrecedence is the match-priority order: explicit user import beats
// phone backup beats OS address book beats mailbox.
func DefaultPrecedence() []Source {
	return []Source{SourceImport, SourceBackup, SourceAddressBook, SourceMailbox}
}

// Valid reports whether s is a known source tag.
func (s Source) Valid() bool {
	switch s {
	case SourceImport, SourceBackup, SourceAddressBook, SourceMailbox:
		return true
	}
	return false
}

// ParseSource converts a string to a Source, rejecting unknown tags.
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown source %q", s)
	}
	return src, nil
}

// RawContact is the flat record a source adapter produces for one sync pass.
// It is never persisted as-is.
type RawContact struct {
	Name       string   `json:"name,omitempty"`
	Phones     []string `json:"phones,omitempty"`
	Emails     []string `json:"emails,omitempty"`
	Company    string   `json:"company,omitempty"`
	ExternalID string   `json:"external_id"`
}

// Origin names one source record that was folded into a resolved contact.
type Origin struct {
	Source     Source
	ExternalID string
}

// Contact is the canonical merged representation of one person. Persisted
// rows carry a single owning Source/ExternalID pair; a freshly resolved
// contact additionally lists every origin that merged into it so the store
// can persist one row per (source, externalId) it owns.
type Contact struct {
	ID         string
	UserID     string
	Name       string
	Phones     []string
	Emails     []string
	Company    string
	ExternalID string
	Source     Source
	// FromImport is true when this contact's identity is an explicitly
	// imported contact (the record matched an import during resolution).
	FromImport    bool
	LastMessageAt *time.Time
	SyncedAt      time.Time

	Origins []Origin
}

// PhoneKeys returns the normalized phone keys of the contact's phones.
func (c *Contact) PhoneKeys() []string {
	return normalize.PhoneKeys(c.Phones)
}

// EmailKeys returns the normalized email keys of the contact's emails.
func (c *Contact) EmailKeys() []string {
	return normalize.EmailKeys(c.Emails)
}
