// Package domain contains entities without transport logic, just meta-data and validation.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	MaxMemberIDLen    = 36
	MaxDisplayNameLen = 36
	shortIDLen        = 8
)

type MemberID string

// Member represents a participant of a room. Display metadata is opaque to the mesh core.
type Member struct {
	ID          MemberID `json:"id"`
	DisplayName string   `json:"name,omitempty"`
}

// NewMember validates the id and name; an empty id is replaced by a generated short id.
func NewMember(id MemberID, name string) (*Member, error) {
	if id == "" {
		id = NewMemberID()
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	m := &Member{ID: id}
	if err := m.SetDisplayName(name); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Member) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	m.DisplayName = name
	return nil
}

func (id MemberID) Validate() error {
	if id == "" {
		return ErrMemberIDEmpty
	}
	if len(id) > MaxMemberIDLen {
		return ErrMemberIDTooLong
	}
	return nil
}

// Less orders member ids lexicographically. The smaller id is always the offerer.
func (id MemberID) Less(other MemberID) bool { return id < other }

// NewMemberID returns the first 8 characters of a random uuid.
func NewMemberID() MemberID { return MemberID(shortID()) }

func shortID() string { return uuid.NewString()[:shortIDLen] }
