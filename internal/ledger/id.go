package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidGameID indicates that a game identifier is empty or exceeds storage bounds.
	ErrInvalidGameID = errors.New("invalid game id")
	// ErrInvalidPlayerID indicates that a player identifier is empty or exceeds storage bounds.
	ErrInvalidPlayerID = errors.New("invalid player id")
	// ErrInvalidEntryID indicates that an audit entry identifier is empty or exceeds storage bounds.
	ErrInvalidEntryID = errors.New("invalid audit entry id")
)

// IDProvider issues identifiers for games, players, audit entries and leaderboard records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// GameID represents a validated game identifier.
type GameID string

// NewGameID validates raw input and returns a GameID.
func NewGameID(rawInput string) (GameID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidGameID)
	return GameID(trimmed), err
}

// String returns the underlying string identifier.
func (id GameID) String() string {
	return string(id)
}

// PlayerID represents a validated player identifier.
type PlayerID string

// NewPlayerID validates raw input and returns a PlayerID.
func NewPlayerID(rawInput string) (PlayerID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidPlayerID)
	return PlayerID(trimmed), err
}

// String returns the underlying string identifier.
func (id PlayerID) String() string {
	return string(id)
}

// EntryID represents a validated audit entry identifier.
type EntryID string

// NewEntryID validates raw input and returns an EntryID.
func NewEntryID(rawInput string) (EntryID, error) {
	trimmed, err := validateIdentifier(rawInput, ErrInvalidEntryID)
	return EntryID(trimmed), err
}

// String returns the underlying string identifier.
func (id EntryID) String() string {
	return string(id)
}

func validateIdentifier(rawInput string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}
