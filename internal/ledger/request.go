package ledger

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cashflow-tracker/backend/internal/sheet"
)

const (
	maxTitleLength   = 120
	maxNameLength    = 80
	maxCommentLength = 280
	minPlayers       = 2
	maxPlayers       = 6
)

// AuditIntent describes the audit entry a caller wants recorded.
//
// Empty FieldPaths are computed by diffing the snapshots. Absent snapshots
// default to the stored sheet (before) and the resulting sheet (after). A zero
// Timestamp uses the ledger clock; a supplied one must not precede the game's
// last update or run ahead of the clock.
type AuditIntent struct {
	EntryType      EntryType
	FieldPaths     []string
	BeforeSnapshot sheet.Node
	AfterSnapshot  sheet.Node
	Notes          string
	OriginEntryID  EntryID
	Timestamp      time.Time
}

func (i AuditIntent) validate() error {
	if !i.EntryType.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidAuditEntry, i.EntryType)
	}
	for _, path := range i.FieldPaths {
		if path == "" {
			return fmt.Errorf("%w: empty field path", ErrInvalidAuditEntry)
		}
	}
	if utf8.RuneCountInString(strings.TrimSpace(i.Notes)) > maxCommentLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidAuditEntry, maxCommentLength)
	}
	switch {
	case i.EntryType == EntryTypeCorrection && i.OriginEntryID == "":
		return fmt.Errorf("%w: correction requires an origin entry", ErrInvalidAuditEntry)
	case i.EntryType == EntryTypeTurn && i.OriginEntryID != "":
		return fmt.Errorf("%w: only corrections reference an origin entry", ErrInvalidAuditEntry)
	}
	return nil
}

// PlayerSeed describes one player of a new game.
type PlayerSeed struct {
	Name  string
	Color PlayerColor
	Sheet sheet.Sheet
}

// CreateGameRequest describes a new game. An empty title is replaced with a default.
type CreateGameRequest struct {
	Title   string
	Players []PlayerSeed
}

func (r CreateGameRequest) normalize() (CreateGameRequest, error) {
	normalized := CreateGameRequest{
		Title:   strings.TrimSpace(r.Title),
		Players: make([]PlayerSeed, 0, len(r.Players)),
	}
	if utf8.RuneCountInString(normalized.Title) > maxTitleLength {
		return CreateGameRequest{}, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidGame, maxTitleLength)
	}
	if len(r.Players) < minPlayers || len(r.Players) > maxPlayers {
		return CreateGameRequest{}, fmt.Errorf("%w: expected between %d and %d players, got %d", ErrInvalidGame, minPlayers, maxPlayers, len(r.Players))
	}

	colors := make(map[PlayerColor]struct{}, len(r.Players))
	names := make(map[string]struct{}, len(r.Players))
	for _, seed := range r.Players {
		name := strings.TrimSpace(seed.Name)
		nameLength := utf8.RuneCountInString(name)
		if nameLength == 0 || nameLength > maxNameLength {
			return CreateGameRequest{}, fmt.Errorf("%w: player name must be 1 to %d characters", ErrInvalidGame, maxNameLength)
		}
		if !seed.Color.Valid() {
			return CreateGameRequest{}, fmt.Errorf("%w: unknown player color %q", ErrInvalidGame, seed.Color)
		}
		if _, taken := colors[seed.Color]; taken {
			return CreateGameRequest{}, fmt.Errorf("%w: player colors must be unique", ErrInvalidGame)
		}
		colors[seed.Color] = struct{}{}
		folded := strings.ToLower(name)
		if _, taken := names[folded]; taken {
			return CreateGameRequest{}, fmt.Errorf("%w: player names must be unique within a game", ErrInvalidGame)
		}
		names[folded] = struct{}{}
		normalized.Players = append(normalized.Players, PlayerSeed{Name: name, Color: seed.Color, Sheet: seed.Sheet})
	}
	return normalized, nil
}

// GameFilter narrows ListGames. A zero Status lists every game.
type GameFilter struct {
	Status GameStatus
}

// SheetMutationRequest replaces a player's sheet and records the change.
type SheetMutationRequest struct {
	GameID   GameID
	PlayerID PlayerID
	Sheet    sheet.Sheet
	Audit    AuditIntent
}

// AuditAppendRequest records a standalone audit entry without touching the sheet.
type AuditAppendRequest struct {
	GameID   GameID
	PlayerID PlayerID
	Audit    AuditIntent
}

// CompleteGameRequest declares the winner of a game.
type CompleteGameRequest struct {
	GameID         GameID
	WinnerPlayerID PlayerID
	WinnerComment  string
}

func (r CompleteGameRequest) validate() error {
	if r.WinnerPlayerID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPlayerID)
	}
	if utf8.RuneCountInString(strings.TrimSpace(r.WinnerComment)) > maxCommentLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidComment, maxCommentLength)
	}
	return nil
}

// AuditQuery selects a page of audit entries for a game, optionally for one player.
type AuditQuery struct {
	GameID   GameID
	PlayerID PlayerID
	Limit    int
	Offset   int
}
