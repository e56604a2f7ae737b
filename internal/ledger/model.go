package ledger

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// GameStatus enumerates the lifecycle states of a game. The transition is one way.
type GameStatus string

const (
	// GameStatusActive marks a game in play.
	GameStatusActive GameStatus = "active"
	// GameStatusCompleted marks a game with a declared winner.
	GameStatusCompleted GameStatus = "completed"
)

// ParseGameStatus validates a status filter value.
func ParseGameStatus(raw string) (GameStatus, error) {
	switch status := GameStatus(strings.TrimSpace(raw)); status {
	case GameStatusActive, GameStatusCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidGame, raw)
	}
}

// PlayerColor is a token from the fixed player palette.
type PlayerColor string

const (
	ColorBlue   PlayerColor = "blue"
	ColorPurple PlayerColor = "purple"
	ColorOrange PlayerColor = "orange"
	ColorRed    PlayerColor = "red"
	ColorGreen  PlayerColor = "green"
	ColorYellow PlayerColor = "yellow"
)

// Palette lists every allowed player color in display order.
var Palette = []PlayerColor{ColorBlue, ColorPurple, ColorOrange, ColorRed, ColorGreen, ColorYellow}

// Valid reports whether the color belongs to the palette.
func (c PlayerColor) Valid() bool {
	for _, candidate := range Palette {
		if c == candidate {
			return true
		}
	}
	return false
}

// EntryType distinguishes ordinary turns from corrections.
type EntryType string

const (
	// EntryTypeTurn is produced by ordinary gameplay progression.
	EntryTypeTurn EntryType = "turn"
	// EntryTypeCorrection amends a previous entry referenced by its origin id.
	EntryTypeCorrection EntryType = "correction"
)

// Valid reports whether the entry type is known.
func (t EntryType) Valid() bool {
	return t == EntryTypeTurn || t == EntryTypeCorrection
}

// Game models one session. CompletedAt and WinnerPlayerID are set together on completion.
type Game struct {
	ID             string     `gorm:"column:id;primaryKey"`
	Title          string     `gorm:"column:title;not null"`
	Status         GameStatus `gorm:"column:status;not null"`
	CreatedAt      string     `gorm:"column:created_at;not null"`
	UpdatedAt      string     `gorm:"column:updated_at;not null"`
	CompletedAt    *string    `gorm:"column:completed_at"`
	WinnerPlayerID *string    `gorm:"column:winner_player_id"`
	WinnerComment  *string    `gorm:"column:winner_comment"`
}

// TableName provides the explicit table binding for GORM.
func (Game) TableName() string {
	return "games"
}

// Player models a seat in a game and its current sheet.
type Player struct {
	ID             string         `gorm:"column:id;primaryKey"`
	GameID         string         `gorm:"column:game_id;not null"`
	Seat           int            `gorm:"column:seat;not null"`
	Name           string         `gorm:"column:name;not null"`
	Color          PlayerColor    `gorm:"column:color;not null"`
	SheetState     datatypes.JSON `gorm:"column:sheet_state;not null"`
	LastModifiedAt string         `gorm:"column:last_modified_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Player) TableName() string {
	return "players"
}

// AuditLogEntry is an immutable record of one sheet change or correction.
type AuditLogEntry struct {
	ID             string                      `gorm:"column:id;primaryKey"`
	GameID         string                      `gorm:"column:game_id;not null"`
	PlayerID       string                      `gorm:"column:player_id;not null"`
	Timestamp      string                      `gorm:"column:timestamp;not null"`
	EntryType      EntryType                   `gorm:"column:entry_type;not null"`
	FieldPaths     datatypes.JSONSlice[string] `gorm:"column:field_paths;not null"`
	BeforeSnapshot datatypes.JSON              `gorm:"column:before_snapshot;not null"`
	AfterSnapshot  datatypes.JSON              `gorm:"column:after_snapshot;not null"`
	Notes          *string                     `gorm:"column:notes"`
	OriginEntryID  *string                     `gorm:"column:origin_entry_id"`
}

// TableName provides the explicit table binding for GORM.
func (AuditLogEntry) TableName() string {
	return "audit_log_entries"
}

// LeaderboardRecord captures the winner's cashflow at the moment a game completes.
type LeaderboardRecord struct {
	ID            string  `gorm:"column:id;primaryKey"`
	GameID        string  `gorm:"column:game_id;not null"`
	PlayerID      string  `gorm:"column:player_id;not null"`
	CashflowValue float64 `gorm:"column:cashflow_value;not null"`
	CapturedAt    string  `gorm:"column:captured_at;not null"`
	WinnerComment *string `gorm:"column:winner_comment"`
}

// TableName provides the explicit table binding for GORM.
func (LeaderboardRecord) TableName() string {
	return "leaderboard_records"
}

// GameWithPlayers groups a game with its players in seat order.
type GameWithPlayers struct {
	Game    Game
	Players []Player
}

// Completion describes the outcome of completing a game.
type Completion struct {
	Game           Game
	Record         LeaderboardRecord
	WinnerCashflow float64
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
