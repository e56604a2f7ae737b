// Package leaderboard ranks the captured results of completed games.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cashflow-tracker/backend/internal/ledger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultLimit applies when a requested limit is outside (0, MaxLimit].
	DefaultLimit = 20
	// MaxLimit is the hard ceiling of a leaderboard page.
	MaxLimit = 100
)

const opRank = "leaderboard.rank"

var errMissingDatabase = errors.New("leaderboard: database handle is required")

// PlayerRef identifies the winner of a ranked game.
type PlayerRef struct {
	ID    string
	Name  string
	Color ledger.PlayerColor
}

// GameRef identifies a ranked game.
type GameRef struct {
	ID          string
	Title       string
	CompletedAt string
}

// RankedEntry is one leaderboard row with its assigned rank.
type RankedEntry struct {
	ID            string
	Rank          int
	Player        PlayerRef
	Game          GameRef
	CashflowValue float64
	CapturedAt    string
	WinnerComment *string
}

// Query selects a leaderboard page. A zero Since includes every record.
type Query struct {
	Limit int
	Since time.Time
}

type Config struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Observer ledger.Observer
}

// Ranker is a read-only projection over leaderboard records of completed games.
type Ranker struct {
	db       *gorm.DB
	logger   *zap.Logger
	observer ledger.Observer
}

func NewRanker(cfg Config) (*Ranker, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{db: cfg.Database, logger: logger, observer: cfg.Observer}, nil
}

type rankedRow struct {
	ID            string
	GameID        string
	GameTitle     string
	CompletedAt   *string
	PlayerID      string
	PlayerName    string
	PlayerColor   string
	CashflowValue float64
	CapturedAt    string
	WinnerComment *string
}

// Rank returns records ordered by cashflow descending, earlier captures first on ties.
func (r *Ranker) Rank(ctx context.Context, query Query) (entries []RankedEntry, err error) {
	started := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer.ObserveOperation(opRank, ledger.Outcome(err), time.Since(started))
		}
	}()

	statement := r.db.WithContext(ctx).
		Table("leaderboard_records AS lr").
		Select(`lr.id AS id, lr.game_id AS game_id, g.title AS game_title, g.completed_at AS completed_at,
			p.id AS player_id, p.name AS player_name, p.color AS player_color,
			lr.cashflow_value AS cashflow_value, lr.captured_at AS captured_at, lr.winner_comment AS winner_comment`).
		Joins("JOIN games AS g ON g.id = lr.game_id").
		Joins("JOIN players AS p ON p.id = lr.player_id").
		Where("g.status = ?", ledger.GameStatusCompleted)
	if !query.Since.IsZero() {
		statement = statement.Where("lr.captured_at >= ?", ledger.FormatTimestamp(query.Since))
	}

	var rows []rankedRow
	if err := statement.
		Order("lr.cashflow_value DESC").
		Order("lr.captured_at ASC").
		Order("lr.id ASC").
		Limit(NormalizeLimit(query.Limit)).
		Scan(&rows).Error; err != nil {
		r.logger.Error("leaderboard query failed",
			zap.String("operation", opRank),
			zap.String("reason", "query_failed"),
			zap.Error(err))
		return nil, fmt.Errorf("%s: %w", opRank, err)
	}

	entries = make([]RankedEntry, 0, len(rows))
	for _, row := range rows {
		completedAt := ""
		if row.CompletedAt != nil {
			completedAt = *row.CompletedAt
		}
		entries = append(entries, RankedEntry{
			ID:            row.ID,
			Player:        PlayerRef{ID: row.PlayerID, Name: row.PlayerName, Color: ledger.PlayerColor(row.PlayerColor)},
			Game:          GameRef{ID: row.GameID, Title: row.GameTitle, CompletedAt: completedAt},
			CashflowValue: row.CashflowValue,
			CapturedAt:    row.CapturedAt,
			WinnerComment: row.WinnerComment,
		})
	}
	AssignRanks(entries)
	return entries, nil
}

// NormalizeLimit falls back to DefaultLimit for any value outside (0, MaxLimit].
func NormalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxLimit {
		return DefaultLimit
	}
	return limit
}

// AssignRanks numbers sorted entries with standard competition ranking: equal
// values share a rank and the next distinct value takes its 1-based position.
func AssignRanks(entries []RankedEntry) {
	for index := range entries {
		if index > 0 && entries[index].CashflowValue == entries[index-1].CashflowValue {
			entries[index].Rank = entries[index-1].Rank
			continue
		}
		entries[index].Rank = index + 1
	}
}
