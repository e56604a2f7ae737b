package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// DefaultAuditLimit applies when a list request carries no positive limit.
	DefaultAuditLimit = 50
	// MaxAuditLimit bounds a single page of audit entries.
	MaxAuditLimit = 200
)

const (
	opAuditNew    = "audit.new"
	opAuditAppend = "audit.append"
	opAuditList   = "audit.list"
	opAuditGet    = "audit.get"
)

// AuditLedger stores audit entries. Entries are append-only: there is no update or delete.
type AuditLedger struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAuditLedger binds the ledger to a database handle.
func NewAuditLedger(db *gorm.DB, logger *zap.Logger) (*AuditLedger, error) {
	if db == nil {
		return nil, newServiceError(KindInternal, opAuditNew, "missing_database", errMissingDatabase)
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &AuditLedger{db: db, logger: logger}, nil
}

// ValidateEntry checks the schema rules every persisted entry satisfies.
func ValidateEntry(entry AuditLogEntry) error {
	if !entry.EntryType.Valid() {
		return fmt.Errorf("%w: unknown entry type %q", ErrInvalidAuditEntry, entry.EntryType)
	}
	if len(entry.FieldPaths) == 0 {
		return fmt.Errorf("%w: field paths must not be empty", ErrInvalidAuditEntry)
	}
	for _, path := range entry.FieldPaths {
		if path == "" {
			return fmt.Errorf("%w: empty field path", ErrInvalidAuditEntry)
		}
	}
	if entry.Notes != nil && utf8.RuneCountInString(*entry.Notes) > maxCommentLength {
		return fmt.Errorf("%w: notes exceed %d characters", ErrInvalidAuditEntry, maxCommentLength)
	}
	hasOrigin := entry.OriginEntryID != nil && strings.TrimSpace(*entry.OriginEntryID) != ""
	if entry.EntryType == EntryTypeCorrection && !hasOrigin {
		return fmt.Errorf("%w: correction requires an origin entry", ErrInvalidAuditEntry)
	}
	if entry.EntryType == EntryTypeTurn && entry.OriginEntryID != nil {
		return fmt.Errorf("%w: only corrections reference an origin entry", ErrInvalidAuditEntry)
	}
	return nil
}

// Append validates and inserts an entry using the caller's transaction.
// Existence of a correction's origin is the caller's concern and is backed by
// the storage foreign key.
func (l *AuditLedger) Append(tx *gorm.DB, entry AuditLogEntry) error {
	if err := ValidateEntry(entry); err != nil {
		return newServiceError(KindValidation, opAuditAppend, "invalid_entry", err)
	}
	if err := tx.Create(&entry).Error; err != nil {
		logError(l.logger, opAuditAppend, "insert_failed", err,
			zap.String("game_id", entry.GameID),
			zap.String("player_id", entry.PlayerID),
			zap.String("entry_id", entry.ID))
		return newServiceError(KindInternal, opAuditAppend, "insert_failed", err)
	}
	return nil
}

// List returns a page of entries for a game, newest first.
func (l *AuditLedger) List(ctx context.Context, query AuditQuery) ([]AuditLogEntry, error) {
	limit, offset := normalizePage(query.Limit, query.Offset)

	statement := l.db.WithContext(ctx).Where("game_id = ?", query.GameID.String())
	if query.PlayerID != "" {
		statement = statement.Where("player_id = ?", query.PlayerID.String())
	}

	entries := make([]AuditLogEntry, 0)
	if err := statement.
		Order("timestamp DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error; err != nil {
		logError(l.logger, opAuditList, "query_failed", err, zap.String("game_id", query.GameID.String()))
		return nil, newServiceError(KindInternal, opAuditList, "query_failed", err)
	}
	return entries, nil
}

// Get returns one entry of a game.
func (l *AuditLedger) Get(ctx context.Context, gameID GameID, entryID EntryID) (AuditLogEntry, error) {
	entry, err := l.find(l.db.WithContext(ctx), gameID, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AuditLogEntry{}, newServiceError(KindNotFound, opAuditGet, "entry_not_found", ErrEntryNotFound)
	}
	if err != nil {
		logError(l.logger, opAuditGet, "query_failed", err,
			zap.String("game_id", gameID.String()),
			zap.String("entry_id", entryID.String()))
		return AuditLogEntry{}, newServiceError(KindInternal, opAuditGet, "query_failed", err)
	}
	return entry, nil
}

func (l *AuditLedger) find(db *gorm.DB, gameID GameID, entryID EntryID) (AuditLogEntry, error) {
	var entry AuditLogEntry
	err := db.Where("game_id = ? AND id = ?", gameID.String(), entryID.String()).Take(&entry).Error
	return entry, err
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
