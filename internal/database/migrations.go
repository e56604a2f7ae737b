package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationInitSchema = "2026-10-01_init_schema"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

var migrations = []migrationDefinition{
	{name: migrationInitSchema, apply: execStatements(initSchemaStatements)},
}

// The ledger tables are declared in SQL so that check constraints and cascading
// foreign keys are part of the schema rather than model tags.
var initSchemaStatements = []string{
	`CREATE TABLE games (
		id TEXT PRIMARY KEY NOT NULL,
		title TEXT NOT NULL,
		status TEXT NOT NULL CONSTRAINT games_status_check CHECK (status IN ('active', 'completed')),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		winner_player_id TEXT,
		winner_comment TEXT CONSTRAINT games_winner_comment_check CHECK (winner_comment IS NULL OR length(winner_comment) <= 280),
		CONSTRAINT games_completion_check CHECK ((completed_at IS NULL) = (winner_player_id IS NULL)),
		CONSTRAINT games_completed_status_check CHECK ((status = 'completed') = (completed_at IS NOT NULL))
	)`,
	`CREATE INDEX games_status_idx ON games (status)`,
	`CREATE TABLE players (
		id TEXT PRIMARY KEY NOT NULL,
		game_id TEXT NOT NULL REFERENCES games (id) ON DELETE CASCADE,
		seat INTEGER NOT NULL DEFAULT 0,
		name TEXT NOT NULL,
		color TEXT NOT NULL CONSTRAINT players_color_check CHECK (color IN ('blue', 'purple', 'orange', 'red', 'green', 'yellow')),
		sheet_state TEXT NOT NULL DEFAULT '{}',
		last_modified_at TEXT NOT NULL
	)`,
	`CREATE INDEX players_game_idx ON players (game_id)`,
	`CREATE UNIQUE INDEX players_game_color_idx ON players (game_id, color)`,
	`CREATE UNIQUE INDEX players_game_name_idx ON players (game_id, name COLLATE NOCASE)`,
	`CREATE TABLE audit_log_entries (
		id TEXT PRIMARY KEY NOT NULL,
		game_id TEXT NOT NULL REFERENCES games (id) ON DELETE CASCADE,
		player_id TEXT NOT NULL REFERENCES players (id) ON DELETE CASCADE,
		timestamp TEXT NOT NULL,
		entry_type TEXT NOT NULL CONSTRAINT audit_entry_type_check CHECK (entry_type IN ('turn', 'correction')),
		field_paths TEXT NOT NULL,
		before_snapshot TEXT NOT NULL,
		after_snapshot TEXT NOT NULL,
		notes TEXT CONSTRAINT audit_notes_check CHECK (notes IS NULL OR length(notes) <= 280),
		origin_entry_id TEXT REFERENCES audit_log_entries (id) ON DELETE CASCADE,
		CONSTRAINT audit_origin_check CHECK (origin_entry_id IS NULL OR entry_type = 'correction')
	)`,
	`CREATE INDEX audit_game_idx ON audit_log_entries (game_id)`,
	`CREATE INDEX audit_timestamp_idx ON audit_log_entries (timestamp)`,
	`CREATE TABLE leaderboard_records (
		id TEXT PRIMARY KEY NOT NULL,
		game_id TEXT NOT NULL REFERENCES games (id) ON DELETE CASCADE,
		player_id TEXT NOT NULL REFERENCES players (id) ON DELETE CASCADE,
		cashflow_value REAL NOT NULL,
		captured_at TEXT NOT NULL,
		winner_comment TEXT
	)`,
	`CREATE UNIQUE INDEX leaderboard_game_idx ON leaderboard_records (game_id)`,
	`CREATE INDEX leaderboard_cashflow_idx ON leaderboard_records (cashflow_value)`,
}

// Migrate records applied migrations in db_migrations and applies the missing ones in order.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, migrations, logger)
}

func applyMigrations(db *gorm.DB, definitions []migrationDefinition, logger *zap.Logger) error {
	for _, migration := range definitions {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return fmt.Errorf("migration %s: %w", migration.name, err)
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func execStatements(statements []string) func(*gorm.DB) error {
	return func(db *gorm.DB) error {
		for _, statement := range statements {
			if err := db.Exec(statement).Error; err != nil {
				return err
			}
		}
		return nil
	}
}
