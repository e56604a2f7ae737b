package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashflow-tracker/backend/internal/cashflow"
	"github.com/cashflow-tracker/backend/internal/sheet"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew         = "ledger.service.new"
	opCreateGame         = "ledger.create_game"
	opGetGame            = "ledger.get_game"
	opListGames          = "ledger.list_games"
	opDeleteGame         = "ledger.delete_game"
	opGetPlayer          = "ledger.get_player"
	opPlayerSummary      = "ledger.player_summary"
	opApplySheetMutation = "ledger.apply_sheet_mutation"
	opAppendAudit        = "ledger.append_audit"
	opListAudit          = "ledger.list_audit"
	opGetAuditEntry      = "ledger.get_audit_entry"
	opCompleteGame       = "ledger.complete_game"
)

// OutcomeOK labels an operation that returned no error.
const OutcomeOK = "ok"

const defaultTitleLayout = "2006-01-02 15:04"

// Observer receives the outcome and duration of every ledger operation.
type Observer interface {
	ObserveOperation(operation, outcome string, duration time.Duration)
}

// Outcome labels an operation result: OutcomeOK or the error kind.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return string(KindOf(err))
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Observer   Observer
}

// Service is the only component that mutates games, players, audit entries and
// leaderboard records. Every compound operation runs in one transaction.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	observer   Observer
	audit      *AuditLedger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(KindInternal, opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(KindInternal, opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	audit, err := NewAuditLedger(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		observer:   cfg.Observer,
		audit:      audit,
	}, nil
}

// PlayerSummary pairs a player with the figures derived from their sheet.
type PlayerSummary struct {
	Player  Player
	Summary cashflow.Summary
}

// CreateGame validates the request and stores the game with all its players.
func (s *Service) CreateGame(ctx context.Context, request CreateGameRequest) (result GameWithPlayers, err error) {
	defer s.observe(opCreateGame, time.Now(), &err)

	normalized, err := request.normalize()
	if err != nil {
		return GameWithPlayers{}, newServiceError(KindValidation, opCreateGame, "invalid_request", err)
	}

	now := s.clock()
	timestamp := FormatTimestamp(now)
	title := normalized.Title
	if title == "" {
		title = "Game " + now.UTC().Format(defaultTitleLayout)
	}

	gameID, err := s.newID(opCreateGame)
	if err != nil {
		return GameWithPlayers{}, err
	}
	game := Game{
		ID:        gameID,
		Title:     title,
		Status:    GameStatusActive,
		CreatedAt: timestamp,
		UpdatedAt: timestamp,
	}

	players := make([]Player, 0, len(normalized.Players))
	for seat, seed := range normalized.Players {
		playerID, err := s.newID(opCreateGame)
		if err != nil {
			return GameWithPlayers{}, err
		}
		state, err := s.encodeDocument(opCreateGame, seed.Sheet.Root())
		if err != nil {
			return GameWithPlayers{}, err
		}
		players = append(players, Player{
			ID:             playerID,
			GameID:         gameID,
			Seat:           seat,
			Name:           seed.Name,
			Color:          seed.Color,
			SheetState:     state,
			LastModifiedAt: timestamp,
		})
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&game).Error; err != nil {
			s.logError(opCreateGame, "game_insert_failed", err, zap.String("game_id", gameID))
			return newServiceError(KindInternal, opCreateGame, "game_insert_failed", err)
		}
		if err := tx.Create(&players).Error; err != nil {
			s.logError(opCreateGame, "player_insert_failed", err, zap.String("game_id", gameID))
			return newServiceError(KindInternal, opCreateGame, "player_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return GameWithPlayers{}, txErr
	}

	s.logger.Info("game created", zap.String("game_id", gameID), zap.Int("players", len(players)))
	return GameWithPlayers{Game: game, Players: players}, nil
}

// GetGame returns a game with its players.
func (s *Service) GetGame(ctx context.Context, gameID GameID) (result GameWithPlayers, err error) {
	defer s.observe(opGetGame, time.Now(), &err)

	db := s.db.WithContext(ctx)
	game, err := s.loadGame(db, opGetGame, gameID)
	if err != nil {
		return GameWithPlayers{}, err
	}
	players, err := s.loadPlayers(db, opGetGame, game.ID)
	if err != nil {
		return GameWithPlayers{}, err
	}
	return GameWithPlayers{Game: game, Players: players}, nil
}

// ListGames returns games most recently updated first, each with its players.
func (s *Service) ListGames(ctx context.Context, filter GameFilter) (result []GameWithPlayers, err error) {
	defer s.observe(opListGames, time.Now(), &err)

	db := s.db.WithContext(ctx)
	statement := db.Order("updated_at DESC").Order("id DESC")
	if filter.Status != "" {
		statement = statement.Where("status = ?", filter.Status)
	}

	var games []Game
	if err := statement.Find(&games).Error; err != nil {
		s.logError(opListGames, "query_failed", err)
		return nil, newServiceError(KindInternal, opListGames, "query_failed", err)
	}

	result = make([]GameWithPlayers, 0, len(games))
	if len(games) == 0 {
		return result, nil
	}

	gameIDs := make([]string, 0, len(games))
	for _, game := range games {
		gameIDs = append(gameIDs, game.ID)
	}
	players, err := s.loadPlayers(db, opListGames, gameIDs...)
	if err != nil {
		return nil, err
	}
	playersByGame := make(map[string][]Player, len(games))
	for _, player := range players {
		playersByGame[player.GameID] = append(playersByGame[player.GameID], player)
	}

	for _, game := range games {
		gamePlayers := playersByGame[game.ID]
		if gamePlayers == nil {
			gamePlayers = []Player{}
		}
		result = append(result, GameWithPlayers{Game: game, Players: gamePlayers})
	}
	return result, nil
}

// DeleteGame removes a game. Players, audit entries and leaderboard records cascade.
func (s *Service) DeleteGame(ctx context.Context, gameID GameID) (err error) {
	defer s.observe(opDeleteGame, time.Now(), &err)

	result := s.db.WithContext(ctx).Where("id = ?", gameID.String()).Delete(&Game{})
	if result.Error != nil {
		s.logError(opDeleteGame, "delete_failed", result.Error, zap.String("game_id", gameID.String()))
		return newServiceError(KindInternal, opDeleteGame, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(KindNotFound, opDeleteGame, "game_not_found", ErrGameNotFound)
	}
	s.logger.Info("game deleted", zap.String("game_id", gameID.String()))
	return nil
}

// GetPlayer returns one player of a game.
func (s *Service) GetPlayer(ctx context.Context, gameID GameID, playerID PlayerID) (player Player, err error) {
	defer s.observe(opGetPlayer, time.Now(), &err)

	return s.loadPlayer(s.db.WithContext(ctx), opGetPlayer, gameID, playerID)
}

// GetPlayerSummary returns a player with the cashflow figures of their current sheet.
func (s *Service) GetPlayerSummary(ctx context.Context, gameID GameID, playerID PlayerID) (summary PlayerSummary, err error) {
	defer s.observe(opPlayerSummary, time.Now(), &err)

	player, err := s.loadPlayer(s.db.WithContext(ctx), opPlayerSummary, gameID, playerID)
	if err != nil {
		return PlayerSummary{}, err
	}
	document, err := s.decodeSheet(opPlayerSummary, player)
	if err != nil {
		return PlayerSummary{}, err
	}
	return PlayerSummary{Player: player, Summary: cashflow.Summarize(document)}, nil
}

// ApplySheetMutation overwrites a player's sheet, appends the audit entry that
// describes the change and bumps the game's updated timestamp, atomically.
func (s *Service) ApplySheetMutation(ctx context.Context, request SheetMutationRequest) (updated Player, err error) {
	defer s.observe(opApplySheetMutation, time.Now(), &err)

	if err := request.Audit.validate(); err != nil {
		return Player{}, newServiceError(KindValidation, opApplySheetMutation, "invalid_audit_intent", err)
	}
	state, err := s.encodeDocument(opApplySheetMutation, request.Sheet.Root())
	if err != nil {
		return Player{}, err
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := s.loadGame(tx, opApplySheetMutation, request.GameID)
		if err != nil {
			return err
		}
		player, err := s.loadPlayer(tx, opApplySheetMutation, request.GameID, request.PlayerID)
		if err != nil {
			return err
		}
		stored, err := s.decodeSheet(opApplySheetMutation, player)
		if err != nil {
			return err
		}

		entry, err := s.buildEntry(tx, opApplySheetMutation, game, player, request.Audit, stored.Root(), request.Sheet.Root())
		if err != nil {
			return err
		}

		if err := tx.Model(&Player{}).
			Where("id = ? AND game_id = ?", player.ID, player.GameID).
			Updates(map[string]any{
				"sheet_state":      state,
				"last_modified_at": entry.Timestamp,
			}).Error; err != nil {
			s.logError(opApplySheetMutation, "player_update_failed", err,
				zap.String("game_id", player.GameID),
				zap.String("player_id", player.ID))
			return newServiceError(KindInternal, opApplySheetMutation, "player_update_failed", err)
		}
		if err := s.audit.Append(tx, entry); err != nil {
			return err
		}
		if err := s.touchGame(tx, opApplySheetMutation, player.GameID, entry.Timestamp); err != nil {
			return err
		}

		player.SheetState = state
		player.LastModifiedAt = entry.Timestamp
		updated = player
		return nil
	})
	if txErr != nil {
		return Player{}, txErr
	}
	return updated, nil
}

// AppendAuditEntry records a correction or note without changing the sheet.
func (s *Service) AppendAuditEntry(ctx context.Context, request AuditAppendRequest) (appended AuditLogEntry, err error) {
	defer s.observe(opAppendAudit, time.Now(), &err)

	if err := request.Audit.validate(); err != nil {
		return AuditLogEntry{}, newServiceError(KindValidation, opAppendAudit, "invalid_audit_intent", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := s.loadGame(tx, opAppendAudit, request.GameID)
		if err != nil {
			return err
		}
		player, err := s.loadPlayer(tx, opAppendAudit, request.GameID, request.PlayerID)
		if err != nil {
			return err
		}
		stored, err := s.decodeSheet(opAppendAudit, player)
		if err != nil {
			return err
		}

		entry, err := s.buildEntry(tx, opAppendAudit, game, player, request.Audit, stored.Root(), stored.Root())
		if err != nil {
			return err
		}
		if err := s.audit.Append(tx, entry); err != nil {
			return err
		}
		if err := s.touchGame(tx, opAppendAudit, player.GameID, entry.Timestamp); err != nil {
			return err
		}
		appended = entry
		return nil
	})
	if txErr != nil {
		return AuditLogEntry{}, txErr
	}
	return appended, nil
}

// ListAudit returns a page of a game's audit trail, newest first.
func (s *Service) ListAudit(ctx context.Context, query AuditQuery) (entries []AuditLogEntry, err error) {
	defer s.observe(opListAudit, time.Now(), &err)

	db := s.db.WithContext(ctx)
	if _, err := s.loadGame(db, opListAudit, query.GameID); err != nil {
		return nil, err
	}
	if query.PlayerID != "" {
		if _, err := s.loadPlayer(db, opListAudit, query.GameID, query.PlayerID); err != nil {
			return nil, err
		}
	}
	return s.audit.List(ctx, query)
}

// GetAuditEntry returns one audit entry of a game.
func (s *Service) GetAuditEntry(ctx context.Context, gameID GameID, entryID EntryID) (entry AuditLogEntry, err error) {
	defer s.observe(opGetAuditEntry, time.Now(), &err)

	return s.audit.Get(ctx, gameID, entryID)
}

// CompleteGame declares the winner, captures their cashflow and writes the single
// leaderboard record of the game. A completed game can never be completed again.
func (s *Service) CompleteGame(ctx context.Context, request CompleteGameRequest) (completion Completion, err error) {
	defer s.observe(opCompleteGame, time.Now(), &err)

	if err := request.validate(); err != nil {
		return Completion{}, newServiceError(KindValidation, opCompleteGame, "invalid_request", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		game, err := s.loadGame(tx, opCompleteGame, request.GameID)
		if err != nil {
			return err
		}
		if game.Status == GameStatusCompleted {
			return newServiceError(KindConflict, opCompleteGame, "already_completed", ErrGameCompleted)
		}

		var winner Player
		err = tx.Where("game_id = ? AND id = ?", game.ID, request.WinnerPlayerID.String()).Take(&winner).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(KindValidation, opCompleteGame, "winner_not_in_game", ErrWinnerNotInGame)
		}
		if err != nil {
			s.logError(opCompleteGame, "winner_select_failed", err, zap.String("game_id", game.ID))
			return newServiceError(KindInternal, opCompleteGame, "winner_select_failed", err)
		}

		document, err := s.decodeSheet(opCompleteGame, winner)
		if err != nil {
			return err
		}
		value := cashflow.Cashflow(document).InexactFloat64()
		timestamp := FormatTimestamp(s.clock())
		comment := optionalString(strings.TrimSpace(request.WinnerComment))

		result := tx.Model(&Game{}).
			Where("id = ? AND status = ?", game.ID, GameStatusActive).
			Updates(map[string]any{
				"status":           GameStatusCompleted,
				"completed_at":     timestamp,
				"updated_at":       timestamp,
				"winner_player_id": winner.ID,
				"winner_comment":   comment,
			})
		if result.Error != nil {
			s.logError(opCompleteGame, "game_update_failed", result.Error, zap.String("game_id", game.ID))
			return newServiceError(KindInternal, opCompleteGame, "game_update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return newServiceError(KindConflict, opCompleteGame, "already_completed", ErrGameCompleted)
		}

		recordID, err := s.newID(opCompleteGame)
		if err != nil {
			return err
		}
		record := LeaderboardRecord{
			ID:            recordID,
			GameID:        game.ID,
			PlayerID:      winner.ID,
			CashflowValue: value,
			CapturedAt:    timestamp,
			WinnerComment: comment,
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCompleteGame, "record_insert_failed", err, zap.String("game_id", game.ID))
			return newServiceError(KindInternal, opCompleteGame, "record_insert_failed", err)
		}

		game.Status = GameStatusCompleted
		game.CompletedAt = &timestamp
		game.UpdatedAt = timestamp
		game.WinnerPlayerID = &winner.ID
		game.WinnerComment = comment
		completion = Completion{Game: game, Record: record, WinnerCashflow: value}
		return nil
	})
	if txErr != nil {
		return Completion{}, txErr
	}

	s.logger.Info("game completed",
		zap.String("game_id", completion.Game.ID),
		zap.String("winner_player_id", completion.Record.PlayerID),
		zap.Float64("cashflow", completion.WinnerCashflow))
	return completion, nil
}

func (s *Service) buildEntry(tx *gorm.DB, operation string, game Game, player Player, intent AuditIntent, stored, result sheet.Node) (AuditLogEntry, error) {
	timestamp, err := s.entryTimestamp(operation, game, intent.Timestamp)
	if err != nil {
		return AuditLogEntry{}, err
	}

	before := snapshotOrDefault(intent.BeforeSnapshot, stored)
	after := snapshotOrDefault(intent.AfterSnapshot, result)

	fieldPaths := intent.FieldPaths
	if len(fieldPaths) == 0 {
		fieldPaths = sheet.Diff(before, after).FieldPaths
	}
	if len(fieldPaths) == 0 {
		return AuditLogEntry{}, newServiceError(KindValidation, operation, "no_changes", ErrNoChanges)
	}

	if intent.EntryType == EntryTypeCorrection {
		origin, err := s.audit.find(tx, GameID(player.GameID), intent.OriginEntryID)
		if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && origin.PlayerID != player.ID) {
			return AuditLogEntry{}, newServiceError(KindNotFound, operation, "origin_entry_not_found", ErrEntryNotFound)
		}
		if err != nil {
			s.logError(operation, "origin_select_failed", err,
				zap.String("game_id", player.GameID),
				zap.String("origin_entry_id", intent.OriginEntryID.String()))
			return AuditLogEntry{}, newServiceError(KindInternal, operation, "origin_select_failed", err)
		}
	}

	entryID, err := s.newID(operation)
	if err != nil {
		return AuditLogEntry{}, err
	}
	beforeJSON, err := s.encodeDocument(operation, before)
	if err != nil {
		return AuditLogEntry{}, err
	}
	afterJSON, err := s.encodeDocument(operation, after)
	if err != nil {
		return AuditLogEntry{}, err
	}

	return AuditLogEntry{
		ID:             entryID,
		GameID:         player.GameID,
		PlayerID:       player.ID,
		Timestamp:      timestamp,
		EntryType:      intent.EntryType,
		FieldPaths:     datatypes.JSONSlice[string](append([]string(nil), fieldPaths...)),
		BeforeSnapshot: beforeJSON,
		AfterSnapshot:  afterJSON,
		Notes:          optionalString(strings.TrimSpace(intent.Notes)),
		OriginEntryID:  optionalString(intent.OriginEntryID.String()),
	}, nil
}

// entryTimestamp keeps a game's audit timestamps non-decreasing: a supplied
// timestamp must fall between the game's last update and the ledger clock.
func (s *Service) entryTimestamp(operation string, game Game, supplied time.Time) (string, error) {
	now := FormatTimestamp(s.clock())
	if now < game.UpdatedAt {
		now = game.UpdatedAt
	}
	if supplied.IsZero() {
		return now, nil
	}
	timestamp := FormatTimestamp(supplied)
	switch {
	case timestamp < game.UpdatedAt:
		return "", newServiceError(KindValidation, operation, "invalid_timestamp",
			fmt.Errorf("%w: timestamp %s precedes game update %s", ErrInvalidAuditEntry, timestamp, game.UpdatedAt))
	case timestamp > now:
		return "", newServiceError(KindValidation, operation, "invalid_timestamp",
			fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidAuditEntry, timestamp))
	}
	return timestamp, nil
}

func (s *Service) loadGame(db *gorm.DB, operation string, gameID GameID) (Game, error) {
	var game Game
	err := db.Where("id = ?", gameID.String()).Take(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Game{}, newServiceError(KindNotFound, operation, "game_not_found", ErrGameNotFound)
	}
	if err != nil {
		s.logError(operation, "game_select_failed", err, zap.String("game_id", gameID.String()))
		return Game{}, newServiceError(KindInternal, operation, "game_select_failed", err)
	}
	return game, nil
}

func (s *Service) loadPlayer(db *gorm.DB, operation string, gameID GameID, playerID PlayerID) (Player, error) {
	var player Player
	err := db.Where("game_id = ? AND id = ?", gameID.String(), playerID.String()).Take(&player).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Player{}, newServiceError(KindNotFound, operation, "player_not_found", ErrPlayerNotFound)
	}
	if err != nil {
		s.logError(operation, "player_select_failed", err,
			zap.String("game_id", gameID.String()),
			zap.String("player_id", playerID.String()))
		return Player{}, newServiceError(KindInternal, operation, "player_select_failed", err)
	}
	return player, nil
}

func (s *Service) loadPlayers(db *gorm.DB, operation string, gameIDs ...string) ([]Player, error) {
	players := make([]Player, 0)
	if err := db.Where("game_id IN ?", gameIDs).
		Order("game_id").
		Order("seat").
		Find(&players).Error; err != nil {
		s.logError(operation, "players_select_failed", err, zap.Strings("game_ids", gameIDs))
		return nil, newServiceError(KindInternal, operation, "players_select_failed", err)
	}
	return players, nil
}

func (s *Service) touchGame(tx *gorm.DB, operation, gameID, timestamp string) error {
	if err := tx.Model(&Game{}).Where("id = ?", gameID).Update("updated_at", timestamp).Error; err != nil {
		s.logError(operation, "game_touch_failed", err, zap.String("game_id", gameID))
		return newServiceError(KindInternal, operation, "game_touch_failed", err)
	}
	return nil
}

func (s *Service) decodeSheet(operation string, player Player) (sheet.Sheet, error) {
	document, err := sheet.ParseSheet(player.SheetState)
	if err != nil {
		s.logError(operation, "sheet_decode_failed", err,
			zap.String("game_id", player.GameID),
			zap.String("player_id", player.ID))
		return sheet.Sheet{}, newServiceError(KindInternal, operation, "sheet_decode_failed", err)
	}
	return document, nil
}

func (s *Service) encodeDocument(operation string, node sheet.Node) (datatypes.JSON, error) {
	encoded, err := node.MarshalJSON()
	if err != nil {
		s.logError(operation, "document_encode_failed", err)
		return nil, newServiceError(KindInternal, operation, "document_encode_failed", err)
	}
	return datatypes.JSON(encoded), nil
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", newServiceError(KindInternal, operation, "id_generation_failed", err)
	}
	return id, nil
}

func (s *Service) observe(operation string, started time.Time, err *error) {
	if s.observer == nil {
		return
	}
	s.observer.ObserveOperation(operation, Outcome(*err), time.Since(started))
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logError(s.logger, operation, reason, err, fields...)
}

func logError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("ledger service error", attrs...)
}

// snapshotOrDefault treats a missing or null snapshot as the fallback document.
func snapshotOrDefault(node, fallback sheet.Node) sheet.Node {
	switch node.Kind() {
	case sheet.KindAbsent, sheet.KindNull:
		return fallback
	default:
		return node
	}
}
