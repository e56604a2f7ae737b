package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cashflow-tracker/backend/internal/leaderboard"
	"github.com/cashflow-tracker/backend/internal/ledger"
	"github.com/cashflow-tracker/backend/internal/sheet"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

var errMissingSheetState = errors.New("sheetState is required")

type playerSeedPayload struct {
	Name       string          `json:"name"`
	Color      string          `json:"color"`
	SheetState json.RawMessage `json:"sheetState"`
}

type createGameRequestPayload struct {
	Title   string              `json:"title"`
	Players []playerSeedPayload `json:"players"`
}

func (p createGameRequestPayload) toRequest() (ledger.CreateGameRequest, error) {
	request := ledger.CreateGameRequest{
		Title:   p.Title,
		Players: make([]ledger.PlayerSeed, 0, len(p.Players)),
	}
	for _, seed := range p.Players {
		parsed, err := sheet.ParseSheet(seed.SheetState)
		if err != nil {
			return ledger.CreateGameRequest{}, err
		}
		request.Players = append(request.Players, ledger.PlayerSeed{
			Name:  seed.Name,
			Color: ledger.PlayerColor(strings.TrimSpace(seed.Color)),
			Sheet: parsed,
		})
	}
	return request, nil
}

type auditIntentPayload struct {
	EntryType      string     `json:"entryType"`
	FieldPaths     []string   `json:"fieldPaths"`
	BeforeSnapshot sheet.Node `json:"beforeSnapshot"`
	AfterSnapshot  sheet.Node `json:"afterSnapshot"`
	Notes          string     `json:"notes"`
	OriginEntryID  string     `json:"originEntryId"`
	Timestamp      string     `json:"timestamp"`
}

func (p auditIntentPayload) toIntent() (ledger.AuditIntent, error) {
	intent := ledger.AuditIntent{
		EntryType:      ledger.EntryType(strings.TrimSpace(p.EntryType)),
		FieldPaths:     p.FieldPaths,
		BeforeSnapshot: p.BeforeSnapshot,
		AfterSnapshot:  p.AfterSnapshot,
		Notes:          p.Notes,
	}
	if strings.TrimSpace(p.OriginEntryID) != "" {
		originID, err := ledger.NewEntryID(p.OriginEntryID)
		if err != nil {
			return ledger.AuditIntent{}, err
		}
		intent.OriginEntryID = originID
	}
	if strings.TrimSpace(p.Timestamp) != "" {
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(p.Timestamp))
		if err != nil {
			return ledger.AuditIntent{}, err
		}
		intent.Timestamp = parsed
	}
	return intent, nil
}

type sheetMutationRequestPayload struct {
	SheetState json.RawMessage    `json:"sheetState"`
	Audit      auditIntentPayload `json:"audit"`
}

type auditAppendRequestPayload struct {
	PlayerID string `json:"playerId"`
	auditIntentPayload
}

type completeGameRequestPayload struct {
	WinnerPlayerID string `json:"winnerPlayerId"`
	WinnerComment  string `json:"winnerComment"`
}

type playerPayload struct {
	ID             string          `json:"id"`
	GameID         string          `json:"gameId"`
	Seat           int             `json:"seat"`
	Name           string          `json:"name"`
	Color          string          `json:"color"`
	SheetState     json.RawMessage `json:"sheetState"`
	LastModifiedAt string          `json:"lastModifiedAt"`
}

type gamePayload struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Status         string          `json:"status"`
	CreatedAt      string          `json:"createdAt"`
	UpdatedAt      string          `json:"updatedAt"`
	CompletedAt    *string         `json:"completedAt"`
	WinnerPlayerID *string         `json:"winnerPlayerId"`
	WinnerComment  *string         `json:"winnerComment"`
	Players        []playerPayload `json:"players"`
}

type auditEntryPayload struct {
	ID             string          `json:"id"`
	GameID         string          `json:"gameId"`
	PlayerID       string          `json:"playerId"`
	Timestamp      string          `json:"timestamp"`
	EntryType      string          `json:"entryType"`
	FieldPaths     []string        `json:"fieldPaths"`
	BeforeSnapshot json.RawMessage `json:"beforeSnapshot"`
	AfterSnapshot  json.RawMessage `json:"afterSnapshot"`
	Notes          *string         `json:"notes,omitempty"`
	OriginEntryID  *string         `json:"originEntryId,omitempty"`
}

type completionPayload struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Status         string  `json:"status"`
	CompletedAt    *string `json:"completedAt"`
	WinnerPlayerID *string `json:"winnerPlayerId"`
	WinnerComment  *string `json:"winnerComment"`
	WinnerCashflow float64 `json:"winnerCashflow"`
}

type summaryPayload struct {
	PlayerID           string  `json:"playerId"`
	GameID             string  `json:"gameId"`
	Cash               float64 `json:"cash"`
	Salary             float64 `json:"salary"`
	PassiveIncome      float64 `json:"passiveIncome"`
	TotalIncome        float64 `json:"totalIncome"`
	Children           float64 `json:"children"`
	PerChildExpense    float64 `json:"perChildExpense"`
	ChildExpenses      float64 `json:"childExpenses"`
	BankLoanExpense    float64 `json:"bankLoanExpense"`
	TotalExpenses      float64 `json:"totalExpenses"`
	Cashflow           float64 `json:"cashflow"`
	FastTrackDayIncome float64 `json:"fastTrackDayIncome"`
}

type leaderboardPlayerPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

type leaderboardGamePayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	CompletedAt string `json:"completedAt"`
}

type leaderboardEntryPayload struct {
	ID            string                   `json:"id"`
	Rank          int                      `json:"rank"`
	Player        leaderboardPlayerPayload `json:"player"`
	Game          leaderboardGamePayload   `json:"game"`
	CashflowValue float64                  `json:"cashflowValue"`
	CapturedAt    string                   `json:"capturedAt"`
	WinnerComment *string                  `json:"winnerComment,omitempty"`
}

type realtimeEventPayload struct {
	GameID    string `json:"gameId"`
	PlayerID  string `json:"playerId,omitempty"`
	EntryID   string `json:"entryId,omitempty"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func newPlayerPayload(player ledger.Player) playerPayload {
	return playerPayload{
		ID:             player.ID,
		GameID:         player.GameID,
		Seat:           player.Seat,
		Name:           player.Name,
		Color:          string(player.Color),
		SheetState:     rawDocument(player.SheetState),
		LastModifiedAt: player.LastModifiedAt,
	}
}

func newGamePayload(result ledger.GameWithPlayers) gamePayload {
	payload := gamePayload{
		ID:             result.Game.ID,
		Title:          result.Game.Title,
		Status:         string(result.Game.Status),
		CreatedAt:      result.Game.CreatedAt,
		UpdatedAt:      result.Game.UpdatedAt,
		CompletedAt:    result.Game.CompletedAt,
		WinnerPlayerID: result.Game.WinnerPlayerID,
		WinnerComment:  result.Game.WinnerComment,
		Players:        make([]playerPayload, 0, len(result.Players)),
	}
	for _, player := range result.Players {
		payload.Players = append(payload.Players, newPlayerPayload(player))
	}
	return payload
}

func newAuditEntryPayload(entry ledger.AuditLogEntry) auditEntryPayload {
	fieldPaths := []string(entry.FieldPaths)
	if fieldPaths == nil {
		fieldPaths = []string{}
	}
	return auditEntryPayload{
		ID:             entry.ID,
		GameID:         entry.GameID,
		PlayerID:       entry.PlayerID,
		Timestamp:      entry.Timestamp,
		EntryType:      string(entry.EntryType),
		FieldPaths:     fieldPaths,
		BeforeSnapshot: rawDocument(entry.BeforeSnapshot),
		AfterSnapshot:  rawDocument(entry.AfterSnapshot),
		Notes:          entry.Notes,
		OriginEntryID:  entry.OriginEntryID,
	}
}

func newCompletionPayload(completion ledger.Completion) completionPayload {
	return completionPayload{
		ID:             completion.Game.ID,
		Title:          completion.Game.Title,
		Status:         string(completion.Game.Status),
		CompletedAt:    completion.Game.CompletedAt,
		WinnerPlayerID: completion.Game.WinnerPlayerID,
		WinnerComment:  completion.Game.WinnerComment,
		WinnerCashflow: completion.WinnerCashflow,
	}
}

func newSummaryPayload(result ledger.PlayerSummary) summaryPayload {
	summary := result.Summary
	return summaryPayload{
		PlayerID:           result.Player.ID,
		GameID:             result.Player.GameID,
		Cash:               asNumber(summary.Cash),
		Salary:             asNumber(summary.Salary),
		PassiveIncome:      asNumber(summary.PassiveIncome),
		TotalIncome:        asNumber(summary.TotalIncome),
		Children:           asNumber(summary.Children),
		PerChildExpense:    asNumber(summary.PerChildExpense),
		ChildExpenses:      asNumber(summary.ChildExpenses),
		BankLoanExpense:    asNumber(summary.BankLoanExpense),
		TotalExpenses:      asNumber(summary.TotalExpenses),
		Cashflow:           asNumber(summary.Cashflow),
		FastTrackDayIncome: asNumber(summary.FastTrackDayIncome),
	}
}

func newLeaderboardPayload(entries []leaderboard.RankedEntry) []leaderboardEntryPayload {
	payload := make([]leaderboardEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, leaderboardEntryPayload{
			ID:   entry.ID,
			Rank: entry.Rank,
			Player: leaderboardPlayerPayload{
				ID:    entry.Player.ID,
				Name:  entry.Player.Name,
				Color: string(entry.Player.Color),
			},
			Game: leaderboardGamePayload{
				ID:          entry.Game.ID,
				Title:       entry.Game.Title,
				CompletedAt: entry.Game.CompletedAt,
			},
			CashflowValue: entry.CashflowValue,
			CapturedAt:    entry.CapturedAt,
			WinnerComment: entry.WinnerComment,
		})
	}
	return payload
}

func newRealtimeEventPayload(message RealtimeMessage) realtimeEventPayload {
	return realtimeEventPayload{
		GameID:    message.GameID,
		PlayerID:  message.PlayerID,
		EntryID:   message.EntryID,
		Timestamp: ledger.FormatTimestamp(message.Timestamp),
		Source:    realtimeSourceBackend,
	}
}

// rawDocument passes stored JSON through untouched; empty columns render as an empty object.
func rawDocument(document datatypes.JSON) json.RawMessage {
	if len(document) == 0 {
		return json.RawMessage("{}")
	}
	return json.RawMessage(document)
}

func asNumber(value decimal.Decimal) float64 {
	return value.InexactFloat64()
}
