package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cashflow-tracker/backend/internal/leaderboard"
	"github.com/cashflow-tracker/backend/internal/ledger"
	"github.com/cashflow-tracker/backend/internal/metrics"
	"github.com/cashflow-tracker/backend/internal/sheet"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultStreamHeartbeat = 25 * time.Second
	corsMaxAge             = 7 * 24 * time.Hour
	unmatchedRoute         = "unmatched"
)

var (
	errMissingLedger      = errors.New("ledger service dependency required")
	errMissingLeaderboard = errors.New("leaderboard ranker dependency required")
)

// Dependencies wires the HTTP surface to its collaborators. Realtime, Metrics and
// RateLimiter are optional.
type Dependencies struct {
	Ledger          *ledger.Service
	Leaderboard     *leaderboard.Ranker
	Realtime        *RealtimeDispatcher
	Metrics         *metrics.Recorder
	RateLimiter     *IPRateLimiter
	AllowedOrigins  []string
	StreamHeartbeat time.Duration
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Ledger == nil {
		return nil, errMissingLedger
	}
	if deps.Leaderboard == nil {
		return nil, errMissingLeaderboard
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	heartbeat := deps.StreamHeartbeat
	if heartbeat <= 0 {
		heartbeat = defaultStreamHeartbeat
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestObserver(logger, deps.Metrics))
	router.Use(corsMiddleware(deps.AllowedOrigins))
	if deps.RateLimiter != nil {
		router.Use(deps.RateLimiter.Middleware())
	}

	handler := &httpHandler{
		ledger:      deps.Ledger,
		leaderboard: deps.Leaderboard,
		realtime:    realtime,
		heartbeat:   heartbeat,
		logger:      logger,
	}

	api := router.Group("/api")
	api.GET("/health", handler.handleHealth)
	api.GET("/games", handler.handleListGames)
	api.POST("/games", handler.handleCreateGame)
	api.GET("/games/:id", handler.handleGetGame)
	api.DELETE("/games/:id", handler.handleDeleteGame)
	api.GET("/games/:id/players/:playerId", handler.handleGetPlayer)
	api.PATCH("/games/:id/players/:playerId", handler.handleMutateSheet)
	api.GET("/games/:id/players/:playerId/summary", handler.handlePlayerSummary)
	api.GET("/games/:id/audit", handler.handleListAudit)
	api.POST("/games/:id/audit", handler.handleAppendAudit)
	api.GET("/games/:id/audit/:entryId", handler.handleGetAuditEntry)
	api.POST("/games/:id/end", handler.handleCompleteGame)
	api.GET("/games/:id/events", handler.handleGameEvents)
	api.GET("/leaderboard", handler.handleLeaderboard)

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization", "X-Requested-With"},
		ExposeHeaders: []string{headerRateLimitRemaining, headerRateLimitReset, headerRateLimitTotal},
		MaxAge:        corsMaxAge,
	}
	allowAll := len(allowedOrigins) == 0
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	return cors.New(config)
}

// requestObserver logs every request and counts it by matched route.
func requestObserver(logger *zap.Logger, recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := c.Writer.Status()
		if recorder != nil {
			recorder.ObserveRequest(route, strconv.Itoa(status))
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		}
		if status >= http.StatusInternalServerError {
			logger.Error("http request failed", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

type httpHandler struct {
	ledger      *ledger.Service
	leaderboard *leaderboard.Ranker
	realtime    *RealtimeDispatcher
	heartbeat   time.Duration
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *httpHandler) handleListGames(c *gin.Context) {
	filter := ledger.GameFilter{}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		if status, err := ledger.ParseGameStatus(raw); err == nil {
			filter.Status = status
		}
	}

	games, err := h.ledger.ListGames(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]gamePayload, 0, len(games))
	for _, game := range games {
		response = append(response, newGamePayload(game))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateGame(c *gin.Context) {
	var payload createGameRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondInvalidRequest(c, "invalid_json", err)
		return
	}
	request, err := payload.toRequest()
	if err != nil {
		respondInvalidRequest(c, "invalid_sheet_state", err)
		return
	}

	created, err := h.ledger.CreateGame(c.Request.Context(), request)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newGamePayload(created))
}

func (h *httpHandler) handleGetGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	game, err := h.ledger.GetGame(c.Request.Context(), gameID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newGamePayload(game))
}

func (h *httpHandler) handleDeleteGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	if err := h.ledger.DeleteGame(c.Request.Context(), gameID); err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeMessage{GameID: gameID.String(), EventType: RealtimeEventGameDeleted})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGetPlayer(c *gin.Context) {
	gameID, playerID, ok := playerParams(c)
	if !ok {
		return
	}
	player, err := h.ledger.GetPlayer(c.Request.Context(), gameID, playerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newPlayerPayload(player))
}

func (h *httpHandler) handleMutateSheet(c *gin.Context) {
	gameID, playerID, ok := playerParams(c)
	if !ok {
		return
	}
	var payload sheetMutationRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondInvalidRequest(c, "invalid_json", err)
		return
	}
	if len(payload.SheetState) == 0 {
		respondInvalidRequest(c, "invalid_sheet_state", errMissingSheetState)
		return
	}
	parsedSheet, err := sheet.ParseSheet(payload.SheetState)
	if err != nil {
		respondInvalidRequest(c, "invalid_sheet_state", err)
		return
	}
	intent, err := payload.Audit.toIntent()
	if err != nil {
		respondInvalidRequest(c, "invalid_audit", err)
		return
	}

	updated, err := h.ledger.ApplySheetMutation(c.Request.Context(), ledger.SheetMutationRequest{
		GameID:   gameID,
		PlayerID: playerID,
		Sheet:    parsedSheet,
		Audit:    intent,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeMessage{GameID: gameID.String(), EventType: RealtimeEventPlayerUpdated, PlayerID: updated.ID})
	c.JSON(http.StatusOK, newPlayerPayload(updated))
}

func (h *httpHandler) handlePlayerSummary(c *gin.Context) {
	gameID, playerID, ok := playerParams(c)
	if !ok {
		return
	}
	summary, err := h.ledger.GetPlayerSummary(c.Request.Context(), gameID, playerID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSummaryPayload(summary))
}

func (h *httpHandler) handleListAudit(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	query := ledger.AuditQuery{
		GameID: gameID,
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	if raw := strings.TrimSpace(c.Query("playerId")); raw != "" {
		playerID, err := ledger.NewPlayerID(raw)
		if err != nil {
			respondInvalidRequest(c, "invalid_player_id", err)
			return
		}
		query.PlayerID = playerID
	}

	entries, err := h.ledger.ListAudit(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]auditEntryPayload, 0, len(entries))
	for _, entry := range entries {
		response = append(response, newAuditEntryPayload(entry))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleAppendAudit(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	var payload auditAppendRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondInvalidRequest(c, "invalid_json", err)
		return
	}
	playerID, err := ledger.NewPlayerID(payload.PlayerID)
	if err != nil {
		respondInvalidRequest(c, "invalid_player_id", err)
		return
	}
	intent, err := payload.auditIntentPayload.toIntent()
	if err != nil {
		respondInvalidRequest(c, "invalid_audit", err)
		return
	}

	entry, err := h.ledger.AppendAuditEntry(c.Request.Context(), ledger.AuditAppendRequest{
		GameID:   gameID,
		PlayerID: playerID,
		Audit:    intent,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeMessage{GameID: gameID.String(), EventType: RealtimeEventAuditAppended, PlayerID: entry.PlayerID, EntryID: entry.ID})
	c.JSON(http.StatusCreated, newAuditEntryPayload(entry))
}

func (h *httpHandler) handleGetAuditEntry(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	entryID, err := ledger.NewEntryID(c.Param("entryId"))
	if err != nil {
		respondInvalidRequest(c, "invalid_entry_id", err)
		return
	}
	entry, err := h.ledger.GetAuditEntry(c.Request.Context(), gameID, entryID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuditEntryPayload(entry))
}

func (h *httpHandler) handleCompleteGame(c *gin.Context) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return
	}
	var payload completeGameRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondInvalidRequest(c, "invalid_json", err)
		return
	}
	winnerID, err := ledger.NewPlayerID(payload.WinnerPlayerID)
	if err != nil {
		respondInvalidRequest(c, "invalid_player_id", err)
		return
	}

	completion, err := h.ledger.CompleteGame(c.Request.Context(), ledger.CompleteGameRequest{
		GameID:         gameID,
		WinnerPlayerID: winnerID,
		WinnerComment:  payload.WinnerComment,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.publish(RealtimeMessage{GameID: gameID.String(), EventType: RealtimeEventGameCompleted, PlayerID: winnerID.String()})
	c.JSON(http.StatusOK, newCompletionPayload(completion))
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	query := leaderboard.Query{Limit: queryInt(c, "limit")}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondInvalidRequest(c, "invalid_since", err)
			return
		}
		query.Since = since
	}

	entries, err := h.leaderboard.Rank(c.Request.Context(), query)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newLeaderboardPayload(entries))
}

func (h *httpHandler) publish(message RealtimeMessage) {
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now().UTC()
	}
	h.realtime.Publish(message)
}

// respondError maps ledger error kinds onto status codes. Internal causes are logged, never returned.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	var serviceErr *ledger.ServiceError
	if !errors.As(err, &serviceErr) {
		h.logger.Error("unclassified handler error", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   string(ledger.KindInternal),
			"code":    "server.internal",
			"message": "internal error",
		})
		return
	}

	status := http.StatusInternalServerError
	switch serviceErr.Kind() {
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindValidation:
		status = http.StatusBadRequest
	case ledger.KindConflict:
		status = http.StatusConflict
	default:
		h.logger.Error("ledger operation failed", zap.String("route", c.FullPath()), zap.String("code", serviceErr.Code()), zap.Error(err))
	}
	c.JSON(status, gin.H{
		"error":   string(serviceErr.Kind()),
		"code":    serviceErr.Code(),
		"message": serviceErr.Message(),
	})
}

func respondInvalidRequest(c *gin.Context, reason string, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   string(ledger.KindValidation),
		"code":    "request." + reason,
		"message": err.Error(),
	})
}

func gameIDParam(c *gin.Context) (ledger.GameID, bool) {
	gameID, err := ledger.NewGameID(c.Param("id"))
	if err != nil {
		respondInvalidRequest(c, "invalid_game_id", err)
		return "", false
	}
	return gameID, true
}

func playerParams(c *gin.Context) (ledger.GameID, ledger.PlayerID, bool) {
	gameID, ok := gameIDParam(c)
	if !ok {
		return "", "", false
	}
	playerID, err := ledger.NewPlayerID(c.Param("playerId"))
	if err != nil {
		respondInvalidRequest(c, "invalid_player_id", err)
		return "", "", false
	}
	return gameID, playerID, true
}

// queryInt reads an integer query parameter. Missing or malformed values read as zero.
func queryInt(c *gin.Context, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return value
}
