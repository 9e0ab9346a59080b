package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MapleGroveLabs/sproutlog/backend/internal/catalog"
	"github.com/MapleGroveLabs/sproutlog/backend/internal/journal"
)

const userIDContextKey = "sproutlog_user_id"

var (
	errMissingTokenManager  = errors.New("token manager dependency required")
	errMissingRecorder      = errors.New("recorder dependency required")
	errMissingEntryStore    = errors.New("entry store dependency required")
	errMissingCatalogStore  = errors.New("catalog store dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

type BackendTokenManager interface {
	IssueBackendToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// CloudSyncer is the remote reconciliation surface. A nil syncer disables
// the sync routes; everything local keeps working.
type CloudSyncer interface {
	SyncChildren(ctx context.Context, userID string, children []catalog.Child) error
	SyncEntries(ctx context.Context, userID string, entries []journal.DailyEntry) error
	SyncGoals(ctx context.Context, userID string, goals []catalog.Goal) error
	SoftDeleteChild(ctx context.Context, userID, childID string) error
	SoftDeleteEntry(ctx context.Context, userID, entryID string) error
	SoftDeleteGoal(ctx context.Context, userID string, code int) error
	GetChildren(ctx context.Context, userID string) ([]catalog.Child, error)
	GetEntries(ctx context.Context, userID string) ([]journal.DailyEntry, error)
	GetGoals(ctx context.Context, userID string) ([]catalog.Goal, error)
	UpdateLastSync(ctx context.Context, userID string) error
	LastSyncedAt(ctx context.Context, userID string) (*time.Time, error)
}

type Dependencies struct {
	TokenManager BackendTokenManager
	Recorder     *journal.Recorder
	Entries      *journal.EntryStore
	Catalog      *catalog.Store
	CloudSync    CloudSyncer
	Logger       *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Recorder == nil {
		return nil, errMissingRecorder
	}
	if deps.Entries == nil {
		return nil, errMissingEntryStore
	}
	if deps.Catalog == nil {
		return nil, errMissingCatalogStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenManager,
		recorder:  deps.Recorder,
		entries:   deps.Entries,
		catalog:   deps.Catalog,
		cloudSync: deps.CloudSync,
		logger:    logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/token", handler.handleTokenIssue)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)

	protected.GET("/entries", handler.handleListEntries)
	protected.GET("/entries/:entryId", handler.handleGetEntry)
	protected.POST("/entries", handler.handleCreateEntry)
	protected.POST("/entries/:entryId/lines", handler.handleAddLine)
	protected.PATCH("/entries/:entryId/lines/:lineId", handler.handleUpdateLine)
	protected.DELETE("/entries/:entryId/lines/:lineId", handler.handleDeleteLine)
	protected.PUT("/entries/:entryId/signature", handler.handleSaveSignature)
	protected.POST("/entries/:entryId/summary", handler.handleGenerateSummary)
	protected.PUT("/entries/:entryId/summary", handler.handleUpdateSummary)
	protected.POST("/entries/:entryId/export", handler.handleMarkExported)

	protected.GET("/children", handler.handleListChildren)
	protected.PUT("/children/:childId", handler.handleSaveChild)
	protected.DELETE("/children/:childId", handler.handleDeleteChild)
	protected.GET("/goals", handler.handleListGoals)
	protected.PUT("/goals/:code", handler.handleSaveGoal)
	protected.DELETE("/goals/:code", handler.handleDeleteGoal)

	protected.POST("/sync/push", handler.handleSyncPush)
	protected.GET("/sync/pull", handler.handleSyncPull)
	protected.GET("/sync/status", handler.handleSyncStatus)
	protected.DELETE("/sync/entries/:entryId", handler.handleSyncDeleteEntry)

	return router, nil
}

type httpHandler struct {
	tokens    BackendTokenManager
	recorder  *journal.Recorder
	entries   *journal.EntryStore
	catalog   *catalog.Store
	cloudSync CloudSyncer
	logger    *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequestPayload struct {
	UserID string `json:"user_id"`
}

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleTokenIssue(c *gin.Context) {
	var request tokenRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueBackendToken(c.Request.Context(), strings.TrimSpace(request.UserID))
	if err != nil {
		h.logger.Error("failed to issue backend token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

type entryResponsePayload struct {
	EntryID          string                 `json:"id"`
	Date             string                 `json:"date"`
	ChildID          string                 `json:"childId"`
	Lines            []journal.ActivityLine `json:"lines"`
	SignatureBase64  string                 `json:"signatureBase64,omitempty"`
	Summary          string                 `json:"aiSummary,omitempty"`
	SummaryProvider  string                 `json:"aiProvider,omitempty"`
	Locked           bool                   `json:"locked"`
	EmailedAtSeconds *int64                 `json:"emailedAtSeconds,omitempty"`
}

func (h *httpHandler) entryResponse(entry journal.DailyEntry) (entryResponsePayload, error) {
	lines, err := entry.Lines()
	if err != nil {
		return entryResponsePayload{}, err
	}
	if lines == nil {
		lines = []journal.ActivityLine{}
	}
	return entryResponsePayload{
		EntryID:          entry.EntryID,
		Date:             entry.EntryDate,
		ChildID:          entry.ChildID,
		Lines:            lines,
		SignatureBase64:  entry.SignatureBase64,
		Summary:          entry.Summary,
		SummaryProvider:  entry.SummaryProvider,
		Locked:           entry.Locked,
		EmailedAtSeconds: entry.EmailedAtSeconds,
	}, nil
}

func (h *httpHandler) respondEntry(c *gin.Context, entry journal.DailyEntry) {
	response, err := h.entryResponse(entry)
	if err != nil {
		h.logger.Error("failed to encode entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
		return
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) respondRecorderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, journal.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "entry_not_found"})
	case errors.Is(err, journal.ErrInvalidEntryID), errors.Is(err, journal.ErrInvalidLineID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("journal operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "journal_failed"})
	}
}

func (h *httpHandler) handleListEntries(c *gin.Context) {
	entries, err := h.entries.List(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}

	response := make([]entryResponsePayload, 0, len(entries))
	for _, entry := range entries {
		payload, err := h.entryResponse(entry)
		if err != nil {
			h.logger.Error("failed to encode entry", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		response = append(response, payload)
	}
	c.JSON(http.StatusOK, gin.H{"entries": response})
}

func (h *httpHandler) handleGetEntry(c *gin.Context) {
	entry, err := h.entries.Get(c.Request.Context(), c.Param("entryId"))
	if err != nil {
		if errors.Is(err, journal.ErrEntryNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "entry_not_found"})
			return
		}
		h.logger.Error("failed to load entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load_failed"})
		return
	}
	h.respondEntry(c, *entry)
}

func (h *httpHandler) handleCreateEntry(c *gin.Context) {
	var snapshot journal.EntryCreated
	if err := c.ShouldBindJSON(&snapshot); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.CreateEntry(c.Request.Context(), snapshot)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

func (h *httpHandler) handleAddLine(c *gin.Context) {
	var line journal.ActivityLine
	if err := c.ShouldBindJSON(&line); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.AddLine(c.Request.Context(), c.Param("entryId"), line)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

func (h *httpHandler) handleUpdateLine(c *gin.Context) {
	var patch journal.LinePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.UpdateLine(c.Request.Context(), c.Param("entryId"), c.Param("lineId"), patch)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

func (h *httpHandler) handleDeleteLine(c *gin.Context) {
	entry, err := h.recorder.DeleteLine(c.Request.Context(), c.Param("entryId"), c.Param("lineId"))
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

type signatureRequestPayload struct {
	SignatureBase64 string `json:"signatureBase64"`
}

func (h *httpHandler) handleSaveSignature(c *gin.Context) {
	var request signatureRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.SignatureBase64 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.SaveSignature(c.Request.Context(), c.Param("entryId"), request.SignatureBase64)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

type summaryRequestPayload struct {
	Summary  string `json:"summary"`
	Provider string `json:"provider"`
}

func (h *httpHandler) handleGenerateSummary(c *gin.Context) {
	var request summaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Summary == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.GenerateSummary(c.Request.Context(), c.Param("entryId"), request.Summary, request.Provider)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

func (h *httpHandler) handleUpdateSummary(c *gin.Context) {
	var request summaryRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Summary == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	entry, err := h.recorder.UpdateSummary(c.Request.Context(), c.Param("entryId"), request.Summary)
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	h.respondEntry(c, entry)
}

func (h *httpHandler) handleMarkExported(c *gin.Context) {
	event, err := h.recorder.MarkExported(c.Request.Context(), c.Param("entryId"))
	if err != nil {
		h.respondRecorderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_id": event.EventID, "timestamp": event.TimestampMillis})
}

type childRequestPayload struct {
	Name    string `json:"name"`
	Center  string `json:"center"`
	Teacher string `json:"teacher"`
}

func (h *httpHandler) handleListChildren(c *gin.Context) {
	children, err := h.catalog.ListChildren(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list children", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"children": children})
}

func (h *httpHandler) handleSaveChild(c *gin.Context) {
	var request childRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	child := catalog.Child{
		ChildID: c.Param("childId"),
		Name:    request.Name,
		Center:  request.Center,
		Teacher: request.Teacher,
	}
	if err := h.catalog.SaveChild(c.Request.Context(), &child); err != nil {
		h.logger.Error("failed to save child", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, child)
}

func (h *httpHandler) handleDeleteChild(c *gin.Context) {
	childID := c.Param("childId")
	if err := h.catalog.DeleteChild(c.Request.Context(), childID); err != nil {
		h.logger.Error("failed to delete child", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	// The local row is gone; the remote copy gets a tombstone so other
	// devices stop pulling it.
	if h.cloudSync != nil {
		userID := c.GetString(userIDContextKey)
		if err := h.cloudSync.SoftDeleteChild(c.Request.Context(), userID, childID); err != nil {
			h.logger.Warn("remote child tombstone failed", zap.Error(err), zap.String("child_id", childID))
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": childID})
}

type goalRequestPayload struct {
	Description string   `json:"description"`
	Activities  []string `json:"activities"`
}

func (h *httpHandler) handleListGoals(c *gin.Context) {
	goals, err := h.catalog.ListGoals(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list goals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"goals": goals})
}

func (h *httpHandler) handleSaveGoal(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_code"})
		return
	}

	var request goalRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Description) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	goal := catalog.Goal{Code: code, Description: request.Description}
	if err := goal.SetActivities(request.Activities); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.catalog.SaveGoal(c.Request.Context(), &goal); err != nil {
		h.logger.Error("failed to save goal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, goal)
}

func (h *httpHandler) handleDeleteGoal(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_goal_code"})
		return
	}
	if err := h.catalog.DeleteGoal(c.Request.Context(), code); err != nil {
		h.logger.Error("failed to delete goal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	if h.cloudSync != nil {
		userID := c.GetString(userIDContextKey)
		if err := h.cloudSync.SoftDeleteGoal(c.Request.Context(), userID, code); err != nil {
			h.logger.Warn("remote goal tombstone failed", zap.Error(err), zap.Int("code", code))
		}
	}
	c.JSON(http.StatusOK, gin.H{"deleted": code})
}

func (h *httpHandler) requireCloudSync(c *gin.Context) bool {
	if h.cloudSync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync_disabled"})
		return false
	}
	return true
}

// handleSyncPush uploads the full local dataset for the authenticated user.
// Pushes are idempotent; a failed push is retried from the start.
func (h *httpHandler) handleSyncPush(c *gin.Context) {
	if !h.requireCloudSync(c) {
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString(userIDContextKey)

	children, err := h.catalog.ListChildren(ctx)
	if err != nil {
		h.logger.Error("failed to load children for push", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}
	entries, err := h.entries.List(ctx)
	if err != nil {
		h.logger.Error("failed to load entries for push", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}
	goals, err := h.catalog.ListGoals(ctx)
	if err != nil {
		h.logger.Error("failed to load goals for push", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "push_failed"})
		return
	}

	if err := h.cloudSync.SyncChildren(ctx, userID, children); err != nil {
		h.logger.Error("child push failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "push_failed"})
		return
	}
	if err := h.cloudSync.SyncEntries(ctx, userID, entries); err != nil {
		h.logger.Error("entry push failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "push_failed"})
		return
	}
	if err := h.cloudSync.SyncGoals(ctx, userID, goals); err != nil {
		h.logger.Error("goal push failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "push_failed"})
		return
	}
	if err := h.cloudSync.UpdateLastSync(ctx, userID); err != nil {
		h.logger.Warn("failed to record sync watermark", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"children": len(children),
		"entries":  len(entries),
		"goals":    len(goals),
	})
}

// handleSyncPull returns the user's live remote dataset. It never writes the
// local stores; restoring locally is the client's decision.
func (h *httpHandler) handleSyncPull(c *gin.Context) {
	if !h.requireCloudSync(c) {
		return
	}
	ctx := c.Request.Context()
	userID := c.GetString(userIDContextKey)

	children, err := h.cloudSync.GetChildren(ctx, userID)
	if err != nil {
		h.logger.Error("child pull failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "pull_failed"})
		return
	}
	entries, err := h.cloudSync.GetEntries(ctx, userID)
	if err != nil {
		h.logger.Error("entry pull failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "pull_failed"})
		return
	}
	goals, err := h.cloudSync.GetGoals(ctx, userID)
	if err != nil {
		h.logger.Error("goal pull failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "pull_failed"})
		return
	}

	entryPayloads := make([]entryResponsePayload, 0, len(entries))
	for _, entry := range entries {
		payload, err := h.entryResponse(entry)
		if err != nil {
			h.logger.Error("failed to encode pulled entry", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "encode_failed"})
			return
		}
		entryPayloads = append(entryPayloads, payload)
	}

	c.JSON(http.StatusOK, gin.H{
		"children": children,
		"entries":  entryPayloads,
		"goals":    goals,
	})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	if !h.requireCloudSync(c) {
		return
	}

	lastSynced, err := h.cloudSync.LastSyncedAt(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.logger.Error("failed to load sync status", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "status_failed"})
		return
	}

	if lastSynced == nil {
		c.JSON(http.StatusOK, gin.H{"last_synced_at": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"last_synced_at": lastSynced.UTC().Format(time.RFC3339)})
}

// handleSyncDeleteEntry tombstones the remote copy of an entry without
// touching the local ledger.
func (h *httpHandler) handleSyncDeleteEntry(c *gin.Context) {
	if !h.requireCloudSync(c) {
		return
	}

	entryID := c.Param("entryId")
	userID := c.GetString(userIDContextKey)
	if err := h.cloudSync.SoftDeleteEntry(c.Request.Context(), userID, entryID); err != nil {
		h.logger.Error("remote entry tombstone failed", zap.Error(err), zap.String("entry_id", entryID))
		c.JSON(http.StatusBadGateway, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": entryID})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		// Expired tokens are routine client behavior, not a fault.
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
