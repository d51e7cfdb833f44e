package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
	"github.com/mikey/mail-triage/internal/mailsync"
)

// PushIngester processes provider push notifications
type PushIngester interface {
	HandleGmailPush(ctx context.Context, email string, historyID uint64) (int, error)
	HandleOutlookNotification(ctx context.Context, n mailsync.OutlookNotification) (int, error)
}

// Operator runs on-demand sync operations
type Operator interface {
	SyncAll(ctx context.Context, userID string, forceFull bool) (*core.SyncReport, error)
	Status(ctx context.Context, userID string) ([]core.AccountStatus, error)
	CategoryStats(ctx context.Context, userID string, days int) (*mailsync.CategoryStats, error)
	RecategorizeAccount(ctx context.Context, userID string, accountID uuid.UUID, category core.Category) (*mailsync.RecategorizeResult, error)
	SetManualCategory(ctx context.Context, userID string, accountID uuid.UUID, providerMessageID string, category core.Category) (*core.Message, error)
}

// pubSubEnvelope is a Pub/Sub push delivery
type pubSubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// gmailNotification is the payload Gmail publishes on a mailbox change
type gmailNotification struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

type graphNotifications struct {
	Value []mailsync.OutlookNotification `json:"value"`
}

// Server exposes webhooks, metrics, health and operator endpoints over HTTP
type Server struct {
	push       PushIngester
	ops        Operator
	logger     *zap.Logger
	engine     *gin.Engine
	srv        *http.Server
	background func(func())
	wg         sync.WaitGroup
}

// NewServer creates the HTTP server
func NewServer(listenAddr string, push PushIngester, ops Operator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		push:   push,
		ops:    ops,
		logger: logger,
		engine: gin.New(),
	}
	s.background = func(job func()) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			job()
		}()
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.srv = &http.Server{
		Addr:              listenAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	hooks := s.engine.Group("/webhooks")
	{
		hooks.POST("/gmail", s.handleGmail)
		hooks.POST("/outlook", s.handleOutlook)
	}

	users := s.engine.Group("/users/:user")
	{
		users.POST("/sync", s.handleSync)
		users.GET("/status", s.handleStatus)
		users.GET("/stats", s.handleStats)
		users.POST("/accounts/:account/recategorize", s.handleRecategorize)
		users.PUT("/accounts/:account/messages/:message/category", s.handleManualCategory)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// Start begins serving in the background
func (s *Server) Start() error {
	s.logger.Info("HTTP server starting", zap.String("address", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down and waits for queued notification work
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.wg.Wait()
	return err
}

// handleGmail acknowledges every delivery it cannot use so Pub/Sub stops redelivering it.
// Transient ingestion failures return 500 to request a retry.
func (s *Server) handleGmail(c *gin.Context) {
	var env pubSubEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		s.logger.Warn("Malformed Pub/Sub envelope", zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	}
	data, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		data, err = base64.URLEncoding.DecodeString(env.Message.Data)
	}
	if err != nil {
		s.logger.Warn("Undecodable Pub/Sub data", zap.String("message_id", env.Message.MessageID), zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	}
	var n gmailNotification
	if err := json.Unmarshal(data, &n); err != nil {
		s.logger.Warn("Malformed Gmail notification", zap.String("message_id", env.Message.MessageID), zap.Error(err))
		c.Status(http.StatusNoContent)
		return
	}
	historyID, err := strconv.ParseUint(n.HistoryID.String(), 10, 64)
	if err != nil || n.EmailAddress == "" {
		s.logger.Warn("Incomplete Gmail notification",
			zap.String("email", n.EmailAddress),
			zap.String("history_id", n.HistoryID.String()))
		c.Status(http.StatusNoContent)
		return
	}

	processed, err := s.push.HandleGmailPush(c.Request.Context(), n.EmailAddress, historyID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			s.logger.Warn("Gmail notification for unknown account", zap.String("email", n.EmailAddress))
			c.Status(http.StatusNoContent)
			return
		}
		s.logger.Error("Failed to ingest Gmail notification", zap.String("email", n.EmailAddress), zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	s.logger.Debug("Gmail notification ingested",
		zap.String("email", n.EmailAddress),
		zap.Uint64("history_id", historyID),
		zap.Int("processed", processed))
	c.Status(http.StatusNoContent)
}

// handleOutlook answers Graph subscription validation and queues change notifications
func (s *Server) handleOutlook(c *gin.Context) {
	if token := c.Query("validationToken"); token != "" {
		c.String(http.StatusOK, token)
		return
	}

	var body graphNotifications
	if err := c.ShouldBindJSON(&body); err != nil {
		s.logger.Warn("Malformed Graph notification", zap.Error(err))
		c.Status(http.StatusAccepted)
		return
	}
	for _, n := range body.Value {
		n := n
		s.background(func() {
			if _, err := s.push.HandleOutlookNotification(context.Background(), n); err != nil {
				s.logger.Error("Failed to ingest Graph notification",
					zap.String("subscription", n.SubscriptionID),
					zap.Error(err))
			}
		})
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleSync(c *gin.Context) {
	force, _ := strconv.ParseBool(c.DefaultQuery("force", "false"))
	report, err := s.ops.SyncAll(c.Request.Context(), c.Param("user"), force)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.ops.Status(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("user"), "accounts": status})
}

func (s *Server) handleStats(c *gin.Context) {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
		return
	}
	stats, err := s.ops.CategoryStats(c.Request.Context(), c.Param("user"), days)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRecategorize(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	var category core.Category
	if raw := c.Query("category"); raw != "" {
		parsed, ok := core.ParseCategory(raw)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
			return
		}
		category = parsed
	}
	res, err := s.ops.RecategorizeAccount(c.Request.Context(), c.Param("user"), accountID, category)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleManualCategory(c *gin.Context) {
	accountID, err := uuid.Parse(c.Param("account"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid account id"})
		return
	}
	var req struct {
		Category string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	category, ok := core.ParseCategory(req.Category)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return
	}
	msg, err := s.ops.SetManualCategory(c.Request.Context(), c.Param("user"), accountID, c.Param("message"), category)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message_id":      msg.ProviderMessageID,
		"category":        msg.Category,
		"priority":        msg.Priority,
		"confidence":      msg.Confidence,
		"manual_override": msg.ManualOverride,
	})
}

func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrNoAccounts):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
