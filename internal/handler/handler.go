// Package handler exposes the attendance service over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"

	"github.com/interntrack/attendance/internal/attendance"
	"github.com/interntrack/attendance/internal/metrics"
	"github.com/interntrack/attendance/internal/qrtoken"
	"github.com/interntrack/attendance/internal/roster"
)

const (
	msgTokenGone     = "QR code not found or expired"
	msgAlreadyMarked = "attendance already marked with this code"
)

// RosterSyncer runs one roster reconciliation.
type RosterSyncer interface {
	RunOnce(ctx context.Context) (roster.Result, error)
}

// TeamSetter assigns the locally owned team of an intern.
type TeamSetter interface {
	SetTeam(ctx context.Context, id, team string) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler bundles the collaborators behind the HTTP routes.
type Handler struct {
	Service *attendance.Service
	Issuer  *qrtoken.Issuer
	Tokens  *qrtoken.Store
	Now     func() time.Time
	Roster  RosterSyncer // nil disables /v1/roster/sync
	Teams   TeamSetter   // nil disables PUT /v1/interns/:id/team
	Metrics metrics.Recorder
	QRSize  int
	Health  map[string]HealthCheck
	Log     *slog.Logger
}

// Register mounts the routes. admin guards administrative routes and scan
// guards the public scan endpoint; either may be nil.
func (h *Handler) Register(r gin.IRouter, admin, scan gin.HandlerFunc) {
	if h.Metrics == nil {
		h.Metrics = metrics.Nop{}
	}
	if h.Log == nil {
		h.Log = slog.Default()
	}
	if h.Now == nil {
		h.Now = func() time.Time { return time.Now().UTC() }
	}

	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	v1.POST("/scans", chain(scan, h.scan)...)

	adm := v1.Group("")
	if admin != nil {
		adm.Use(admin)
	}
	adm.POST("/tokens/daily", h.issueToken(qrtoken.DailyAttendance))
	adm.POST("/tokens/meeting", h.issueToken(qrtoken.MeetingAttendance))
	adm.GET("/tokens/latest", h.latestToken)
	adm.GET("/tokens/:id/qr.png", h.tokenPNG)
	adm.GET("/interns/:id/attendance", h.ledger)
	adm.POST("/interns/:id/attendance", h.markIntern)
	adm.PUT("/interns/:id/team", h.setTeam)
	adm.POST("/external/attendance", h.external)
	adm.POST("/roster/sync", h.rosterSync)
}

func chain(mw gin.HandlerFunc, final gin.HandlerFunc) []gin.HandlerFunc {
	if mw == nil {
		return []gin.HandlerFunc{final}
	}
	return []gin.HandlerFunc{mw, final}
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Health {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

type tokenResponse struct {
	SessionID string       `json:"session_id"`
	Kind      qrtoken.Kind `json:"kind"`
	Label     string       `json:"label,omitempty"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	Payload   string       `json:"payload"`
}

func toTokenResponse(t qrtoken.Token) tokenResponse {
	return tokenResponse{
		SessionID: t.ID,
		Kind:      t.Kind,
		Label:     t.Label,
		IssuedAt:  t.IssuedAt,
		ExpiresAt: t.ExpiresAt,
		Payload:   t.Payload(),
	}
}

func (h *Handler) issueToken(kind qrtoken.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Label string `json:"label"`
		}
		if kind == qrtoken.MeetingAttendance && c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		tok, err := h.Issuer.Issue(kind, req.Label)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.Metrics.TokenIssued(string(kind))
		h.Log.Info("token issued",
			slog.String("session_id", tok.ID),
			slog.String("kind", string(kind)),
			slog.Time("expires_at", tok.ExpiresAt),
		)
		c.JSON(http.StatusCreated, toTokenResponse(tok))
	}
}

func (h *Handler) latestToken(c *gin.Context) {
	kind, err := qrtoken.ParseKind(c.DefaultQuery("kind", string(qrtoken.DailyAttendance)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tok, ok := h.Tokens.Latest(kind, h.Now())
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active " + string(kind) + " token"})
		return
	}
	c.JSON(http.StatusOK, toTokenResponse(tok))
}

func (h *Handler) tokenPNG(c *gin.Context) {
	tok, ok := h.Tokens.Get(c.Param("id"))
	if !ok || tok.Expired(h.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"error": msgTokenGone})
		return
	}
	png, err := qrtoken.RenderPNG(tok, h.QRSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) scan(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		InternID  string `json:"intern_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Scanners may post the raw QR payload instead of the bare id.
	sessionID := qrtoken.SessionIDFromPayload(req.SessionID)

	mark, err := h.Service.Scan(c.Request.Context(), sessionID, strings.TrimSpace(req.InternID))
	if err != nil {
		var lwe *attendance.LedgerWriteError
		if errors.As(err, &lwe) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "attendance could not be saved; it will be retried",
				"mark":  lwe.Mark,
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"mark": mark})
}

func (h *Handler) ledger(c *gin.Context) {
	entries, err := h.Service.Ledger(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"intern_id": c.Param("id"), "attendance": entries})
}

func (h *Handler) markIntern(c *gin.Context) {
	var req struct {
		Date   string `json:"date" binding:"required"`
		Type   string `json:"type"`
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	date, err := civil.ParseDate(strings.TrimSpace(req.Date))
	if err != nil {
		writeError(c, attendance.ErrInvalidDate)
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	var entry attendance.Entry
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "":
		entry, err = h.Service.CorrectDate(ctx, c.Param("id"), date, status)
	case string(attendance.Manual):
		entry, err = h.Service.MarkManual(ctx, c.Param("id"), date, status)
	default:
		err = attendance.ErrInvalidType
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

func (h *Handler) setTeam(c *gin.Context) {
	if h.Teams == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "team assignment not available"})
		return
	}
	var req struct {
		Team string `json:"team"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	team := strings.TrimSpace(req.Team)
	if err := h.Teams.SetTeam(c.Request.Context(), c.Param("id"), team); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"intern_id": c.Param("id"), "team": team})
}

type externalMarkRequest struct {
	InternID   string    `json:"intern_id"`
	ExternalID string    `json:"external_id"`
	Date       string    `json:"date"`
	At         time.Time `json:"at"`
	Type       string    `json:"type"`
	Status     string    `json:"status"`
}

type externalMarkResult struct {
	Index int               `json:"index"`
	Entry *attendance.Entry `json:"entry,omitempty"`
	Error string            `json:"error,omitempty"`
}

func (r externalMarkRequest) toMark() (attendance.ExternalMark, error) {
	em := attendance.ExternalMark{
		InternID:   strings.TrimSpace(r.InternID),
		ExternalID: strings.TrimSpace(r.ExternalID),
		At:         r.At,
	}
	if r.Date != "" {
		d, err := civil.ParseDate(strings.TrimSpace(r.Date))
		if err != nil {
			return em, attendance.ErrInvalidDate
		}
		em.Date = d
	}
	typ, err := attendance.ParseType(r.Type)
	if err != nil {
		return em, err
	}
	status, err := attendance.ParseStatus(r.Status)
	if err != nil {
		return em, err
	}
	em.Type, em.Status = typ, status
	return em, nil
}

// external applies each mark independently and reports per-mark outcomes.
func (h *Handler) external(c *gin.Context) {
	var req struct {
		Marks []externalMarkRequest `json:"marks" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results := make([]externalMarkResult, len(req.Marks))
	failed := 0
	for i, m := range req.Marks {
		results[i].Index = i
		em, err := m.toMark()
		if err == nil {
			var entry attendance.Entry
			entry, err = h.Service.MarkExternal(c.Request.Context(), em)
			if err == nil {
				results[i].Entry = &entry
				continue
			}
		}
		failed++
		results[i].Error = err.Error()
	}

	status := http.StatusOK
	if failed > 0 && failed == len(req.Marks) {
		status = http.StatusUnprocessableEntity
	} else if failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"results": results, "failed": failed})
}

func (h *Handler) rosterSync(c *gin.Context) {
	if h.Roster == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "roster feed not configured"})
		return
	}
	res, err := h.Roster.RunOnce(c.Request.Context())
	if err != nil {
		h.Log.Error("manual roster sync failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "roster sync failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, qrtoken.ErrTokenNotFound), errors.Is(err, qrtoken.ErrTokenExpired):
		c.JSON(http.StatusGone, gin.H{"error": msgTokenGone})
	case errors.Is(err, qrtoken.ErrAlreadyConsumed):
		c.JSON(http.StatusConflict, gin.H{"error": msgAlreadyMarked})
	case errors.Is(err, attendance.ErrInternNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "intern not found"})
	case errors.Is(err, qrtoken.ErrInvalidRequest),
		errors.Is(err, attendance.ErrInvalidDate),
		errors.Is(err, attendance.ErrInvalidType),
		errors.Is(err, attendance.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
