package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"talkcart-calls/internal/admission"
	"talkcart-calls/internal/auth"
	"talkcart-calls/internal/call"
	"talkcart-calls/internal/history"
	"talkcart-calls/internal/registry"
	"talkcart-calls/internal/relay"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth    *auth.Manager
	Coord   *admission.Coordinator
	Calls   *registry.Registry
	Relay   *relay.Relay
	History *history.Service
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateRequest struct {
	ConversationID string   `json:"conversation_id"`
	Kind           string   `json:"kind"`
	InviteeIDs     []string `json:"invitee_ids"`
	Priority       int      `json:"priority"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	kind := call.Kind(req.Kind)
	if kind != call.KindAudio && kind != call.KindVideo {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "kind must be audio or video"})
		return
	}
	if len(req.InviteeIDs) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invitee_ids required"})
		return
	}
	for _, id := range req.InviteeIDs {
		if id == "" || id == userID {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invitee_ids must be non-empty and exclude the caller"})
			return
		}
	}

	snapshot, err := h.Coord.Initiate(c.Request.Context(), admission.InitiateRequest{
		ConversationID: req.ConversationID,
		InitiatorID:    userID,
		Kind:           kind,
		InviteeIDs:     req.InviteeIDs,
		Priority:       req.Priority,
	})
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snapshot)
}

func (h Handlers) GetCall(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	snapshot, err := h.Calls.Get(c.Param("call_id"))
	if err != nil {
		abortDomainError(c, err)
		return
	}
	if snapshot.Participant(userID) == nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h Handlers) JoinCall(c *gin.Context) {
	h.admissionEvent(c, h.Coord.Join)
}

func (h Handlers) DeclineCall(c *gin.Context) {
	h.admissionEvent(c, h.Coord.Decline)
}

func (h Handlers) LeaveCall(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.Leave{UserID: userID} })
}

func (h Handlers) EndCall(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.End{UserID: userID} })
}

type holdRequest struct {
	On bool `json:"on"`
}

func (h Handlers) SetHold(c *gin.Context) {
	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.applyEvent(c, func(userID string) call.Event { return call.SetHold{UserID: userID, On: req.On} })
}

type muteRequest struct {
	TargetUserID string `json:"target_user_id"`
	On           bool   `json:"on"`
}

func (h Handlers) SetMute(c *gin.Context) {
	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	h.applyEvent(c, func(userID string) call.Event {
		target := req.TargetUserID
		if target == "" {
			target = userID
		}
		return call.SetMute{RequesterID: userID, TargetID: target, On: req.On}
	})
}

type transferRequest struct {
	ToUserID string `json:"to_user_id"`
}

func (h Handlers) RequestTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ToUserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to_user_id required"})
		return
	}
	h.applyEvent(c, func(userID string) call.Event {
		return call.RequestTransfer{FromUserID: userID, ToUserID: req.ToUserID}
	})
}

func (h Handlers) AcceptTransfer(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.AcceptTransfer{UserID: userID} })
}

func (h Handlers) DeclineTransfer(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.DeclineTransfer{UserID: userID} })
}

func (h Handlers) StartRecording(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.RecordingStart{UserID: userID} })
}

func (h Handlers) StopRecording(c *gin.Context) {
	h.applyEvent(c, func(userID string) call.Event { return call.RecordingStop{UserID: userID} })
}

// --- Signaling ---

type signalRequest struct {
	ToUserID string          `json:"to_user_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

func (h Handlers) RelaySignal(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ToUserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to_user_id required"})
		return
	}

	err = h.Relay.Relay(c.Request.Context(), c.Param("call_id"), userID, req.ToUserID, relay.SignalKind(req.Kind), req.Payload)
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// --- Waiting ---

func (h Handlers) ListWaiting(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	entries, err := h.Coord.Waiting(c.Request.Context(), userID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "waiting lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"waiting": entries})
}

// --- History ---

type qualityRequest struct {
	Metrics map[string]float64 `json:"metrics"`
}

func (h Handlers) ReportQuality(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req qualityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.History.ReportQuality(c.Request.Context(), c.Param("call_id"), userID, req.Metrics); err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

type missedSeenRequest struct {
	CallIDs []string `json:"call_ids"`
}

func (h Handlers) MarkMissedSeen(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	var req missedSeenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.History.MarkMissedSeen(c.Request.Context(), userID, req.CallIDs); err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "seen"})
}

func (h Handlers) CallHistory(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	rng, ok := parseTimeRange(c)
	if !ok {
		return
	}
	records, err := h.History.UserHistory(c.Request.Context(), userID, rng)
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h Handlers) CallSummary(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	rng, ok := parseTimeRange(c)
	if !ok {
		return
	}
	sum, err := h.History.UserSummary(c.Request.Context(), userID, rng)
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Helpers ---

// applyEvent submits one identity-bound event to the call named in the path.
func (h Handlers) applyEvent(c *gin.Context, build func(userID string) call.Event) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	snapshot, err := h.Calls.Apply(c.Request.Context(), c.Param("call_id"), build(userID))
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// admissionEvent routes join/decline through the coordinator so waiting
// entries get consumed alongside the state change.
func (h Handlers) admissionEvent(c *gin.Context, apply func(ctx context.Context, callID, userID string) (*call.Call, error)) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return
	}
	snapshot, err := apply(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		abortDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func abortDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrNotFound), errors.Is(err, history.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrNotParticipant), errors.Is(err, call.ErrPermissionDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrInvalidCallState),
		errors.Is(err, call.ErrAlreadyHandled),
		errors.Is(err, call.ErrTransferInProgress),
		errors.Is(err, call.ErrExpired),
		errors.Is(err, history.ErrAlreadyReported):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, relay.ErrUnknownKind), errors.Is(err, history.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseTimeRange(c *gin.Context) (history.TimeRange, bool) {
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
		return history.TimeRange{}, false
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
		return history.TimeRange{}, false
	}
	return history.TimeRange{From: from, To: to}, true
}
