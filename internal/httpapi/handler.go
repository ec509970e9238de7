package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/queue-service/internal/intake"
	"clinicq/queue-service/internal/models"
	"clinicq/queue-service/internal/schedule"
	"clinicq/queue-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store      store.QueueStore
	classifier intake.Classifier
	defaults   store.SessionDefaults
	upcoming   int
	now        func() time.Time
}

type Options struct {
	SessionDefaults store.SessionDefaults
	UpcomingLimit   int
}

func NewHandler(st store.QueueStore, classifier intake.Classifier, options Options) *Handler {
	return &Handler{
		store:      st,
		classifier: classifier,
		defaults:   options.SessionDefaults,
		upcoming:   options.UpcomingLimit,
		now:        time.Now,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/sessions", h.handleCreateSession)
	mux.HandleFunc("/api/sessions/current", h.handleCurrentSession)
	mux.HandleFunc("/api/sessions/", h.handleSessionActions)
	mux.HandleFunc("/api/slots", h.handleSlots)
	mux.HandleFunc("/api/intake", h.handleIntake)
	mux.HandleFunc("/api/tokens/book", h.handleBookToken)
	mux.HandleFunc("/api/tokens/", h.handleTokenActions)
	mux.HandleFunc("/api/queue/state", h.handleQueueState)
	mux.HandleFunc("/api/queue/serve-next", h.handleServeNext)
	mux.HandleFunc("/api/queue/skip", h.handleSkip)
	mux.HandleFunc("/api/queue/cancel", h.handleCancel)
	mux.HandleFunc("/api/queue/walkin", h.handleWalkIn)
	mux.HandleFunc("/api/queue/emergency", h.handleEmergency)
	mux.HandleFunc("/api/events/bulk", h.handleBulkEvents)
	mux.HandleFunc("/api/messages", h.handleMessages)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createSessionRequest struct {
	ClinicID string `json:"clinic_id"`
	DoctorID string `json:"doctor_id"`
	DateKey  string `json:"date_key"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ClinicID = defaultIfEmpty(strings.TrimSpace(req.ClinicID), "default")
	req.DoctorID = defaultIfEmpty(strings.TrimSpace(req.DoctorID), "default")
	req.DateKey = strings.TrimSpace(req.DateKey)
	if req.DateKey == "" {
		req.DateKey = h.now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", req.DateKey); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "date_key must be YYYY-MM-DD")
		return
	}

	sess, _, err := h.store.GetOrCreateSession(r.Context(), store.GetOrCreateSessionInput{
		ClinicID: req.ClinicID,
		DoctorID: req.DoctorID,
		DateKey:  req.DateKey,
		Defaults: h.defaults,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	clinicID := defaultIfEmpty(strings.TrimSpace(r.URL.Query().Get("clinic_id")), "default")
	doctorID := defaultIfEmpty(strings.TrimSpace(r.URL.Query().Get("doctor_id")), "default")

	sess, _, err := h.store.GetOrCreateSession(r.Context(), store.GetOrCreateSessionInput{
		ClinicID: clinicID,
		DoctorID: doctorID,
		DateKey:  h.now().Format("2006-01-02"),
		Defaults: h.defaults,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) handleSessionActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "close" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	sessionID := parts[0]
	if !isValidUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	cancelled, err := h.store.CloseSession(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "cancelled": cancelled})
}

func (h *Handler) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if !isValidUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	slots, err := schedule.Generate(sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	bound, err := h.store.ActiveSlotBindings(r.Context(), sessionID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	schedule.MarkBooked(slots, bound)
	if slots == nil {
		slots = []schedule.Slot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

type intakeRequest struct {
	Phone         string `json:"phone"`
	Name          string `json:"name"`
	ComplaintText string `json:"complaint_text"`
}

func (h *Handler) handleIntake(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req intakeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.classifier.Classify(req.ComplaintText))
}

type bookTokenRequest struct {
	SessionID     string `json:"session_id"`
	Phone         string `json:"phone"`
	Name          string `json:"name"`
	ComplaintText string `json:"complaint_text"`
	SlotIndex     *int   `json:"slot_index"`
}

type tokenResponse struct {
	models.Token
	ArrivalWindowStart string `json:"arrival_window_start"`
	ArrivalWindowEnd   string `json:"arrival_window_end"`
}

func (h *Handler) handleBookToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req bookTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Name = strings.TrimSpace(req.Name)
	if !isValidUUID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}
	if !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 6-32 characters")
		return
	}
	if req.SlotIndex != nil && *req.SlotIndex < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "slot_index must not be negative")
		return
	}

	classified := h.classifier.Classify(req.ComplaintText)

	token, _, err := h.store.BookToken(r.Context(), store.BookTokenInput{
		SessionID:     req.SessionID,
		Phone:         req.Phone,
		Name:          req.Name,
		Urgency:       classified.Urgency,
		ComplaintText: strings.TrimSpace(req.ComplaintText),
		IntakeSummary: classified.Summary,
		SlotIndex:     req.SlotIndex,
		BookedAt:      h.now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, h.tokenWithWindow(r, token))
}

func (h *Handler) handleTokenActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 || parts[1] != "arrive" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tokenID := parts[0]
	if !isValidUUID(tokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	token, err := h.store.Arrive(r.Context(), tokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

type sessionTokenRequest struct {
	SessionID string `json:"session_id"`
	TokenID   string `json:"token_id"`
}

func (h *Handler) handleServeNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isValidUUID(strings.TrimSpace(req.SessionID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	token, ok, err := h.store.ServeNext(r.Context(), strings.TrimSpace(req.SessionID))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "served": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "served": token})
}

func (h *Handler) handleSkip(w http.ResponseWriter, r *http.Request) {
	h.handleSessionTokenAction(w, r, h.store.Skip)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleSessionTokenAction(w, r, h.store.Cancel)
}

func (h *Handler) handleSessionTokenAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, sessionID, tokenID string) (models.Token, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req sessionTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.TokenID = strings.TrimSpace(req.TokenID)
	if !isValidUUID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}
	if !isValidUUID(req.TokenID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	token, err := action(r.Context(), req.SessionID, req.TokenID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) handleWalkIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SessionID     string `json:"session_id"`
		Phone         string `json:"phone"`
		Name          string `json:"name"`
		ComplaintText string `json:"complaint_text"`
		Urgency       string `json:"urgency"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Phone = strings.TrimSpace(req.Phone)
	if !isValidUUID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}
	if !isValidPhone(req.Phone) {
		writeError(w, http.StatusBadRequest, "invalid_request", "phone must be 6-32 characters")
		return
	}
	urgency := req.Urgency
	switch urgency {
	case intake.UrgencyLow, intake.UrgencyMedium, intake.UrgencyHigh:
	case "":
		urgency = intake.UrgencyLow
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "urgency must be low, medium, or high")
		return
	}

	token, err := h.store.AddWalkIn(r.Context(), store.WalkInInput{
		SessionID:     req.SessionID,
		Phone:         req.Phone,
		Name:          strings.TrimSpace(req.Name),
		Urgency:       urgency,
		ComplaintText: strings.TrimSpace(req.ComplaintText),
		ArrivedAt:     h.now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

type emergencyRequest struct {
	SessionID string `json:"session_id"`
	Minutes   int    `json:"minutes"`
}

func (h *Handler) handleEmergency(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req emergencyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !isValidUUID(strings.TrimSpace(req.SessionID)) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	total, err := h.store.AddEmergencyDebt(r.Context(), strings.TrimSpace(req.SessionID), req.Minutes)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "emergency_debt_minutes": total})
}

type bulkEventsRequest struct {
	ClientID  string            `json:"client_id"`
	SessionID string            `json:"session_id"`
	Events    []store.BulkEvent `json:"events"`
}

func (h *Handler) handleBulkEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req bulkEventsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}
	if !isValidUUID(req.SessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}
	for _, event := range req.Events {
		if strings.TrimSpace(event.EventID) == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "every event needs an event_id")
			return
		}
	}

	result, err := h.store.ApplyBulkEvents(r.Context(), store.ApplyBulkInput{
		ClientID:  req.ClientID,
		SessionID: req.SessionID,
		Events:    req.Events,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleQueueState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if !isValidUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	limit := h.upcoming
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	snapshot, err := h.store.QueueSnapshot(r.Context(), sessionID, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if !isValidUUID(sessionID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "session_id must be a UUID")
		return
	}

	messages, err := h.store.ListOutboxMessages(r.Context(), sessionID, 0)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if messages == nil {
		messages = []models.OutboxMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) tokenWithWindow(r *http.Request, token models.Token) tokenResponse {
	resp := tokenResponse{Token: token}
	sess, err := h.store.GetSession(r.Context(), token.SessionID)
	if err != nil {
		return resp
	}

	now := h.now()
	var window schedule.Window
	if token.SlotIndex != nil {
		slots, gerr := schedule.Generate(sess)
		if gerr == nil {
			for _, slot := range slots {
				if slot.Type == schedule.SlotTypeSlot && slot.Index == *token.SlotIndex {
					window = schedule.WindowForSlot(sess, slot)
					break
				}
			}
		}
	}
	if window.Start.IsZero() {
		window = schedule.EstimateWindow(sess, token.TokenNo-1, now)
	}
	resp.ArrivalWindowStart = schedule.FormatTime(window.Start)
	resp.ArrivalWindowEnd = schedule.FormatTime(window.End)
	return resp
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidPhone(value string) bool {
	return len(value) >= 6 && len(value) <= 32
}

func defaultIfEmpty(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found", "session not found"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "token state does not allow this action"
	case errors.Is(err, store.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable", "that slot was just taken"
	case errors.Is(err, store.ErrSessionClosed):
		return http.StatusConflict, "session_closed", "the clinic is closed for this day"
	case errors.Is(err, store.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_argument", "invalid argument"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: responseError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
