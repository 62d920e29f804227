package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/hnguyen/pitchside/internal/autoverify"
	"github.com/hnguyen/pitchside/internal/database"
	"github.com/hnguyen/pitchside/internal/gemini"
	"github.com/hnguyen/pitchside/internal/merge"
	"github.com/hnguyen/pitchside/internal/metrics"
	"github.com/hnguyen/pitchside/internal/models"
	"github.com/hnguyen/pitchside/internal/notifications"
	"github.com/hnguyen/pitchside/internal/picks"
	"github.com/hnguyen/pitchside/internal/service"
	"github.com/hnguyen/pitchside/internal/websocket"
)

// Handler holds HTTP handlers
type Handler struct {
	controller *service.Controller
	store      *picks.Store
	worker     *autoverify.Worker
	notifier   *notifications.Service
	db         *database.DB
	metrics    *metrics.Metrics
	hub        *websocket.Hub
}

// NewHandler creates a new handler. worker and notifier may be nil when those
// subsystems are disabled.
func NewHandler(controller *service.Controller, store *picks.Store, worker *autoverify.Worker, notifier *notifications.Service, db *database.DB, m *metrics.Metrics, hub *websocket.Hub) *Handler {
	return &Handler{
		controller: controller,
		store:      store,
		worker:     worker,
		notifier:   notifier,
		db:         db,
		metrics:    m,
		hub:        hub,
	}
}

// RegisterRoutes sets up the HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", h.handleHealth)
	mux.HandleFunc("/api/matches", h.handleMatches)
	mux.HandleFunc("/api/matches/refresh", h.handleRefresh)
	mux.HandleFunc("/api/selection", h.handleSelection)
	mux.HandleFunc("/api/images", h.handleImages)
	mux.HandleFunc("/api/images/", h.handleImageDelete)
	mux.HandleFunc("/api/scan", h.handleScan)
	mux.HandleFunc("/api/analyze", h.handleAnalyze)
	mux.HandleFunc("/api/results", h.handleResults)
	mux.HandleFunc("/api/picks", h.handlePicks)
	mux.HandleFunc("/api/picks/save-all", h.handleSaveAll)
	mux.HandleFunc("/api/picks/verify-all", h.handleVerifyAll)
	mux.HandleFunc("/api/picks/", h.handlePickAction)
	mux.HandleFunc("/api/stats", h.handleStats)
	mux.HandleFunc("/api/autoverify", h.handleAutoVerify)
	mux.HandleFunc("/api/autoverify/toggle", h.handleAutoVerifyToggle)
	mux.HandleFunc("/api/notifications/vapid-key", h.handleVAPIDKey)
	mux.HandleFunc("/api/notifications/subscribe", h.handleSubscribe)
	mux.HandleFunc("/api/notifications/unsubscribe", h.handleUnsubscribe)
	mux.HandleFunc("/ws", h.handleWebSocket)
}

// handleHealth returns service health status
// GET /api/health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	autoVerify := h.worker != nil && h.worker.Enabled()
	health := h.metrics.GetHealth(autoVerify)

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	h.jsonResponse(w, status, health)
}

// handleMatches returns the current match list with any merge warnings
// GET /api/matches
func (h *Handler) handleMatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	matches, warnings := h.controller.Matches()
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":     len(matches),
		"matches":   matches,
		"warnings":  warnings,
		"selection": h.controller.Selection(),
	})
}

// handleRefresh fetches fresh upcoming fixtures from the oracle
// POST /api/matches/refresh
func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	matches, err := h.controller.RefreshMatches()
	if err != nil {
		h.oracleError(w, err)
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"message": "matches refreshed",
		"count":   len(matches),
		"matches": matches,
	})
}

// handleSelection replaces the selected match ids
// POST /api/selection
func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		IDs []string `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	applied := h.controller.SetSelection(body.IDs)
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"selection": applied,
		"count":     len(applied),
	})
}

// handleImages queues a base64 image for the next scan
// POST /api/images
func (h *Handler) handleImages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	count, err := h.controller.QueueImage(body.Image)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"queued": count})
}

// handleImageDelete removes one queued image by index
// DELETE /api/images/{index}
func (h *Handler) handleImageDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idxStr := strings.TrimPrefix(r.URL.Path, "/api/images/")
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, "image index must be a number")
		return
	}

	count, err := h.controller.RemoveImage(idx)
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"queued": count})
}

// handleScan extracts matches from the queued images or from pasted text
// POST /api/scan
func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Text string `json:"text"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	outcome, err := h.controller.Scan(body.Text)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoInput):
			h.errorResponse(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, merge.ErrNoMatches):
			h.errorResponse(w, http.StatusNotFound, "no matches found in the input")
		default:
			h.oracleError(w, err)
		}
		return
	}
	h.jsonResponse(w, http.StatusOK, outcome)
}

// handleAnalyze runs the oracle over the selected matches
// POST /api/analyze
func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Instruction string `json:"instruction"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	results, err := h.controller.Analyze(body.Instruction)
	if err != nil {
		if errors.Is(err, service.ErrNoSelection) {
			h.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, service.ErrBusy) {
			h.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		// Keep completed results visible even when the batch aborted.
		h.jsonResponse(w, http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"results": results,
			"count":   len(results),
		})
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

// handleResults returns the results of the last completed analysis
// GET /api/results
func (h *Handler) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	results := h.controller.Results()
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}

// handlePicks returns the pick history or saves one analysis result
// GET /api/picks
// POST /api/picks
func (h *Handler) handlePicks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		all := h.store.All()
		h.jsonResponse(w, http.StatusOK, map[string]interface{}{
			"count": len(all),
			"picks": all,
		})
	case http.MethodPost:
		var body struct {
			MatchID string `json:"match_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.MatchID == "" {
			h.errorResponse(w, http.StatusBadRequest, "match_id required")
			return
		}

		saved, err := h.controller.SavePick(body.MatchID)
		if err != nil {
			h.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		h.jsonResponse(w, http.StatusOK, map[string]interface{}{
			"saved":   saved,
			"message": saveMessage(saved),
		})
	default:
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleSaveAll saves every current analysis result
// POST /api/picks/save-all
func (h *Handler) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, err := h.controller.SaveAll()
	if err != nil {
		h.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"saved": count,
	})
}

// handleVerifyAll reconciles every pending pick against real results
// POST /api/picks/verify-all
func (h *Handler) handleVerifyAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	checked, resolved, err := h.controller.VerifyAll()
	if err != nil {
		if errors.Is(err, service.ErrBusy) {
			h.errorResponse(w, http.StatusConflict, err.Error())
			return
		}
		h.oracleError(w, err)
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"checked":  checked,
		"resolved": resolved,
	})
}

// handlePickAction dispatches per-pick operations
// POST /api/picks/{id}/cycle
// POST /api/picks/{id}/status
// POST /api/picks/{id}/verify
// DELETE /api/picks/{id}?confirm=true
func (h *Handler) handlePickAction(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/picks/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		h.errorResponse(w, http.StatusBadRequest, "pick ID required")
		return
	}
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.deletePick(w, r, id)
		return
	}

	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch parts[1] {
	case "cycle":
		h.cyclePick(w, r, id)
	case "status":
		h.setPickStatus(w, r, id)
	case "verify":
		h.verifyPick(w, id)
	default:
		h.errorResponse(w, http.StatusNotFound, "unknown pick action")
	}
}

// deletePick removes a pick. The confirm query parameter is required so a
// stray click cannot drop history.
func (h *Handler) deletePick(w http.ResponseWriter, r *http.Request, id string) {
	if r.URL.Query().Get("confirm") != "true" {
		h.errorResponse(w, http.StatusConflict, "deletion requires confirm=true")
		return
	}

	removed, err := h.store.Remove(id)
	if err != nil {
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		h.errorResponse(w, http.StatusNotFound, "pick not found")
		return
	}

	h.hub.PicksUpdated(h.store.All())
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"removed": true})
}

func (h *Handler) cyclePick(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Market string `json:"market"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	market, ok := parseMarket(body.Market)
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid market: use 'main', 'score', 'corner' or 'card'")
		return
	}

	pick, err := h.store.CycleOutcome(id, market)
	if err != nil {
		h.pickError(w, err)
		return
	}

	h.hub.PicksUpdated(h.store.All())
	h.jsonResponse(w, http.StatusOK, pick)
}

func (h *Handler) setPickStatus(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.errorResponse(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	status, ok := parseStatus(body.Status)
	if !ok {
		h.errorResponse(w, http.StatusBadRequest, "invalid status: use 'pending', 'won' or 'lost'")
		return
	}

	pick, err := h.store.SetOverallStatus(id, status)
	if err != nil {
		h.pickError(w, err)
		return
	}

	h.hub.PicksUpdated(h.store.All())
	h.jsonResponse(w, http.StatusOK, pick)
}

func (h *Handler) verifyPick(w http.ResponseWriter, id string) {
	pick, err := h.controller.VerifyPick(id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBusy):
			h.errorResponse(w, http.StatusConflict, err.Error())
		case errors.Is(err, picks.ErrNotFound):
			h.errorResponse(w, http.StatusNotFound, "pick not found")
		default:
			h.oracleError(w, err)
		}
		return
	}
	h.jsonResponse(w, http.StatusOK, pick)
}

// handleStats returns per-market win rates over the pick history
// GET /api/stats
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	h.jsonResponse(w, http.StatusOK, h.store.Stats())
}

// handleAutoVerify returns the auto-verify scheduler state
// GET /api/autoverify
func (h *Handler) handleAutoVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.worker == nil {
		h.errorResponse(w, http.StatusNotFound, "auto-verify not configured")
		return
	}
	h.jsonResponse(w, http.StatusOK, h.worker.Status())
}

// handleAutoVerifyToggle flips the auto-verify scheduler on or off
// POST /api/autoverify/toggle
func (h *Handler) handleAutoVerifyToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.worker == nil {
		h.errorResponse(w, http.StatusNotFound, "auto-verify not configured")
		return
	}

	enabled := h.worker.Toggle()
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"enabled": enabled})
}

// handleVAPIDKey returns the public key clients subscribe with
// GET /api/notifications/vapid-key
func (h *Handler) handleVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.notifier == nil || h.notifier.GetVAPIDPublicKey() == "" {
		h.errorResponse(w, http.StatusNotFound, "push notifications not configured")
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]string{"key": h.notifier.GetVAPIDPublicKey()})
}

// handleSubscribe stores a browser push subscription
// POST /api/notifications/subscribe
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var sub json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || len(sub) == 0 {
		h.errorResponse(w, http.StatusBadRequest, "subscription JSON required")
		return
	}

	if err := h.db.SetPushSubscription(string(sub)); err != nil {
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"subscribed": true})
}

// handleUnsubscribe disables push and clears the stored subscription
// POST /api/notifications/unsubscribe
func (h *Handler) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := h.db.Unsubscribe(); err != nil {
		h.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.jsonResponse(w, http.StatusOK, map[string]interface{}{"subscribed": false})
}

// handleWebSocket upgrades the connection and hands it to the hub
// GET /ws
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, w, r)
}

// oracleError maps an upstream failure to a response code. Busy flags come
// back as 409, a missing credential as 503, anything else as 502.
func (h *Handler) oracleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrBusy):
		h.errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, gemini.ErrNoCredential):
		h.errorResponse(w, http.StatusServiceUnavailable, "AI service not configured: missing API key")
	default:
		h.errorResponse(w, http.StatusBadGateway, "AI service error: "+err.Error())
	}
}

func (h *Handler) pickError(w http.ResponseWriter, err error) {
	if errors.Is(err, picks.ErrNotFound) {
		h.errorResponse(w, http.StatusNotFound, "pick not found")
		return
	}
	h.errorResponse(w, http.StatusInternalServerError, err.Error())
}

func parseMarket(s string) (models.Market, bool) {
	switch strings.ToLower(s) {
	case "main", "":
		return models.MarketMain, true
	case "score":
		return models.MarketScore, true
	case "corner":
		return models.MarketCorner, true
	case "card":
		return models.MarketCard, true
	default:
		return "", false
	}
}

func parseStatus(s string) (models.PickStatus, bool) {
	switch strings.ToLower(s) {
	case "pending":
		return models.StatusPending, true
	case "won":
		return models.StatusWon, true
	case "lost":
		return models.StatusLost, true
	default:
		return "", false
	}
}

func saveMessage(saved bool) string {
	if saved {
		return "pick saved"
	}
	return "pick already saved for this match"
}

func (h *Handler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// CORSMiddleware wraps a handler to add CORS headers
func CORSMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{"error": message})
}
