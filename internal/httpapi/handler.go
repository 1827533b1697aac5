package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/line"
	"github.com/remiriasukaretto/LINEBOT/internal/queue"
	"github.com/remiriasukaretto/LINEBOT/internal/store"

	"golang.org/x/crypto/bcrypt"
)

// StaffEngine is the staff-facing slice of the queue engine.
type StaffEngine interface {
	Call(ctx context.Context, ticketID int64) (queue.CallResult, error)
	CallNext(ctx context.Context) (queue.CallResult, error)
	Finish(ctx context.Context, ticketID int64) (queue.CallResult, error)
}

// CommandRouter handles one owner text command and renders the reply.
type CommandRouter interface {
	HandleText(ctx context.Context, ownerID, text string) string
}

// Transport is the LINE plumbing the webhook endpoint needs.
type Transport interface {
	ValidateSignature(body []byte, signature string) bool
	Reply(ctx context.Context, replyToken, text string) error
}

type Handler struct {
	engine       StaffEngine
	router       CommandRouter
	transport    Transport
	tickets      store.TicketStore
	types        store.TypeRegistry
	settings     store.SettingsStore
	sessions     store.SessionStore
	limiter      *RateLimiter
	passwordHash string
	sessionTTL   time.Duration
}

type Options struct {
	Engine       StaffEngine
	Router       CommandRouter
	Transport    Transport
	Tickets      store.TicketStore
	Types        store.TypeRegistry
	Settings     store.SettingsStore
	Sessions     store.SessionStore
	Limiter      *RateLimiter
	PasswordHash string
	SessionTTL   time.Duration
}

func NewHandler(options Options) *Handler {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Handler{
		engine:       options.Engine,
		router:       options.Router,
		transport:    options.Transport,
		tickets:      options.Tickets,
		types:        options.Types,
		settings:     options.Settings,
		sessions:     options.Sessions,
		limiter:      options.Limiter,
		passwordHash: options.PasswordHash,
		sessionTTL:   ttl,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/callback", h.handleWebhook)
	mux.HandleFunc("/admin/login", h.handleLogin)
	mux.HandleFunc("/admin/logout", h.requireSession(h.handleLogout))
	mux.HandleFunc("/admin/data", h.requireSession(h.handleActiveData))
	mux.HandleFunc("/admin/history", h.requireSession(h.handleHistory))
	mux.HandleFunc("/admin/type_counts", h.requireSession(h.handleTypeCounts))
	mux.HandleFunc("/admin/call-next", h.requireSession(h.handleCallNext))
	mux.HandleFunc("/admin/call/", h.requireSession(h.handleCall))
	mux.HandleFunc("/admin/finish/", h.requireSession(h.handleFinish))
	mux.HandleFunc("/admin/types", h.requireSession(h.handleTypes))
	mux.HandleFunc("/admin/types/", h.requireSession(h.handleTypeActions))
	mux.HandleFunc("/admin/settings", h.requireSession(h.handleSettings))
	mux.HandleFunc("/admin/settings/toggle", h.requireSession(h.handleToggleSettings))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !h.transport.ValidateSignature(body, r.Header.Get("X-Line-Signature")) {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	events, err := line.ParseWebhook(body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	for _, event := range events {
		if event.Type != "message" || event.MessageType != "text" || event.UserID == "" {
			continue
		}
		if h.limiter != nil && !h.limiter.AllowOwner(event.UserID) {
			log.Printf("webhook throttled owner=%s", event.UserID)
			continue
		}
		reply := h.router.HandleText(r.Context(), event.UserID, event.Text)
		if reply == "" || event.ReplyToken == "" {
			continue
		}
		if err := h.transport.Reply(r.Context(), event.ReplyToken, reply); err != nil {
			log.Printf("webhook reply failed owner=%s: %v", event.UserID, err)
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if h.passwordHash == "" || bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), h.sessionTTL)
	if err != nil {
		writeMappedError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.SessionID,
		Path:     "/admin",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.SessionID,
		"expires_at": session.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sessionID := sessionIDFromRequest(r); sessionID != "" {
		if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
			writeMappedError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleActiveData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter, ok := listFilterFromQuery(w, r)
	if !ok {
		return
	}

	tickets, err := h.tickets.ListActive(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": tickets})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	filter, ok := listFilterFromQuery(w, r)
	if !ok {
		return
	}
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		limit, err := strconv.Atoi(limitRaw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	tickets, err := h.tickets.ListHistory(r.Context(), filter)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rows": tickets})
}

func (h *Handler) handleTypeCounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	counts, err := h.tickets.CountWaitingByType(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"counts": counts})
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := h.engine.CallNext(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNoTicketWaiting) {
			writeError(w, http.StatusConflict, "queue_empty", "no tickets waiting")
			return
		}
		writeMappedError(w, err)
		return
	}
	writeCallResult(w, result)
}

func (h *Handler) handleCall(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := ticketIDFromPath(w, r, "/admin/call/")
	if !ok {
		return
	}

	result, err := h.engine.Call(r.Context(), ticketID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeCallResult(w, result)
}

func (h *Handler) handleFinish(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := ticketIDFromPath(w, r, "/admin/finish/")
	if !ok {
		return
	}

	result, err := h.engine.Finish(r.Context(), ticketID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeCallResult(w, result)
}

func (h *Handler) handleTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := h.types.ListTypes(r.Context())
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"types": types})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
		ticketType, err := h.types.CreateType(r.Context(), strings.TrimSpace(req.Name))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ticketType)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleTypeActions(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/admin/types/"), "/")
	parts := strings.Split(path, "/")

	typeID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "type id must be an integer")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := h.types.DeleteType(r.Context(), typeID); err != nil {
			writeMappedError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[1] == "toggle" && r.Method == http.MethodPost:
		ticketType, err := h.types.ToggleTypeAccepting(r.Context(), typeID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ticketType)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) handleToggleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	settings, err := h.settings.ToggleAcceptingNew(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func ticketIDFromPath(w http.ResponseWriter, r *http.Request, prefix string) (int64, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return 0, false
	}

	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	ticketID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return 0, false
	}
	return ticketID, true
}

func listFilterFromQuery(w http.ResponseWriter, r *http.Request) (store.ListFilter, bool) {
	var filter store.ListFilter

	if typeRaw := strings.TrimSpace(r.URL.Query().Get("type_id")); typeRaw != "" {
		typeID, err := strconv.ParseInt(typeRaw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "type_id must be an integer")
			return store.ListFilter{}, false
		}
		filter.TypeID = &typeID
	}

	sortBy := strings.TrimSpace(r.URL.Query().Get("sort_by"))
	switch sortBy {
	case "", "id", "status", "type", "note":
		filter.SortBy = sortBy
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "sort_by must be one of id, status, type, note")
		return store.ListFilter{}, false
	}

	sortOrder := strings.TrimSpace(r.URL.Query().Get("sort_order"))
	switch sortOrder {
	case "", "asc", "desc":
		filter.SortOrder = sortOrder
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "sort_order must be asc or desc")
		return store.ListFilter{}, false
	}

	return filter, true
}

func writeCallResult(w http.ResponseWriter, result queue.CallResult) {
	payload := map[string]interface{}{
		"ticket":   result.Ticket,
		"notified": result.NotifyErr == nil,
	}
	if result.NotifyErr != nil {
		payload["notify_error"] = result.NotifyErr.Error()
	}
	writeJSON(w, http.StatusOK, payload)
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeError(w, status, code, message)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrDuplicateActiveTicket):
		return http.StatusConflict, "duplicate_active_ticket", "owner already has an active ticket"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", "ticket state does not allow this action"
	case errors.Is(err, store.ErrNoTicketWaiting):
		return http.StatusConflict, "queue_empty", "no tickets waiting"
	case errors.Is(err, store.ErrTypeNotFound):
		return http.StatusNotFound, "type_not_found", "ticket type not found"
	case errors.Is(err, store.ErrDuplicateTypeName):
		return http.StatusConflict, "duplicate_type_name", "ticket type name already exists"
	case errors.Is(err, store.ErrInvalidTypeName):
		return http.StatusBadRequest, "invalid_type_name", "ticket type name is invalid"
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
