// Package httpapi provides the HTTP administrative API for BotForge.
// It delegates all business logic to the store and the session registry.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/botforgehq/botforge/model"
	"github.com/botforgehq/botforge/registry"
	"github.com/botforgehq/botforge/store"
	"github.com/botforgehq/botforge/store/sqlite"
)

// BotRunner is the registry surface the API needs.
type BotRunner interface {
	Start(ctx context.Context, token, name string) (*registry.Session, error)
	Stop(token string)
	List() []registry.Info
}

// Mailer delivers verification codes. The default implementation logs
// them; SMTP delivery is an external collaborator.
type Mailer interface {
	SendVerificationCode(email, code string) error
}

// LogMailer writes verification codes to the process log.
type LogMailer struct{}

func (LogMailer) SendVerificationCode(email, code string) error {
	log.Printf("httpapi: verification code for %s: %s", email, code)
	return nil
}

// Handler provides the BotForge admin API.
type Handler struct {
	store  store.Store
	bots   BotRunner
	mailer Mailer
	router chi.Router
}

// New creates a new HTTP API handler. A nil mailer falls back to
// LogMailer.
func New(st store.Store, bots BotRunner, mailer Mailer) *Handler {
	if mailer == nil {
		mailer = LogMailer{}
	}
	h := &Handler{store: st, bots: bots, mailer: mailer}
	h.router = h.buildRouter()
	return h
}

// Router returns the HTTP router.
func (h *Handler) Router() chi.Router {
	return h.router
}

func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/csrf-token", h.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(requireCSRF)
			r.Post("/register", h.handleRegister)
			r.Post("/verify-email", h.handleVerifyEmail)
			r.Post("/login", h.handleLogin)
			r.Post("/bots", h.handleCreateBot)
			r.Post("/bots/{token}/nodes", h.handleSaveNodes)
			r.Post("/bots/{token}/ai", h.handleConfigureAI)
			r.Post("/bots/{token}/start", h.handleStartBot)
			r.Post("/bots/{token}/stop", h.handleStopBot)
		})

		r.Get("/bots", h.handleListBots)
		r.Get("/sessions", h.handleListSessions)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// --- CSRF (double-submit cookie) ---

const csrfCookie = "csrftoken"

func (h *Handler) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   3600,
	})
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

// requireCSRF enforces the double-submit check: the X-CSRF-Token header
// must match the csrftoken cookie issued by /api/csrf-token.
func requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("X-CSRF-Token")
		if header == "" {
			writeError(w, http.StatusForbidden, "CSRF token missing in header")
			return
		}
		cookie, err := r.Cookie(csrfCookie)
		if err != nil || cookie.Value == "" || cookie.Value != header {
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Request/response types ---

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type verifyRequest struct {
	Username string `json:"username"`
	Code     string `json:"code"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type createBotRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

type saveNodesRequest struct {
	Nodes []model.Node `json:"nodes"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Account handlers ---

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Password == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username, password and email are required")
		return
	}

	code := verificationCode()
	u := &model.User{
		Username:         req.Username,
		Password:         req.Password,
		Email:            req.Email,
		VerificationCode: code,
		CreatedAt:        time.Now().UTC(),
	}
	if err := h.store.CreateUser(u); err != nil {
		writeError(w, http.StatusBadRequest, "username or email already taken")
		return
	}

	if err := h.mailer.SendVerificationCode(req.Email, code); err != nil {
		log.Printf("httpapi: sending verification code: %v", err)
	}
	writeJSON(w, http.StatusCreated, messageResponse{Message: "Registration successful, check your email"})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.store.VerifyUser(req.Username, req.Code); err != nil {
		writeError(w, http.StatusBadRequest, "invalid verification code")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email verified"})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	u, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful", "role": u.Role})
}

// --- Bot handlers ---

func (h *Handler) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	var req createBotRequest
	if !decode(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Token = strings.TrimSpace(req.Token)
	if req.Name == "" || req.Token == "" {
		writeError(w, http.StatusBadRequest, "bot name and token are required")
		return
	}

	b := &model.Bot{Token: req.Token, Name: req.Name, CreatedAt: time.Now().UTC()}
	if err := h.store.CreateBot(b); err != nil {
		writeError(w, http.StatusBadRequest, "bot with this token already exists")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) handleListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.store.ListBots()
	if err != nil {
		log.Printf("httpapi: listing bots: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list bots")
		return
	}
	if bots == nil {
		bots = []*model.Bot{}
	}
	writeJSON(w, http.StatusOK, bots)
}

func (h *Handler) handleSaveNodes(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !h.botExists(w, token) {
		return
	}

	var req saveNodesRequest
	if !decode(w, r, &req) {
		return
	}
	for _, n := range req.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			writeError(w, http.StatusBadRequest, "every node needs an id")
			return
		}
	}

	if err := h.store.SaveGraph(token, model.Graph(req.Nodes)); err != nil {
		log.Printf("httpapi: saving nodes: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to save nodes")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Nodes saved"})
}

func (h *Handler) handleConfigureAI(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !h.botExists(w, token) {
		return
	}

	var cfg model.AIConfig
	if !decode(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.SaveAIConfig(token, &cfg); err != nil {
		log.Printf("httpapi: saving AI config: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to configure AI")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "AI configured"})
}

func (h *Handler) handleStartBot(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	b, err := h.store.GetBot(token)
	if err != nil {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}

	if _, err := h.bots.Start(r.Context(), b.Token, b.Name); err != nil {
		log.Printf("httpapi: starting bot %q: %v", b.Name, err)
		writeError(w, http.StatusInternalServerError, "failed to start bot")
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Bot started"})
}

func (h *Handler) handleStopBot(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if !h.botExists(w, token) {
		return
	}
	h.bots.Stop(token)
	writeJSON(w, http.StatusOK, messageResponse{Message: "Bot stopped"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bots.List())
}

// --- Helpers ---

func (h *Handler) botExists(w http.ResponseWriter, token string) bool {
	if _, err := h.store.GetBot(token); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, "bot not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to look up bot")
		}
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// verificationCode returns a six-digit code, matching what the builder
// UI expects.
func verificationCode() string {
	const digits = "0123456789"
	b := make([]byte, 6)
	for i := range b {
		b[i] = digits[rand.IntN(len(digits))]
	}
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("writeJSON encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
