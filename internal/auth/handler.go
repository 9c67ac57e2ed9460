package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/secureblog/secureblog/internal/observability"
	"github.com/secureblog/secureblog/internal/platform/httpx"
	"github.com/secureblog/secureblog/internal/shared"
	"github.com/secureblog/secureblog/internal/view"
)

// Handler wires HTTP endpoints for registration and session lifecycle.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	metrics        *observability.Metrics
}

// NewHandler constructs a Handler instance. Metrics may be nil.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, metrics *observability.Metrics) *Handler {
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		metrics:        metrics,
	}
}

// MountRoutes registers auth routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/logout", h.showLogout)
	r.Post("/logout", h.handleLogout)
}

type registerForm struct {
	Username string
	Email    string
}

type registerPageData struct {
	Form    registerForm
	Errors  []shared.FieldError
	General string
}

type loginPageData struct {
	Username string
	Error    string
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	h.renderRegister(w, r, http.StatusOK, registerPageData{})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	input := RegisterInput{
		Username: r.PostFormValue("username"),
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}
	echo := registerForm{Username: input.Username, Email: input.Email}

	_, err := h.service.Register(r.Context(), input, httpx.ClientIP(r))
	if err != nil {
		if verrs, ok := shared.AsValidationErrors(err); ok {
			h.renderRegister(w, r, http.StatusBadRequest, registerPageData{Form: echo, Errors: verrs})
			return
		}
		if errors.Is(err, shared.ErrConflict) {
			h.renderRegister(w, r, http.StatusConflict, registerPageData{Form: echo, General: shared.ErrConflict.Error()})
			return
		}
		h.logger.Error("register", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Account created, please log in"})
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	h.renderLogin(w, r, http.StatusOK, loginPageData{})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	user, err := h.service.Login(r.Context(), username, password, httpx.ClientIP(r))
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.metrics.CountLoginFailure()
			h.renderLogin(w, r, http.StatusUnauthorized, loginPageData{
				Username: username,
				Error:    shared.InvalidCredentialsMessage,
			})
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.service.EstablishSession(sess, user)
	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Welcome back, " + user.Username})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// showLogout performs no mutation. A plain navigation cannot carry proof of
// intent, so the GET variant only redirects to a page holding the POST form.
func (h *Handler) showLogout(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	h.service.Logout(r.Context(), sess, httpx.ClientIP(r))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) renderRegister(w http.ResponseWriter, r *http.Request, status int, data registerPageData) {
	h.render(w, r, status, "pages/register.html", "Register", data)
}

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data loginPageData) {
	h.render(w, r, status, "pages/login.html", "Login", data)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, page, title string, data any) {
	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrfManager.EnsureToken(r.Context(), sess)
	var flash *shared.FlashMessage
	if sess != nil {
		flash = sess.PopFlash()
	}
	viewData := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       flash,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if sess != nil && sess.IsAuthenticated() {
		viewData.LoggedIn = true
		viewData.Username = sess.Username()
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := h.templates.Render(w, page, viewData); err != nil {
		h.logger.Error("render "+page, slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
