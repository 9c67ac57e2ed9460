package posts

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/secureblog/secureblog/internal/platform/httpx"
	"github.com/secureblog/secureblog/internal/shared"
	"github.com/secureblog/secureblog/internal/view"
)

// Handler wires HTTP endpoints for the post listing and creation flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	templates   *view.Engine
	csrfManager *shared.CSRFManager
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrfManager: csrf}
}

// MountRoutes registers post routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showHome)
	r.Get("/create", h.showCreate)
	r.Post("/create", h.handleCreate)
}

type createForm struct {
	Title   string
	Content string
}

type createPageData struct {
	Form   createForm
	Errors []shared.FieldError
}

type homePageData struct {
	Posts []Post
}

func (h *Handler) showHome(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListPosts(r.Context())
	if err != nil {
		h.logger.Error("list posts", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.render(w, r, http.StatusOK, "pages/home.html", "Secure Blog", homePageData{Posts: list})
}

func (h *Handler) showCreate(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if !sess.IsAuthenticated() {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	h.render(w, r, http.StatusOK, "pages/create.html", "New Post", createPageData{})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	sess := shared.SessionFromContext(r.Context())

	form := createForm{
		Title:   r.PostFormValue("title"),
		Content: r.PostFormValue("content"),
	}

	_, err := h.service.CreatePost(r.Context(), sess, form.Title, form.Content, httpx.ClientIP(r))
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if verrs, ok := shared.AsValidationErrors(err); ok {
			h.render(w, r, http.StatusBadRequest, "pages/create.html", "New Post", createPageData{Form: form, Errors: verrs})
			return
		}
		h.logger.Error("create post", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Post published"})
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
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
