// pkg/lti/httpchi/handler.go
package httpchi

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// Handler serves the launch endpoint.
type Handler struct {
	Store   lti.Store
	Options lti.Options

	// Sessions mints a token for accepted launches; nil disables it.
	Sessions *SessionIssuer
	// PublicURL is the externally visible base URL used to rebuild the
	// signed launch URL, e.g. https://tool.example.com.
	PublicURL string
	// SuccessRedirect receives the browser after an accepted launch. When
	// empty the launch context is returned as JSON.
	SuccessRedirect string

	Limiter *RateLimiter
	Logger  *slog.Logger
}

// Routes returns the launch endpoints. Mount it under /lti:
//
//	POST /launch
//	GET  /session
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(h.Limiter.Middleware).Post("/launch", h.launch)
	if h.Sessions != nil {
		r.With(h.Sessions.RequireSession).Get("/session", h.session)
	}
	return r
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) launch(w http.ResponseWriter, r *http.Request) {
	req, err := LaunchRequestFromHTTP(w, r, h.PublicURL)
	if err != nil {
		renderErrorPage(w, http.StatusBadRequest, lti.DefaultErrorMessage)
		return
	}
	opts := h.Options
	if opts.Logger == nil {
		opts.Logger = h.Logger
	}
	tp := lti.NewToolProvider(h.Store, opts)
	res := tp.Execute(r.Context(), req)

	switch res.Kind {
	case lti.Redirect:
		http.Redirect(w, r, res.URL, http.StatusFound)
	case lti.Error:
		renderErrorPage(w, http.StatusBadRequest, res.Message)
	default:
		h.proceed(w, r, res)
	}
}

type launchResponse struct {
	ConsumerKey    string   `json:"consumer_key"`
	ResourceLinkID string   `json:"resource_link_id"`
	Title          string   `json:"title,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	Fullname       string   `json:"fullname,omitempty"`
	Email          string   `json:"email,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	Token          string   `json:"token,omitempty"`
}

func (h *Handler) proceed(w http.ResponseWriter, r *http.Request, res lti.Result) {
	out := launchResponse{}
	scope := lti.IDScopeIDOnly
	if res.Consumer != nil {
		out.ConsumerKey = res.Consumer.Key
		scope = res.Consumer.IDScope
	}
	if res.ResourceLink != nil {
		out.ResourceLinkID = res.ResourceLink.ID
		out.Title = res.ResourceLink.Title
	}
	if res.User != nil {
		out.UserID = res.User.ScopedID(scope)
		out.Fullname = res.User.Fullname
		out.Email = res.User.Email
		out.Roles = res.User.Roles
	}

	if h.Sessions != nil {
		tok, err := h.Sessions.Issue(res.Consumer, res.ResourceLink, res.User)
		if err != nil {
			h.logger().Error("issue session", "err", err)
			renderErrorPage(w, http.StatusInternalServerError, lti.DefaultErrorMessage)
			return
		}
		out.Token = tok
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    tok,
			Path:     "/",
			HttpOnly: true,
			Secure:   schemeFromRequest(r) == "https",
			SameSite: http.SameSiteNoneMode,
			MaxAge:   int(h.Sessions.ttl.Seconds()),
		})
	}

	if h.SuccessRedirect != "" {
		target := h.SuccessRedirect
		if u, err := url.Parse(target); err == nil {
			q := u.Query()
			q.Set("consumer_key", out.ConsumerKey)
			q.Set("resource_link_id", out.ResourceLinkID)
			u.RawQuery = q.Encode()
			target = u.String()
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionFromContext(r.Context()))
}

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Launch error</title></head>
<body>
<p>{{.}}</p>
</body>
</html>
`))

func renderErrorPage(w http.ResponseWriter, status int, message string) {
	if message == "" {
		message = lti.DefaultErrorMessage
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = errorPage.Execute(w, message)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
