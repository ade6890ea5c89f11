// pkg/admin/registry.go
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

/*
Package admin exposes a small HTTP API to manage:
  - Tool consumers (key, secret, availability window, id scope)
  - Share keys for resource links
  - Shares of a resource link and their approval

Persistence goes through lti.Store.

Route prefix (suggested): /admin
*/

// Routes returns an http.Handler with the admin endpoints.
// Mount it under something like: r.Mount("/admin", admin.Routes(store, admin.Options{}))
func Routes(store lti.Store, opts Options) http.Handler {
	a := &api{store: store, opts: opts}
	r := chi.NewRouter()

	// Consumers
	r.Post("/consumers", a.createConsumer)
	r.Get("/consumers", a.listConsumers)
	r.Get("/consumers/{key}", a.getConsumer)
	r.Put("/consumers/{key}", a.updateConsumer)
	r.Delete("/consumers/{key}", a.deleteConsumer)

	// Sharing
	r.Post("/consumers/{key}/links/{linkID}/sharekeys", a.createShareKey)
	r.Get("/consumers/{key}/links/{linkID}/shares", a.listShares)
	r.Put("/consumers/{key}/links/{linkID}/share-approval", a.approveShare)

	return r
}

// Options carry the defaults applied to new consumers.
type Options struct {
	AutoEnable bool
	IDScope    lti.IDScope
	Now        func() time.Time
}

type api struct {
	store lti.Store
	opts  Options
}

func (a *api) now() time.Time {
	if a.opts.Now != nil {
		return a.opts.Now()
	}
	return time.Now()
}

/* ------------------------------ Consumers --------------------------------- */

func (a *api) createConsumer(w http.ResponseWriter, r *http.Request) {
	var req ConsumerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if msg := validateConsumerReq(req); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	key := strings.TrimSpace(req.Key)
	if _, err := a.store.LoadToolConsumer(r.Context(), key); err == nil {
		writeErr(w, http.StatusConflict, "consumer already exists")
		return
	} else if !errors.Is(err, lti.ErrNotFound) {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	c := lti.NewToolConsumer(key, a.opts.AutoEnable)
	c.IDScope = a.opts.IDScope
	applyConsumerReq(c, req)
	if err := a.store.SaveToolConsumer(r.Context(), c); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *api) listConsumers(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListToolConsumers(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []*lti.ToolConsumer{}
	}
	for _, c := range items {
		c.Secret = ""
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *api) getConsumer(w http.ResponseWriter, r *http.Request) {
	c, err := a.store.LoadToolConsumer(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		a.storeErr(w, err, "consumer not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *api) updateConsumer(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req ConsumerReq // full replacement; an empty secret keeps the current one
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Key != "" && strings.TrimSpace(req.Key) != key {
		writeErr(w, http.StatusBadRequest, "key in body must match path")
		return
	}
	req.Key = key
	if msg := validateConsumerReq(req); msg != "" {
		writeErr(w, http.StatusBadRequest, msg)
		return
	}
	c, err := a.store.LoadToolConsumer(r.Context(), key)
	if err != nil {
		a.storeErr(w, err, "consumer not found")
		return
	}
	c.Name, c.Protected, c.ConsumerGUID = "", false, ""
	c.EnableFrom, c.EnableUntil = nil, nil
	c.DefaultEmail, c.CSSPath = "", ""
	applyConsumerReq(c, req)
	if err := a.store.SaveToolConsumer(r.Context(), c); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *api) deleteConsumer(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteToolConsumer(r.Context(), chi.URLParam(r, "key")); err != nil {
		a.storeErr(w, err, "consumer not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

/* ------------------------------- Sharing ---------------------------------- */

func (a *api) createShareKey(w http.ResponseWriter, r *http.Request) {
	link, ok := a.link(w, r)
	if !ok {
		return
	}
	var req ShareKeyReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
	}
	sk, err := lti.IssueShareKey(r.Context(), a.store, link, req.AutoApprove, req.Life, req.Length, a.now())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sk)
}

func (a *api) listShares(w http.ResponseWriter, r *http.Request) {
	link, ok := a.link(w, r)
	if !ok {
		return
	}
	shares, err := a.store.ResourceLinkShares(r.Context(), link)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if shares == nil {
		shares = []lti.ResourceLinkShare{}
	}
	writeJSON(w, http.StatusOK, shares)
}

// approveShare sets the approval of a link that shares another link.
func (a *api) approveShare(w http.ResponseWriter, r *http.Request) {
	var req ShareApprovalReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	link, ok := a.link(w, r)
	if !ok {
		return
	}
	if !link.HasPrimary() {
		writeErr(w, http.StatusConflict, "resource link is not sharing another link")
		return
	}
	approved := req.Approved
	link.ShareApproved = &approved
	if err := a.store.SaveResourceLink(r.Context(), link); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (a *api) link(w http.ResponseWriter, r *http.Request) (*lti.ResourceLink, bool) {
	link, err := a.store.LoadResourceLink(r.Context(), chi.URLParam(r, "key"), chi.URLParam(r, "linkID"))
	if err != nil {
		a.storeErr(w, err, "resource link not found")
		return nil, false
	}
	return link, true
}

func (a *api) storeErr(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, lti.ErrNotFound) {
		writeErr(w, http.StatusNotFound, notFound)
		return
	}
	writeErr(w, http.StatusInternalServerError, err.Error())
}

/* ------------------------------ Validation -------------------------------- */

func validateConsumerReq(req ConsumerReq) string {
	if strings.TrimSpace(req.Key) == "" {
		return "key is required"
	}
	if strings.TrimSpace(req.Name) == "" {
		return "name is required"
	}
	if req.IDScope != "" {
		if _, ok := lti.ParseIDScope(req.IDScope); !ok {
			return "id_scope must be one of id_only, global, context, resource"
		}
	}
	if req.EnableFrom != nil && req.EnableUntil != nil && req.EnableUntil.Before(*req.EnableFrom) {
		return "enable_until must not be before enable_from"
	}
	return ""
}

func applyConsumerReq(c *lti.ToolConsumer, req ConsumerReq) {
	c.Name = strings.TrimSpace(req.Name)
	if s := strings.TrimSpace(req.Secret); s != "" {
		c.Secret = s
	}
	if req.Enabled != nil {
		c.Enabled = *req.Enabled
	}
	c.Protected = req.Protected
	c.ConsumerGUID = strings.TrimSpace(req.ConsumerGUID)
	c.EnableFrom = utcPtr(req.EnableFrom)
	c.EnableUntil = utcPtr(req.EnableUntil)
	if scope, ok := lti.ParseIDScope(req.IDScope); ok && req.IDScope != "" {
		c.IDScope = scope
	}
	c.DefaultEmail = strings.TrimSpace(req.DefaultEmail)
	c.CSSPath = strings.TrimSpace(req.CSSPath)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

/* ------------------------------ Utilities --------------------------------- */

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errResp struct {
	Error string `json:"error"`
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errResp{Error: msg})
}
