package admin_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-lti-provider/pkg/admin"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func newAPI(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	st := memory.New()
	st.Now = clock
	return admin.Routes(st, admin.Options{AutoEnable: true, IDScope: lti.IDScopeGlobal, Now: clock}), st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestConsumers_CRUD(t *testing.T) {
	h, st := newAPI(t)

	rec := do(t, h, http.MethodPost, "/consumers", admin.ConsumerReq{Key: " ck1 ", Name: "Moodle"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[lti.ToolConsumer](t, rec)
	assert.Equal(t, "ck1", created.Key)
	assert.Len(t, created.Secret, 32)
	assert.True(t, created.Enabled)
	assert.Equal(t, lti.IDScopeGlobal, created.IDScope)

	rec = do(t, h, http.MethodPost, "/consumers", admin.ConsumerReq{Key: "ck1", Name: "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/consumers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]lti.ToolConsumer](t, rec)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Secret, "secrets are not listed")

	disabled := false
	rec = do(t, h, http.MethodPut, "/consumers/ck1", admin.ConsumerReq{Name: "Moodle 4", Enabled: &disabled, IDScope: "resource"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c, err := st.LoadToolConsumer(context.Background(), "ck1")
	require.NoError(t, err)
	assert.Equal(t, "Moodle 4", c.Name)
	assert.False(t, c.Enabled)
	assert.Equal(t, lti.IDScopeResource, c.IDScope)
	assert.Equal(t, created.Secret, c.Secret, "empty secret keeps the current one")

	rec = do(t, h, http.MethodPut, "/consumers/ck1", admin.ConsumerReq{Key: "other", Name: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/consumers/ck1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodDelete, "/consumers/ck1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, "/consumers/ck1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/consumers/ck1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConsumers_Validation(t *testing.T) {
	h, _ := newAPI(t)
	from := fixedNow
	until := fixedNow.Add(-time.Hour)
	tests := []struct {
		name string
		req  admin.ConsumerReq
		want string
	}{
		{"missing key", admin.ConsumerReq{Name: "x"}, "key is required"},
		{"missing name", admin.ConsumerReq{Key: "ck1"}, "name is required"},
		{"bad scope", admin.ConsumerReq{Key: "ck1", Name: "x", IDScope: "galaxy"}, "id_scope must be one of id_only, global, context, resource"},
		{"bad window", admin.ConsumerReq{Key: "ck1", Name: "x", EnableFrom: &from, EnableUntil: &until}, "enable_until must not be before enable_from"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/consumers", tt.req)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode[map[string]string](t, rec)["error"])
		})
	}
}

func seedShare(t *testing.T, st *memory.Store) {
	t.Helper()
	ctx := context.Background()
	for _, key := range []string{"ck1", "ck2"} {
		require.NoError(t, st.SaveToolConsumer(ctx, lti.NewToolConsumer(key, true)))
	}
	require.NoError(t, st.SaveResourceLink(ctx, lti.NewResourceLink("ck1", "rl1")))
	sharing := lti.NewResourceLink("ck2", "rl2")
	sharing.Title = "Section B"
	sharing.PrimaryConsumerKey, sharing.PrimaryResourceLinkID = "ck1", "rl1"
	pending := false
	sharing.ShareApproved = &pending
	require.NoError(t, st.SaveResourceLink(ctx, sharing))
}

func TestShareKeys_Create(t *testing.T) {
	h, st := newAPI(t)
	seedShare(t, st)

	rec := do(t, h, http.MethodPost, "/consumers/ck1/links/rl1/sharekeys", admin.ShareKeyReq{AutoApprove: true, Life: 48, Length: 8})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	sk := decode[lti.ShareKey](t, rec)
	assert.Len(t, sk.ID, 8)
	assert.True(t, sk.AutoApprove)
	assert.True(t, sk.ExpiresAt.Equal(fixedNow.Add(48*time.Hour)))

	stored, err := st.LoadShareKey(context.Background(), sk.ID)
	require.NoError(t, err)
	assert.Equal(t, "rl1", stored.PrimaryResourceLinkID)

	rec = do(t, h, http.MethodPost, "/consumers/ck1/links/nope/sharekeys", admin.ShareKeyReq{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShares_ListAndApprove(t *testing.T) {
	h, st := newAPI(t)
	seedShare(t, st)

	rec := do(t, h, http.MethodGet, "/consumers/ck1/links/rl1/shares", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shares := decode[[]lti.ResourceLinkShare](t, rec)
	require.Len(t, shares, 1)
	assert.Equal(t, "ck2", shares[0].ConsumerKey)
	assert.False(t, shares[0].Approved)

	rec = do(t, h, http.MethodPut, "/consumers/ck2/links/rl2/share-approval", admin.ShareApprovalReq{Approved: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	link, err := st.LoadResourceLink(context.Background(), "ck2", "rl2")
	require.NoError(t, err)
	assert.True(t, link.IsShareApproved())

	rec = do(t, h, http.MethodPut, "/consumers/ck1/links/rl1/share-approval", admin.ShareApprovalReq{Approved: true})
	assert.Equal(t, http.StatusConflict, rec.Code, "primary links are not sharing")

	rec = do(t, h, http.MethodGet, "/consumers/ck9/links/rl1/shares", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guarded := admin.BasicAuth("root", string(hash))(ok)

	tests := []struct {
		name       string
		user, pass string
		set        bool
		want       int
	}{
		{"no credentials", "", "", false, http.StatusUnauthorized},
		{"wrong user", "admin", "s3cret", true, http.StatusUnauthorized},
		{"wrong password", "root", "nope", true, http.StatusUnauthorized},
		{"valid", "root", "s3cret", true, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/consumers", nil)
			if tt.set {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			guarded.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("", "")
	rec := httptest.NewRecorder()
	admin.BasicAuth("", "")(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unconfigured guard refuses everything")
}

func TestHashPassword(t *testing.T) {
	h, err := admin.HashPassword("pw")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))
}
