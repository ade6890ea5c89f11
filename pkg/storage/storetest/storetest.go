// Package storetest is a conformance suite for lti.Store implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

// Clock is a settable time source shared between a test and its store.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Opener returns a fresh, empty store using clock for stamps and expiry.
type Opener func(t *testing.T, clock *Clock) lti.Store

// Run exercises every storage port of the store returned by open.
func Run(t *testing.T, open Opener) {
	t.Run("consumers", func(t *testing.T) { testConsumers(t, open) })
	t.Run("resource links", func(t *testing.T) { testResourceLinks(t, open) })
	t.Run("users", func(t *testing.T) { testUsers(t, open) })
	t.Run("result sourcedids", func(t *testing.T) { testUserResultSourcedIDs(t, open) })
	t.Run("shares", func(t *testing.T) { testShares(t, open) })
	t.Run("share keys", func(t *testing.T) { testShareKeys(t, open) })
	t.Run("nonces", func(t *testing.T) { testNonces(t, open) })
	t.Run("delete consumer cascades", func(t *testing.T) { testDeleteConsumer(t, open) })
	t.Run("atomically", func(t *testing.T) { testAtomically(t, open) })
}

func consumer(key, name string) *lti.ToolConsumer {
	c := lti.NewToolConsumer(key, true)
	c.Name = name
	return c
}

func testConsumers(t *testing.T, open Opener) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, clock)

	_, err := s.LoadToolConsumer(ctx, "missing")
	require.ErrorIs(t, err, lti.ErrNotFound)

	c := consumer("ck1", "Zeta")
	c.Protected = true
	c.ConsumerGUID = "guid"
	c.IDScope = lti.IDScopeContext
	c.DefaultEmail = "@example.org"
	until := clock.Now().Add(48 * time.Hour)
	c.EnableUntil = &until
	require.NoError(t, s.SaveToolConsumer(ctx, c))
	require.NotNil(t, c.Created)
	require.NotNil(t, c.Updated)

	got, err := s.LoadToolConsumer(ctx, "ck1")
	require.NoError(t, err)
	assert.Equal(t, "Zeta", got.Name)
	assert.Equal(t, c.Secret, got.Secret)
	assert.True(t, got.Protected)
	assert.True(t, got.Enabled)
	assert.Equal(t, "guid", got.ConsumerGUID)
	assert.Equal(t, lti.IDScopeContext, got.IDScope)
	assert.Equal(t, "@example.org", got.DefaultEmail)
	require.NotNil(t, got.EnableUntil)
	assert.True(t, got.EnableUntil.Equal(until))
	assert.Nil(t, got.EnableFrom)
	assert.True(t, got.Persisted())

	clock.Advance(time.Hour)
	got.Name = "Alpha"
	require.NoError(t, s.SaveToolConsumer(ctx, got))
	require.NoError(t, s.SaveToolConsumer(ctx, consumer("ck2", "Mu")))

	list, err := s.ListToolConsumers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ck1", list[0].Key, "ordered by name")
	assert.Equal(t, "ck2", list[1].Key)
	assert.True(t, list[0].Updated.After(*list[0].Created))
}

func testResourceLinks(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, NewClock())
	require.NoError(t, s.SaveToolConsumer(ctx, consumer("ck1", "One")))

	_, err := s.LoadResourceLink(ctx, "ck1", "rl1")
	require.ErrorIs(t, err, lti.ErrNotFound)

	l := lti.NewResourceLink("ck1", "rl1")
	l.LTIContextID = "ctx"
	l.LTIResourceID = "rl1"
	l.Title = "Course"
	l.SetSetting("custom_x", "1")
	l.GroupSets = map[string]lti.GroupSet{"s1": {Title: "Set", Groups: []string{"g1"}, NumMembers: 2, NumStaff: 1, NumLearners: 1}}
	l.Groups = map[string]lti.Group{"g1": {Title: "Group", Set: "s1"}}
	require.NoError(t, s.SaveResourceLink(ctx, l))
	require.True(t, l.Persisted())

	got, err := s.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
	assert.Equal(t, "ctx", got.LTIContextID)
	assert.Equal(t, "Course", got.Title)
	assert.Equal(t, "1", got.Setting("custom_x", ""))
	assert.Nil(t, got.ShareApproved)
	assert.Equal(t, l.GroupSets, got.GroupSets)
	assert.Equal(t, l.Groups, got.Groups)

	for _, approved := range []bool{false, true} {
		v := approved
		got.ShareApproved = &v
		require.NoError(t, s.SaveResourceLink(ctx, got))
		again, err := s.LoadResourceLink(ctx, "ck1", "rl1")
		require.NoError(t, err)
		require.NotNil(t, again.ShareApproved)
		assert.Equal(t, approved, *again.ShareApproved)
	}

	require.NoError(t, s.DeleteResourceLink(ctx, got))
	_, err = s.LoadResourceLink(ctx, "ck1", "rl1")
	require.ErrorIs(t, err, lti.ErrNotFound)
}

func testUsers(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, NewClock())
	require.NoError(t, s.SaveToolConsumer(ctx, consumer("ck1", "One")))
	l := lti.NewResourceLink("ck1", "rl1")
	require.NoError(t, s.SaveResourceLink(ctx, l))

	u := lti.NewUser(l, "u1")
	require.NoError(t, s.SaveUser(ctx, u))
	_, err := s.LoadUser(ctx, l, "u1")
	require.ErrorIs(t, err, lti.ErrNotFound, "users without a sourcedid are not stored")

	u.LTIResultSourcedID = "sid-1"
	require.NoError(t, s.SaveUser(ctx, u))
	require.NotNil(t, u.Created)

	got, err := s.LoadUser(ctx, l, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sid-1", got.LTIResultSourcedID)
	assert.Same(t, l, got.Link)

	got.LTIResultSourcedID = "sid-2"
	require.NoError(t, s.SaveUser(ctx, got))
	got, err = s.LoadUser(ctx, l, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sid-2", got.LTIResultSourcedID)

	require.NoError(t, s.DeleteUser(ctx, got))
	_, err = s.LoadUser(ctx, l, "u1")
	require.ErrorIs(t, err, lti.ErrNotFound)
}

// sharedFixture: ck1/rl1 is a primary link, ck2/rl2 shares it (approved),
// ck3/rl3 shares it (pending). Every link has one user with a sourcedid.
func sharedFixture(t *testing.T, s lti.Store) *lti.ResourceLink {
	t.Helper()
	ctx := context.Background()
	var primary *lti.ResourceLink
	for i, fx := range []struct {
		key, id  string
		approved *bool
	}{
		{"ck1", "rl1", nil},
		{"ck2", "rl2", boolPtr(true)},
		{"ck3", "rl3", boolPtr(false)},
	} {
		require.NoError(t, s.SaveToolConsumer(ctx, consumer(fx.key, fx.key)))
		l := lti.NewResourceLink(fx.key, fx.id)
		l.Title = "Link " + fx.id
		l.LTIContextID = "ctx" + fx.id
		if i > 0 {
			l.PrimaryConsumerKey, l.PrimaryResourceLinkID = "ck1", "rl1"
			l.ShareApproved = fx.approved
		}
		require.NoError(t, s.SaveResourceLink(ctx, l))
		u := lti.NewUser(l, "u"+fx.id)
		u.LTIResultSourcedID = "sid-" + fx.id
		require.NoError(t, s.SaveUser(ctx, u))
		if i == 0 {
			primary = l
		}
	}
	return primary
}

func boolPtr(b bool) *bool { return &b }

func testUserResultSourcedIDs(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, NewClock())
	primary := sharedFixture(t, s)

	local, err := s.UserResultSourcedIDs(ctx, primary, true, lti.IDScopeGlobal)
	require.NoError(t, err)
	require.Len(t, local, 1)
	require.Contains(t, local, "ck1:url1")
	assert.Equal(t, "sid-rl1", local["ck1:url1"].LTIResultSourcedID)

	all, err := s.UserResultSourcedIDs(ctx, primary, false, lti.IDScopeContext)
	require.NoError(t, err)
	require.Len(t, all, 2, "pending shares are excluded")
	assert.Contains(t, all, "ck1:ctxrl1:url1")
	require.Contains(t, all, "ck2:ctxrl2:url2")
	assert.Equal(t, "rl2", all["ck2:ctxrl2:url2"].Link.ID)
}

func testShares(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, NewClock())
	primary := sharedFixture(t, s)

	shares, err := s.ResourceLinkShares(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, []lti.ResourceLinkShare{
		{ConsumerKey: "ck2", ResourceLinkID: "rl2", Title: "Link rl2", Approved: true},
		{ConsumerKey: "ck3", ResourceLinkID: "rl3", Title: "Link rl3", Approved: false},
	}, shares)

	require.NoError(t, s.DeleteResourceLink(ctx, primary))
	shared, err := s.LoadResourceLink(ctx, "ck2", "rl2")
	require.NoError(t, err)
	assert.False(t, shared.HasPrimary(), "sharing links are detached from a deleted primary")
}

func testShareKeys(t *testing.T, open Opener) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, clock)
	require.NoError(t, s.SaveToolConsumer(ctx, consumer("ck1", "One")))
	l := lti.NewResourceLink("ck1", "rl1")
	require.NoError(t, s.SaveResourceLink(ctx, l))

	sk, err := lti.IssueShareKey(ctx, s, l, true, 1, 10, clock.Now())
	require.NoError(t, err)

	got, err := s.LoadShareKey(ctx, sk.ID)
	require.NoError(t, err)
	assert.Equal(t, "ck1", got.PrimaryConsumerKey)
	assert.Equal(t, "rl1", got.PrimaryResourceLinkID)
	assert.True(t, got.AutoApprove)
	assert.True(t, got.ExpiresAt.Equal(sk.ExpiresAt))

	clock.Advance(time.Hour)
	_, err = s.LoadShareKey(ctx, sk.ID)
	require.ErrorIs(t, err, lti.ErrNotFound, "expired keys are swept")

	sk2, err := lti.IssueShareKey(ctx, s, l, false, 0, 0, clock.Now())
	require.NoError(t, err)
	require.NoError(t, s.DeleteShareKey(ctx, sk2.ID))
	_, err = s.LoadShareKey(ctx, sk2.ID)
	require.ErrorIs(t, err, lti.ErrNotFound)
}

func testNonces(t *testing.T, open Opener) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, clock)
	require.NoError(t, s.SaveToolConsumer(ctx, consumer("ck1", "One")))

	n := lti.NewNonce("ck1", "n-1", clock.Now())
	seen, err := s.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.False(t, seen, "first presentation is accepted")

	seen, err = s.CheckAndRecordNonce(ctx, n)
	require.NoError(t, err)
	assert.True(t, seen, "second presentation is a replay")

	found, err := s.LoadNonce(ctx, "ck1", "n-1")
	require.NoError(t, err)
	assert.True(t, found)

	clock.Advance(lti.MaxNonceAge)
	found, err = s.LoadNonce(ctx, "ck1", "n-1")
	require.NoError(t, err)
	assert.False(t, found, "expired nonces are swept")

	require.NoError(t, s.SaveNonce(ctx, lti.NewNonce("ck1", "n-2", clock.Now())))
	found, err = s.LoadNonce(ctx, "ck1", "n-2")
	require.NoError(t, err)
	assert.True(t, found)
}

func testDeleteConsumer(t *testing.T, open Opener) {
	ctx := context.Background()
	clock := NewClock()
	s := open(t, clock)
	primary := sharedFixture(t, s)

	_, err := lti.IssueShareKey(ctx, s, primary, true, 0, 0, clock.Now())
	require.NoError(t, err)
	_, err = s.CheckAndRecordNonce(ctx, lti.NewNonce("ck1", "n-1", clock.Now()))
	require.NoError(t, err)

	require.NoError(t, s.DeleteToolConsumer(ctx, "ck1"))

	_, err = s.LoadToolConsumer(ctx, "ck1")
	assert.ErrorIs(t, err, lti.ErrNotFound)
	_, err = s.LoadResourceLink(ctx, "ck1", "rl1")
	assert.ErrorIs(t, err, lti.ErrNotFound)
	found, err := s.LoadNonce(ctx, "ck1", "n-1")
	require.NoError(t, err)
	assert.False(t, found)

	shared, err := s.LoadResourceLink(ctx, "ck2", "rl2")
	require.NoError(t, err)
	assert.False(t, shared.HasPrimary())
	u, err := s.LoadUser(ctx, shared, "url2")
	require.NoError(t, err, "users of other consumers survive")
	assert.Equal(t, "sid-rl2", u.LTIResultSourcedID)
}

func testAtomically(t *testing.T, open Opener) {
	ctx := context.Background()
	s := open(t, NewClock())

	boom := errors.New("boom")
	err := s.Atomically(ctx, func(tx lti.Store) error {
		if err := tx.SaveToolConsumer(ctx, consumer("ck1", "One")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	_, err = s.LoadToolConsumer(ctx, "ck1")
	require.ErrorIs(t, err, lti.ErrNotFound, "rolled back")

	err = s.Atomically(ctx, func(tx lti.Store) error {
		if err := tx.SaveToolConsumer(ctx, consumer("ck1", "One")); err != nil {
			return err
		}
		return tx.SaveResourceLink(ctx, lti.NewResourceLink("ck1", "rl1"))
	})
	require.NoError(t, err)
	_, err = s.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
}
