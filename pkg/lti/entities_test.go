package lti_test

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

func TestNewNonce_Normalization(t *testing.T) {
	printable := "this nonce is longer than thirty two characters"
	encoded := base64.StdEncoding.EncodeToString([]byte("short decoded nonce, 29 chars"))
	binary := base64.StdEncoding.EncodeToString([]byte{0x01, 0xff, 0x10, 0x80, 0x00, 0x7f, 0x20, 0x21, 0x01, 0xff, 0x10, 0x80, 0x00, 0x7f, 0x20, 0x21, 0x01, 0xff, 0x10, 0x80, 0x00, 0x7f, 0x20, 0x21, 0x01, 0xff, 0x10, 0x80})

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"short kept verbatim", "abc123", "abc123"},
		{"exactly 32 kept", strings.Repeat("x", 32), strings.Repeat("x", 32)},
		{"printable base64 decoded", encoded, "short decoded nonce, 29 chars"},
		{"binary base64 truncated", binary, binary[:32]},
		{"not base64 truncated", printable, printable[:32]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Greater(t, len(tt.raw), 0)
			n := lti.NewNonce("ck1", tt.raw, fixedNow)
			assert.Equal(t, tt.want, n.Value)
			assert.LessOrEqual(t, len(n.Value), lti.MaxNonceLength)
			assert.Equal(t, fixedNow.Add(30*time.Minute), n.ExpiresAt)
		})
	}
}

func TestNonce_Expiry(t *testing.T) {
	n := lti.NewNonce("ck1", "abc", fixedNow)
	assert.False(t, n.Expired(fixedNow.Add(29*time.Minute)))
	assert.True(t, n.Expired(fixedNow.Add(30*time.Minute)))
	assert.Equal(t, time.Minute, n.TTL(fixedNow.Add(29*time.Minute)))
	assert.Zero(t, n.TTL(fixedNow.Add(time.Hour)))
}

func TestNewShareKey_Clamping(t *testing.T) {
	primary := lti.NewResourceLink("ck2", "rl2")
	tests := []struct {
		life, length         int
		wantLife, wantLength int
	}{
		{0, 0, 24, 32},
		{-5, -3, 0, 5},
		{500, 99, 168, 32},
		{12, 3, 12, 5},
		{48, 10, 48, 10},
	}
	for _, tt := range tests {
		sk := lti.NewShareKey(primary, true, tt.life, tt.length, fixedNow)
		assert.Equal(t, tt.wantLife, sk.Life, "life %d", tt.life)
		assert.Equal(t, tt.wantLength, sk.Length, "length %d", tt.length)
		assert.Len(t, sk.ID, tt.wantLength)
		assert.Equal(t, fixedNow.Add(time.Duration(tt.wantLife)*time.Hour), sk.ExpiresAt)
		assert.Equal(t, "ck2", sk.PrimaryConsumerKey)
		assert.Equal(t, "rl2", sk.PrimaryResourceLinkID)
	}
}

func TestRandomString_Alphabet(t *testing.T) {
	s := lti.RandomString(200)
	require.Len(t, s, 200)
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		require.True(t, ok, "unexpected rune %q", r)
	}
	assert.NotEqual(t, s, lti.RandomString(200))
}

func TestUser_ScopedID(t *testing.T) {
	link := lti.NewResourceLink("ck1", "rl1")
	u := lti.NewUser(link, "u1")

	assert.Equal(t, "u1", u.ScopedID(lti.IDScopeIDOnly))
	assert.Equal(t, "ck1:u1", u.ScopedID(lti.IDScopeGlobal))
	assert.Equal(t, "ck1:u1", u.ScopedID(lti.IDScopeContext), "no context id")
	assert.Equal(t, "ck1:u1", u.ScopedID(lti.IDScopeResource), "no resource id")

	link.LTIContextID = "ctx9"
	link.LTIResourceID = "res7"
	assert.Equal(t, "ck1:ctx9:u1", u.ScopedID(lti.IDScopeContext))
	assert.Equal(t, "ck1:res7:u1", u.ScopedID(lti.IDScopeResource))
}

func TestUser_SetNames(t *testing.T) {
	tests := []struct {
		name                string
		first, last, full   string
		wantFirst, wantLast string
		wantFull            string
	}{
		{"all given", "Ada", "Lovelace", "Countess Ada", "Ada", "Lovelace", "Countess Ada"},
		{"split full", "", "", "Grace  Brewster Hopper", "Grace", "Brewster Hopper", "Grace  Brewster Hopper"},
		{"single word full", "", "", "Plato", "Plato", "u1", "Plato"},
		{"nothing", "", "", "", "User", "u1", "User u1"},
		{"first only", " Alan ", "", "", "Alan", "u1", "Alan u1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := lti.NewUser(lti.NewResourceLink("ck1", "rl1"), "u1")
			u.Fullname = "stale"
			u.SetNames(tt.first, tt.last, tt.full)
			assert.Equal(t, tt.wantFirst, u.Firstname)
			assert.Equal(t, tt.wantLast, u.Lastname)
			assert.Equal(t, tt.wantFull, u.Fullname)
		})
	}
}

func TestUser_SetEmail(t *testing.T) {
	u := lti.NewUser(lti.NewResourceLink("ck1", "rl1"), "u1")

	u.SetEmail("ada@example.org", "@fallback.org", lti.IDScopeGlobal)
	assert.Equal(t, "ada@example.org", u.Email)

	u.SetEmail("", "@fallback.org", lti.IDScopeGlobal)
	assert.Equal(t, "ck1:u1@fallback.org", u.Email)

	u.SetEmail("", "nobody@fallback.org", lti.IDScopeGlobal)
	assert.Equal(t, "nobody@fallback.org", u.Email)

	u.SetEmail("", "", lti.IDScopeGlobal)
	assert.Empty(t, u.Email)
}

func TestParseRoles(t *testing.T) {
	got := lti.ParseRoles(" Learner,,urn:lti:instrole:ims/lis/Administrator , TeachingAssistant")
	assert.Equal(t, []string{
		"urn:lti:role:ims/lis/Learner",
		"urn:lti:instrole:ims/lis/Administrator",
		"urn:lti:role:ims/lis/TeachingAssistant",
	}, got)
	assert.Empty(t, lti.ParseRoles(""))

	u := &lti.User{Roles: got}
	assert.True(t, u.IsLearner())
	assert.True(t, u.IsStaff())
	assert.True(t, u.IsAdmin())
	assert.True(t, u.HasRole("urn:lti:role:ims/lis/Learner"))
	assert.False(t, u.HasRole("Instructor"))
}

func TestResourceLink_Settings(t *testing.T) {
	l := lti.NewResourceLink("ck1", "rl1")
	l.SetSetting("b", "2")
	l.SetSetting("a", "1")
	l.SetSetting("c", "  ")
	assert.Equal(t, []string{"a", "b"}, l.SettingNames())
	assert.Equal(t, "fallback", l.Setting("missing", "fallback"))

	l.SetSetting("a", "")
	assert.Equal(t, []string{"b"}, l.SettingNames())

	l.Settings["n"] = 3.5
	assert.Equal(t, "3.5", l.Setting("n", ""))

	assert.False(t, l.HasOutcomesService())
	l.SetSetting("ext_ims_lis_basic_outcome_url", "https://lms.example.edu/outcomes")
	assert.True(t, l.HasOutcomesService())
	assert.False(t, l.HasSettingService())
	assert.Equal(t, "rl1", l.ContextID())
}

func TestToolConsumer_Availability(t *testing.T) {
	c := lti.NewToolConsumer(" ck1 ", false)
	assert.Equal(t, "ck1", c.Key)
	assert.Len(t, c.Secret, 32)
	assert.False(t, c.Persisted())
	assert.Equal(t, "Tool consumer has not been enabled by the tool provider.", c.Availability(fixedNow))

	c.Enabled = true
	assert.Empty(t, c.Availability(fixedNow))

	from := fixedNow
	c.EnableFrom = &from
	assert.Empty(t, c.Availability(fixedNow), "window start is inclusive")
}

func TestParseIDScope(t *testing.T) {
	for in, want := range map[string]lti.IDScope{
		"":         lti.IDScopeIDOnly,
		"global":   lti.IDScopeGlobal,
		"2":        lti.IDScopeContext,
		"RESOURCE": lti.IDScopeResource,
	} {
		got, ok := lti.ParseIDScope(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := lti.ParseIDScope("galaxy")
	assert.False(t, ok)
}
