package outcomes_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti/outcomes"
	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
)

const poxSuccess = `<?xml version="1.0" encoding="UTF-8"?>
<imsx_POXEnvelopeResponse xmlns="http://www.imsglobal.org/services/ltiv1p1/xsd/imsoms_v1p0">
  <imsx_POXHeader><imsx_POXResponseHeaderInfo>
    <imsx_version>V1.0</imsx_version>
    <imsx_messageIdentifier>1</imsx_messageIdentifier>
    <imsx_statusInfo><imsx_codeMajor>%s</imsx_codeMajor><imsx_severity>status</imsx_severity><imsx_description>done</imsx_description></imsx_statusInfo>
  </imsx_POXResponseHeaderInfo></imsx_POXHeader>
  <imsx_POXBody>%s</imsx_POXBody>
</imsx_POXEnvelopeResponse>`

func extResponse(body string) string {
	return `<message_response><statusinfo><codemajor>Success</codemajor><severity>Status</severity></statusinfo>` +
		body + `</message_response>`
}

type fixture struct {
	store  *memory.Store
	client *outcomes.Client
	link   *lti.ResourceLink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	for key, secret := range map[string]string{"ck1": "secret1", "ck2": "secret2"} {
		c := lti.NewToolConsumer(key, true)
		c.Secret = secret
		c.Name = key
		require.NoError(t, s.SaveToolConsumer(ctx, c))
	}
	link := lti.NewResourceLink("ck1", "rl1")
	require.NoError(t, s.SaveResourceLink(ctx, link))
	return &fixture{store: s, client: outcomes.NewClient(s, nil), link: link}
}

// verifyHeaderSigned checks a POX request signed through the Authorization
// header and oauth_body_hash.
func verifyHeaderSigned(t *testing.T, r *http.Request, serviceURL, secret string, body []byte) {
	t.Helper()
	params, ok := oauth1.ParseAuthorizationHeader(r.Header.Get("Authorization"))
	require.True(t, ok, "missing OAuth header")
	assert.Equal(t, oauth1.BodyHash(body), params.Get(oauth1.ParamBodyHash))
	req := oauth1.NewRequest(r.Method, serviceURL, params)
	c := oauth1.Consumer{Key: params.Get(oauth1.ParamConsumerKey), Secret: secret}
	assert.True(t, oauth1.HMACSHA1{}.CheckSignature(req, c, nil, params.Get(oauth1.ParamSignature)), "bad signature")
}

// verifyFormSigned checks an extension request signed in the form body.
func verifyFormSigned(t *testing.T, r *http.Request, serviceURL, secret string) url.Values {
	t.Helper()
	require.NoError(t, r.ParseForm())
	req := oauth1.NewRequest(r.Method, serviceURL, r.PostForm)
	c := oauth1.Consumer{Key: r.PostForm.Get(oauth1.ParamConsumerKey), Secret: secret}
	assert.True(t, oauth1.HMACSHA1{}.CheckSignature(req, c, nil, r.PostForm.Get(oauth1.ParamSignature)), "bad signature")
	return r.PostForm
}

func TestDoOutcomesService_POXWrite(t *testing.T) {
	f := newFixture(t)
	var serviceURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
		verifyHeaderSigned(t, r, serviceURL, "secret1", body)
		doc := string(body)
		assert.Contains(t, doc, "<replaceResultRequest>")
		assert.Contains(t, doc, "<sourcedId>sid-1</sourcedId>")
		assert.Contains(t, doc, "<textString>0.5</textString>")
		assert.Contains(t, doc, "<language>en-US</language>")
		_, _ = io.WriteString(w, strings.Replace(strings.Replace(poxSuccess, "%s", "success", 1), "%s", "<replaceResultResponse/>", 1))
	}))
	defer srv.Close()
	serviceURL = srv.URL + "/pox?tenant=7"
	f.link.SetSetting("lis_outcome_service_url", serviceURL)

	o := outcomes.NewOutcome("sid-1", "50%")
	o.Type = outcomes.TypePercentage
	_, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Write, o, nil)
	require.NoError(t, err)
	assert.Equal(t, outcomes.TypeDecimal, o.Type)
	assert.Equal(t, "0.5", o.Value)
}

func TestDoOutcomesService_POXReadAndFailure(t *testing.T) {
	f := newFixture(t)
	codeMajor := "success"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "<readResultRequest>")
		assert.NotContains(t, string(body), "<result>")
		read := `<readResultResponse><result><resultScore><language>en</language><textString>0.92</textString></resultScore></result></readResultResponse>`
		_, _ = io.WriteString(w, strings.Replace(strings.Replace(poxSuccess, "%s", codeMajor, 1), "%s", read, 1))
	}))
	defer srv.Close()
	f.link.SetSetting("lis_outcome_service_url", srv.URL)

	o := outcomes.NewOutcome("sid-1", "")
	resp, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Read, o, nil)
	require.NoError(t, err)
	assert.Equal(t, "0.92", resp.Value)
	assert.Equal(t, "0.92", o.Value)

	codeMajor = "failure"
	_, err = f.client.DoOutcomesService(context.Background(), f.link, outcomes.Read, o, nil)
	var se *outcomes.ServiceError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "failure", se.CodeMajor)
	assert.Equal(t, "readResult", se.MessageType)
}

func TestDoOutcomesService_ExtensionFallback(t *testing.T) {
	f := newFixture(t)
	var serviceURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form := verifyFormSigned(t, r, serviceURL, "secret1")
		assert.Equal(t, "basic-lis-updateresult", form.Get("lti_message_type"))
		assert.Equal(t, "LTI-1p0", form.Get("lti_version"))
		assert.Equal(t, "letterafplus", form.Get("result_resultvaluesourcedid"))
		assert.Equal(t, "B", form.Get("result_resultscore_textstring"))
		assert.Equal(t, "sid-1", form.Get("sourcedid"))
		assert.False(t, form.Has("tenant"), "query parameters are not repeated in the body")
		assert.Equal(t, "7", r.URL.Query().Get("tenant"))
		_, _ = io.WriteString(w, extResponse(""))
	}))
	defer srv.Close()
	serviceURL = srv.URL + "/ext?tenant=7"
	f.link.SetSetting("ext_ims_lis_basic_outcome_url", serviceURL)
	f.link.SetSetting("ext_ims_lis_resultvalue_sourcedids", "decimal, LetterAFPlus")

	o := outcomes.NewOutcome("sid-1", "B")
	o.Type = outcomes.TypeLetterAF
	_, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Write, o, nil)
	require.NoError(t, err)
	assert.Equal(t, outcomes.TypeLetterAFPlus, o.Type)
}

func TestDoOutcomesService_UserLinkSuppliesService(t *testing.T) {
	f := newFixture(t)
	var serviceURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form := verifyFormSigned(t, r, serviceURL, "secret2")
		assert.Equal(t, "ck2", form.Get(oauth1.ParamConsumerKey))
		assert.Equal(t, "sid-of-user", form.Get("sourcedid"))
		assert.Equal(t, "basic-lis-readresult", form.Get("lti_message_type"))
		_, _ = io.WriteString(w, extResponse(`<result><resultscore><textstring>0.4</textstring></resultscore></result>`))
	}))
	defer srv.Close()
	serviceURL = srv.URL

	own := lti.NewResourceLink("ck2", "rl2")
	own.SetSetting("ext_ims_lis_basic_outcome_url", serviceURL)
	u := lti.NewUser(own, "u1")
	u.LTIResultSourcedID = "sid-of-user"

	resp, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Read, outcomes.NewOutcome("ignored", ""), u)
	require.NoError(t, err)
	assert.Equal(t, "0.4", resp.Value)
}

func TestDoOutcomesService_NoService(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Write, outcomes.NewOutcome("s", "1"), nil)
	assert.ErrorIs(t, err, outcomes.ErrNoService)
}

func TestDoOutcomesService_HTTPError(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()
	f.link.SetSetting("ext_ims_lis_basic_outcome_url", srv.URL)

	_, err := f.client.DoOutcomesService(context.Background(), f.link, outcomes.Delete, outcomes.NewOutcome("s", ""), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "basic-lis-deleteresult")
}

func TestDoMembershipsService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	stale := lti.NewUser(f.link, "gone")
	stale.LTIResultSourcedID = "sid-gone"
	require.NoError(t, f.store.SaveUser(ctx, stale))

	var types []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		types = append(types, r.PostForm.Get("lti_message_type"))
		assert.Equal(t, "mid-9", r.PostForm.Get("id"))
		_, _ = io.WriteString(w, extResponse(`<memberships>
  <member>
    <user_id>u1</user_id><roles>Instructor</roles>
    <person_name_given>Ada</person_name_given><person_name_family>Lovelace</person_name_family>
    <person_contact_email_primary>ada@example.org</person_contact_email_primary>
    <lis_result_sourcedid>sid-u1</lis_result_sourcedid>
    <groups>
      <group><id>g1</id><title>Team 1</title><set><id>s1</id><title>Teams</title></set></group>
      <group><id>g9</id><title>Loose</title></group>
    </groups>
  </member>
  <member>
    <user_id>u2</user_id><roles>Learner</roles>
    <person_name_full>Alan Turing</person_name_full>
    <groups><group><id>g1</id><title>Team 1</title><set><id>s1</id><title>Teams</title></set></group></groups>
  </member>
</memberships>`))
	}))
	defer srv.Close()
	f.link.SetSetting("ext_ims_lis_memberships_url", srv.URL)
	f.link.SetSetting("ext_ims_lis_memberships_id", "mid-9")

	users, err := f.client.DoMembershipsService(ctx, f.link, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"basic-lis-readmembershipsforcontextwithgroups"}, types)
	require.Len(t, users, 2)
	assert.Equal(t, "Ada Lovelace", users[0].Fullname)
	assert.True(t, users[0].IsStaff())
	assert.Equal(t, []string{"g1", "g9"}, users[0].Groups)
	assert.Equal(t, "Alan", users[1].Firstname)

	set := f.link.GroupSets["s1"]
	assert.Equal(t, 2, set.NumMembers)
	assert.Equal(t, 1, set.NumStaff)
	assert.Equal(t, 1, set.NumLearners)
	assert.Equal(t, []string{"g1"}, set.Groups)
	assert.Equal(t, lti.Group{Title: "Loose"}, f.link.Groups["g9"])

	_, err = f.store.LoadUser(ctx, f.link, "u1")
	require.NoError(t, err, "members with a sourcedid are saved")
	_, err = f.store.LoadUser(ctx, f.link, "u2")
	assert.ErrorIs(t, err, lti.ErrNotFound)
	_, err = f.store.LoadUser(ctx, f.link, "gone")
	assert.ErrorIs(t, err, lti.ErrNotFound, "stale users are removed")

	saved, err := f.store.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
	assert.Contains(t, saved.GroupSets, "s1")
}

func TestDoMembershipsService_FallsBackWithoutGroups(t *testing.T) {
	f := newFixture(t)
	var types []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		mt := r.PostForm.Get("lti_message_type")
		types = append(types, mt)
		if strings.HasSuffix(mt, "withgroups") {
			_, _ = io.WriteString(w, `<message_response><statusinfo><codemajor>Failure</codemajor></statusinfo></message_response>`)
			return
		}
		_, _ = io.WriteString(w, extResponse(`<memberships><member><user_id>u1</user_id></member></memberships>`))
	}))
	defer srv.Close()
	f.link.SetSetting("ext_ims_lis_memberships_url", srv.URL)

	users, err := f.client.DoMembershipsService(context.Background(), f.link, true)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, []string{
		"basic-lis-readmembershipsforcontextwithgroups",
		"basic-lis-readmembershipsforcontext",
	}, types)
}

func TestDoSettingService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var serviceURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form := verifyFormSigned(t, r, serviceURL, "secret1")
		switch form.Get("lti_message_type") {
		case "basic-lti-loadsetting":
			_, _ = io.WriteString(w, extResponse(`<setting><value>stored</value></setting>`))
		default:
			assert.Equal(t, "set-1", form.Get("id"))
			_, _ = io.WriteString(w, extResponse(""))
		}
	}))
	defer srv.Close()
	serviceURL = srv.URL
	f.link.SetSetting("ext_ims_lti_tool_setting_url", serviceURL)
	f.link.SetSetting("ext_ims_lti_tool_setting_id", "set-1")

	v, err := f.client.DoSettingService(ctx, f.link, outcomes.Read, "")
	require.NoError(t, err)
	assert.Equal(t, "stored", v)

	_, err = f.client.DoSettingService(ctx, f.link, outcomes.Write, "new-value")
	require.NoError(t, err)
	saved, err := f.store.LoadResourceLink(ctx, "ck1", "rl1")
	require.NoError(t, err)
	assert.Equal(t, "new-value", saved.Setting("ext_ims_lti_tool_setting", ""))

	_, err = f.client.DoSettingService(ctx, lti.NewResourceLink("ck1", "none"), outcomes.Delete, "")
	assert.ErrorIs(t, err, outcomes.ErrNoService)
}
