// pkg/lti/outcomes/services.go
package outcomes

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
)

/* -------------------------------- outcomes ------------------------------- */

// DoOutcomesService reads, writes or deletes a result through link.
//
// When u is given, the user's own link supplies the service URLs and the
// sourcedid, so a user of a sharing link is graded in their own consumer.
// The LTI 1.1 service is preferred; the basic-lis extension is the
// fallback for non-decimal values or consumers without it. A write may
// convert o's type and value (see CheckValueType).
func (c *Client) DoOutcomesService(ctx context.Context, link *lti.ResourceLink, action Action, o *Outcome, u *lti.User) (Response, error) {
	source, sourcedID := link, o.SourcedID
	if u != nil {
		if u.Link != nil {
			source = u.Link
		}
		sourcedID = u.LTIResultSourcedID
	}

	urlLTI11 := source.Setting("lis_outcome_service_url", "")
	urlExt := source.Setting("ext_ims_lis_basic_outcome_url", "")
	if urlLTI11 == "" && urlExt == "" {
		return Response{}, ErrNoService
	}

	var pox, ext string
	switch action {
	case Read:
		if urlLTI11 != "" && o.Type == TypeDecimal {
			pox = "readResult"
		} else if urlExt != "" {
			ext = "basic-lis-readresult"
		}
	case Write:
		if urlLTI11 != "" && CheckValueType(source, o, []string{TypeDecimal}) {
			pox = "replaceResult"
		} else if CheckValueType(source, o, nil) {
			ext = "basic-lis-updateresult"
		}
	case Delete:
		if urlLTI11 != "" && o.Type == TypeDecimal {
			pox = "deleteResult"
		} else if urlExt != "" {
			ext = "basic-lis-deleteresult"
		}
	}

	switch {
	case pox != "":
		op := poxOperation{SourcedID: sourcedID}
		if action == Write {
			op.Result = &poxResult{Language: o.Language, TextString: o.Value}
		}
		resp, raw, err := c.doPOX(ctx, source, pox, urlLTI11, op)
		if err != nil {
			return Response{Body: raw}, err
		}
		out := Response{Body: raw}
		if action == Read && resp.Body.ReadScore != nil {
			out.Value = *resp.Body.ReadScore
			o.Value = out.Value
		}
		return out, nil

	case ext != "":
		params := url.Values{}
		params.Set("sourcedid", sourcedID)
		params.Set("result_resultscore_textstring", o.Value)
		setIf(params, "result_resultscore_language", o.Language)
		setIf(params, "result_statusofresult", o.Status)
		setIf(params, "result_date", o.Date)
		setIf(params, "result_resultvaluesourcedid", o.Type)
		setIf(params, "result_datasource", o.DataSource)
		resp, raw, err := c.doExtension(ctx, source, ext, urlExt, params)
		if err != nil {
			return Response{Body: raw}, err
		}
		out := Response{Body: raw}
		if action == Read && resp.ResultScore != nil {
			out.Value = *resp.ResultScore
			o.Value = out.Value
		}
		return out, nil
	}
	return Response{}, ErrNoService
}

func setIf(v url.Values, name, value string) {
	if value != "" {
		v.Set(name, value)
	}
}

/* ------------------------------ memberships ------------------------------ */

// DoMembershipsService fetches the membership of link's context and
// reconciles stored users: members with a sourcedid are saved and stored
// users no longer listed are deleted. withGroups asks for group data first
// and falls back to a plain request if the consumer refuses it.
func (c *Client) DoMembershipsService(ctx context.Context, link *lti.ResourceLink, withGroups bool) ([]*lti.User, error) {
	serviceURL := link.Setting("ext_ims_lis_memberships_url", "")
	if serviceURL == "" {
		return nil, ErrNoService
	}
	old, err := c.store.UserResultSourcedIDs(ctx, link, true, lti.IDScopeResource)
	if err != nil {
		return nil, fmt.Errorf("outcomes: memberships: %w", err)
	}
	consumer, err := c.store.LoadToolConsumer(ctx, link.ConsumerKey)
	if err != nil {
		return nil, fmt.Errorf("outcomes: load consumer %q: %w", link.ConsumerKey, err)
	}

	newParams := func() url.Values {
		p := url.Values{}
		p.Set("id", link.Setting("ext_ims_lis_memberships_id", ""))
		return p
	}
	var resp *extResponse
	grouped := false
	if withGroups {
		resp, _, err = c.doExtension(ctx, link, "basic-lis-readmembershipsforcontextwithgroups", serviceURL, newParams())
		if err == nil {
			grouped = true
		} else {
			c.logger.Debug("memberships with groups refused, retrying without", "err", err)
		}
	}
	if resp == nil {
		resp, _, err = c.doExtension(ctx, link, "basic-lis-readmembershipsforcontext", serviceURL, newParams())
		if err != nil {
			return nil, err
		}
	}

	if grouped {
		link.GroupSets = map[string]lti.GroupSet{}
		link.Groups = map[string]lti.Group{}
	}
	users := make([]*lti.User, 0, len(resp.Members))
	for _, m := range resp.Members {
		u := lti.NewUser(link, m.UserID)
		u.SetNames(m.GivenName, m.FamilyName, m.FullName)
		u.SetEmail(m.Email, consumer.DefaultEmail, consumer.IDScope)
		if m.Roles != nil {
			u.Roles = lti.ParseRoles(*m.Roles)
		}
		for _, g := range m.Groups {
			addGroup(link, u, g)
		}
		if m.SourcedID != nil {
			u.LTIResultSourcedID = *m.SourcedID
			if err := c.store.SaveUser(ctx, u); err != nil {
				return nil, fmt.Errorf("outcomes: memberships: %w", err)
			}
		}
		users = append(users, u)
		delete(old, u.ScopedID(lti.IDScopeResource))
	}
	for _, stale := range old {
		if err := c.store.DeleteUser(ctx, stale); err != nil {
			return nil, fmt.Errorf("outcomes: memberships: %w", err)
		}
	}
	if grouped {
		if err := c.store.SaveResourceLink(ctx, link); err != nil {
			return nil, fmt.Errorf("outcomes: memberships: %w", err)
		}
	}
	return users, nil
}

func addGroup(link *lti.ResourceLink, u *lti.User, g extGroup) {
	if link.Groups == nil {
		link.Groups = map[string]lti.Group{}
	}
	if g.Set == nil {
		link.Groups[g.ID] = lti.Group{Title: g.Title}
		u.Groups = append(u.Groups, g.ID)
		return
	}
	if link.GroupSets == nil {
		link.GroupSets = map[string]lti.GroupSet{}
	}
	set, ok := link.GroupSets[g.Set.ID]
	if !ok {
		set = lti.GroupSet{Title: g.Set.Title, Groups: []string{}}
	}
	set.NumMembers++
	if u.IsStaff() {
		set.NumStaff++
	}
	if u.IsLearner() {
		set.NumLearners++
	}
	if !contains(set.Groups, g.ID) {
		set.Groups = append(set.Groups, g.ID)
	}
	link.GroupSets[g.Set.ID] = set
	link.Groups[g.ID] = lti.Group{Title: g.Title, Set: g.Set.ID}
	u.Groups = append(u.Groups, g.ID)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

/* -------------------------------- setting -------------------------------- */

// DoSettingService loads, saves or deletes the consumer-side setting of
// link. A successful write also records the value on the link.
func (c *Client) DoSettingService(ctx context.Context, link *lti.ResourceLink, action Action, value string) (string, error) {
	var messageType string
	switch action {
	case Read:
		messageType = "basic-lti-loadsetting"
	case Write:
		messageType = "basic-lti-savesetting"
	case Delete:
		messageType = "basic-lti-deletesetting"
	default:
		return "", errors.New("outcomes: unknown setting action")
	}
	serviceURL := link.Setting("ext_ims_lti_tool_setting_url", "")
	if serviceURL == "" {
		return "", ErrNoService
	}
	params := url.Values{}
	params.Set("id", link.Setting("ext_ims_lti_tool_setting_id", ""))
	params.Set("setting", value)

	resp, _, err := c.doExtension(ctx, link, messageType, serviceURL, params)
	if err != nil {
		return "", err
	}
	switch action {
	case Read:
		if resp.Setting != nil {
			return *resp.Setting, nil
		}
		return "", nil
	case Write:
		link.SetSetting("ext_ims_lti_tool_setting", value)
		if err := c.store.SaveResourceLink(ctx, link); err != nil {
			return "", fmt.Errorf("outcomes: save setting: %w", err)
		}
	}
	return "", nil
}
