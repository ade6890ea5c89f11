// pkg/lti/resourcelink.go
package lti

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// GroupSet groups the groups a memberships call reported under one set id.
type GroupSet struct {
	Title       string   `json:"title"`
	Groups      []string `json:"groups"`
	NumMembers  int      `json:"num_members"`
	NumStaff    int      `json:"num_staff"`
	NumLearners int      `json:"num_learners"`
}

// Group is a single group; Set is empty for groups outside any set.
type Group struct {
	Title string `json:"title"`
	Set   string `json:"set,omitempty"`
}

// ResourceLink is one placement of the tool inside a consumer.
//
// PrimaryConsumerKey and PrimaryResourceLinkID are set when this link shares
// another link's identity; ShareApproved is nil until a decision is made.
type ResourceLink struct {
	ConsumerKey           string              `json:"consumer_key"`
	ID                    string              `json:"id"`
	LTIContextID          string              `json:"lti_context_id,omitempty"`
	LTIResourceID         string              `json:"lti_resource_id,omitempty"`
	Title                 string              `json:"title"`
	Settings              map[string]any      `json:"settings,omitempty"`
	GroupSets             map[string]GroupSet `json:"group_sets,omitempty"`
	Groups                map[string]Group    `json:"groups,omitempty"`
	PrimaryConsumerKey    string              `json:"primary_consumer_key,omitempty"`
	PrimaryResourceLinkID string              `json:"primary_resource_link_id,omitempty"`
	ShareApproved         *bool               `json:"share_approved,omitempty"`
	Created               *time.Time          `json:"created,omitempty"`
	Updated               *time.Time          `json:"updated,omitempty"`
}

// NewResourceLink returns an unsaved link.
func NewResourceLink(consumerKey, id string) *ResourceLink {
	return &ResourceLink{ConsumerKey: consumerKey, ID: id, Settings: map[string]any{}}
}

// ContextID is the legacy name of the link id.
func (l *ResourceLink) ContextID() string { return l.ID }

// Persisted reports whether the record has ever been saved.
func (l *ResourceLink) Persisted() bool { return l != nil && l.Created != nil }

// HasPrimary reports whether this link points at a primary link.
func (l *ResourceLink) HasPrimary() bool { return l.PrimaryConsumerKey != "" && l.PrimaryResourceLinkID != "" }

// IsShareApproved is true only for an explicit approval.
func (l *ResourceLink) IsShareApproved() bool { return l.ShareApproved != nil && *l.ShareApproved }

// Setting returns the named setting as a string, or def when unset.
func (l *ResourceLink) Setting(name, def string) string {
	v, ok := l.Settings[name]
	if !ok || v == nil {
		return def
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return def
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}

// SetSetting stores value under name; a blank value removes the setting.
func (l *ResourceLink) SetSetting(name, value string) {
	if l.Settings == nil {
		l.Settings = map[string]any{}
	}
	if strings.TrimSpace(value) == "" {
		delete(l.Settings, name)
		return
	}
	l.Settings[name] = value
}

// SettingNames returns the setting names in sorted order.
func (l *ResourceLink) SettingNames() []string {
	names := make([]string, 0, len(l.Settings))
	for k := range l.Settings {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (l *ResourceLink) HasOutcomesService() bool {
	return l.Setting("ext_ims_lis_basic_outcome_url", "")+l.Setting("lis_outcome_service_url", "") != ""
}

func (l *ResourceLink) HasMembershipsService() bool {
	return l.Setting("ext_ims_lis_memberships_url", "") != ""
}

func (l *ResourceLink) HasSettingService() bool {
	return l.Setting("ext_ims_lti_tool_setting_url", "") != ""
}

func boolPtr(b bool) *bool { return &b }
