// pkg/lti/consumer.go
package lti

import (
	"strconv"
	"strings"
	"time"
)

// IDScope selects how a user id is qualified by ScopedID.
type IDScope int

const (
	IDScopeIDOnly   IDScope = 0 // bare user id
	IDScopeGlobal   IDScope = 1 // consumerKey:userId
	IDScopeContext  IDScope = 2 // consumerKey[:contextId]:userId
	IDScopeResource IDScope = 3 // consumerKey[:resourceId]:userId
)

// IDScopeSeparator joins the parts of a scoped user id.
const IDScopeSeparator = ":"

// ParseIDScope accepts the numeric value or the lower-case name.
func ParseIDScope(s string) (IDScope, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "id_only", "idonly", "":
		return IDScopeIDOnly, true
	case "1", "global":
		return IDScopeGlobal, true
	case "2", "context":
		return IDScopeContext, true
	case "3", "resource":
		return IDScopeResource, true
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 3 {
		return IDScope(n), true
	}
	return IDScopeIDOnly, false
}

// ToolConsumer is an LMS instance registered with this tool.
type ToolConsumer struct {
	Key             string     `json:"key"`
	Name            string     `json:"name"`
	Secret          string     `json:"secret,omitempty"`
	LTIVersion      string     `json:"lti_version,omitempty"`
	ConsumerName    string     `json:"consumer_name,omitempty"`
	ConsumerVersion string     `json:"consumer_version,omitempty"`
	ConsumerGUID    string     `json:"consumer_guid,omitempty"`
	CSSPath         string     `json:"css_path,omitempty"`
	Protected       bool       `json:"protected"`
	Enabled         bool       `json:"enabled"`
	EnableFrom      *time.Time `json:"enable_from,omitempty"`
	EnableUntil     *time.Time `json:"enable_until,omitempty"`
	LastAccess      *time.Time `json:"last_access,omitempty"`
	IDScope         IDScope    `json:"id_scope"`
	DefaultEmail    string     `json:"default_email,omitempty"`
	Created         *time.Time `json:"created,omitempty"`
	Updated         *time.Time `json:"updated,omitempty"`
}

// NewToolConsumer returns an unsaved consumer with a random secret.
func NewToolConsumer(key string, autoEnable bool) *ToolConsumer {
	return &ToolConsumer{
		Key:     strings.TrimSpace(key),
		Secret:  RandomString(32),
		Enabled: autoEnable,
	}
}

// Persisted reports whether the record has ever been saved.
func (c *ToolConsumer) Persisted() bool { return c != nil && c.Created != nil }

// Availability checks the enabled flag and the [EnableFrom, EnableUntil)
// window. It returns "" when the consumer may launch at now.
func (c *ToolConsumer) Availability(now time.Time) string {
	if !c.Enabled {
		return "Tool consumer has not been enabled by the tool provider."
	}
	if c.EnableFrom != nil && c.EnableFrom.After(now) {
		return "Tool consumer access is not yet available."
	}
	if c.EnableUntil != nil && !c.EnableUntil.After(now) {
		return "Tool consumer access has expired."
	}
	return ""
}

// touch records an access at now and reports whether the stored last-access
// day changed (so the record should be written back).
func (c *ToolConsumer) touch(now time.Time) bool {
	changed := c.LastAccess == nil || c.LastAccess.Format("2006-01-02") != now.Format("2006-01-02")
	t := now
	c.LastAccess = &t
	return changed
}
