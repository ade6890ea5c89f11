// pkg/lti/user.go
package lti

import (
	"regexp"
	"strings"
	"time"
)

// rolePrefix qualifies bare LIS role names.
const rolePrefix = "urn:lti:role:ims/lis/"

// User is a launching user, owned by the resource link it launched from.
type User struct {
	ID                 string     `json:"user_id"`
	Firstname          string     `json:"firstname"`
	Lastname           string     `json:"lastname"`
	Fullname           string     `json:"fullname"`
	Email              string     `json:"email,omitempty"`
	Roles              []string   `json:"roles,omitempty"`
	Groups             []string   `json:"groups,omitempty"`
	LTIResultSourcedID string     `json:"lti_result_sourcedid,omitempty"`
	Created            *time.Time `json:"created,omitempty"`
	Updated            *time.Time `json:"updated,omitempty"`

	// Link is the user's own resource link. It stays the original link even
	// when the active link of a launch is swapped for a shared primary.
	Link *ResourceLink `json:"-"`
}

// NewUser returns an unsaved user bound to link.
func NewUser(link *ResourceLink, id string) *User {
	return &User{ID: id, Link: link}
}

// ScopedID qualifies the user id according to scope.
func (u *User) ScopedID(scope IDScope) string {
	key := ""
	if u.Link != nil {
		key = u.Link.ConsumerKey
	}
	switch scope {
	case IDScopeGlobal:
		return key + IDScopeSeparator + u.ID
	case IDScopeContext:
		id := key
		if u.Link != nil && u.Link.LTIContextID != "" {
			id += IDScopeSeparator + u.Link.LTIContextID
		}
		return id + IDScopeSeparator + u.ID
	case IDScopeResource:
		id := key
		if u.Link != nil && u.Link.LTIResourceID != "" {
			id += IDScopeSeparator + u.Link.LTIResourceID
		}
		return id + IDScopeSeparator + u.ID
	default:
		return u.ID
	}
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// SetNames fills first, last and full name. Missing first/last names are
// taken from fullname split on its first whitespace run; a blank first name
// becomes "User" and a blank last name becomes the user id.
func (u *User) SetNames(firstname, lastname, fullname string) {
	names := [2]string{}
	u.Fullname = ""
	if strings.TrimSpace(fullname) != "" {
		u.Fullname = strings.TrimSpace(fullname)
		parts := whitespaceRun.Split(u.Fullname, 2)
		names[0] = parts[0]
		if len(parts) > 1 {
			names[1] = parts[1]
		}
	}
	switch {
	case strings.TrimSpace(firstname) != "":
		u.Firstname = strings.TrimSpace(firstname)
	case names[0] != "":
		u.Firstname = names[0]
	default:
		u.Firstname = "User"
	}
	switch {
	case strings.TrimSpace(lastname) != "":
		u.Lastname = strings.TrimSpace(lastname)
	case names[1] != "":
		u.Lastname = names[1]
	default:
		u.Lastname = u.ID
	}
	if u.Fullname == "" {
		u.Fullname = u.Firstname + " " + u.Lastname
	}
}

// SetEmail uses email when given, else defaultEmail. A default that starts
// with "@" is treated as a domain and prefixed with the scoped user id.
func (u *User) SetEmail(email, defaultEmail string, scope IDScope) {
	switch {
	case email != "":
		u.Email = email
	case defaultEmail != "":
		u.Email = defaultEmail
		if strings.HasPrefix(u.Email, "@") {
			u.Email = u.ScopedID(scope) + u.Email
		}
	default:
		u.Email = ""
	}
}

// IsAdmin reports any administrator role.
func (u *User) IsAdmin() bool {
	return u.HasRole("Administrator") ||
		u.HasRole("urn:lti:sysrole:ims/lis/SysAdmin") ||
		u.HasRole("urn:lti:sysrole:ims/lis/Administrator") ||
		u.HasRole("urn:lti:instrole:ims/lis/Administrator")
}

// IsStaff reports instructor, content developer or teaching assistant roles.
func (u *User) IsStaff() bool {
	return u.HasRole("Instructor") || u.HasRole("ContentDeveloper") || u.HasRole("TeachingAssistant")
}

func (u *User) IsLearner() bool { return u.HasRole("Learner") }

// HasRole accepts a bare LIS role name or a full URN.
func (u *User) HasRole(role string) bool {
	if !strings.HasPrefix(role, "urn:") {
		role = rolePrefix + role
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ParseRoles splits a comma-separated roles parameter and qualifies bare names.
func ParseRoles(s string) []string {
	var out []string
	for _, role := range strings.Split(s, ",") {
		role = strings.TrimSpace(role)
		if role == "" {
			continue
		}
		if !strings.HasPrefix(role, "urn:") {
			role = rolePrefix + role
		}
		out = append(out, role)
	}
	return out
}
