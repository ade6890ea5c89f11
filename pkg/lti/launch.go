// pkg/lti/launch.go
package lti

import (
	"net/url"
	"strings"

	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
)

// LTI launch constants.
const (
	LaunchMessageType = "basic-lti-launch-request"
	LTIVersion1       = "LTI-1p0"
)

// LaunchRequest is the inbound launch as seen by the pipeline. It is built
// once by the transport and never modified afterwards.
type LaunchRequest struct {
	Method string
	// URL is the absolute URL the consumer signed, query included.
	URL string
	// Params holds the form body parameters.
	Params url.Values
	// Authorization is the raw Authorization header, if any.
	Authorization string
}

// Get returns the first value of a body parameter.
func (r LaunchRequest) Get(name string) string { return r.Params.Get(name) }

// Has reports whether a body parameter was sent, even if empty.
func (r LaunchRequest) Has(name string) bool {
	_, ok := r.Params[name]
	return ok
}

// Trimmed returns the parameter value without surrounding whitespace.
func (r LaunchRequest) Trimmed(name string) string { return strings.TrimSpace(r.Params.Get(name)) }

// oauthRequest rebuilds the signed request: URL query, body parameters and
// any oauth_* values carried in the Authorization header.
func (r LaunchRequest) oauthRequest() *oauth1.Request {
	params := url.Values{}
	for k, vs := range r.Params {
		params[k] = append([]string(nil), vs...)
	}
	if hp, ok := oauth1.ParseAuthorizationHeader(r.Authorization); ok {
		for k, vs := range hp {
			params[k] = vs
		}
	}
	return oauth1.NewRequest(r.Method, r.URL, params)
}

// ParameterConstraint is checked against a launch parameter after trimming.
// MaxLength of 0 means no limit.
type ParameterConstraint struct {
	Required  bool
	MaxLength int
}

// settingNames are the launch parameters copied into resource link settings.
var settingNames = []string{
	"ext_resource_link_content",
	"ext_resource_link_content_signature",
	"lis_result_sourcedid",
	"lis_outcome_service_url",
	"ext_ims_lis_basic_outcome_url",
	"ext_ims_lis_resultvalue_sourcedids",
	"ext_ims_lis_memberships_id",
	"ext_ims_lis_memberships_url",
	"ext_ims_lti_tool_setting",
	"ext_ims_lti_tool_setting_id",
	"ext_ims_lti_tool_setting_url",
}
