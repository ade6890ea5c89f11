// pkg/lti/result.go
package lti

import (
	"context"
	"net/url"
	"strings"
)

// ResultKind tags a launch outcome.
type ResultKind int

const (
	// Proceed: the launch is trusted; Consumer, ResourceLink and User are set.
	Proceed ResultKind = iota
	// Redirect: send the browser to URL.
	Redirect
	// Error: show Message to the user.
	Error
)

func (k ResultKind) String() string {
	switch k {
	case Proceed:
		return "proceed"
	case Redirect:
		return "redirect"
	case Error:
		return "error"
	}
	return "unknown"
}

// Result is what a launch (or a callback) resolves to.
type Result struct {
	Kind ResultKind

	Consumer     *ToolConsumer
	ResourceLink *ResourceLink
	User         *User

	URL string

	Message string
	Reason  string
	Err     *LaunchError
}

// ProceedWith returns a Proceed result for the given launch context.
func ProceedWith(c *ToolConsumer, l *ResourceLink, u *User) Result {
	return Result{Kind: Proceed, Consumer: c, ResourceLink: l, User: u}
}

// RedirectTo returns a Redirect result.
func RedirectTo(u string) Result { return Result{Kind: Redirect, URL: u} }

// ErrorMessage returns an Error result; reason is only shown in debug mode.
func ErrorMessage(message, reason string) Result {
	return Result{Kind: Error, Message: message, Reason: reason}
}

// Callbacks lets an application react to a launch.
type Callbacks interface {
	// OnConnect runs after a successful authentication. Returning an Error
	// result rejects the launch.
	OnConnect(ctx context.Context, tp *ToolProvider) Result
	// OnError runs when the launch failed. handled=false falls back to the
	// default error rendering.
	OnError(ctx context.Context, tp *ToolProvider) (res Result, handled bool)
}

// DefaultErrorMessage is shown to users when no better message is available.
const DefaultErrorMessage = "Sorry, there was an error connecting you to the application."

// renderError turns a failed launch into the result shown to the user.
//
// With a return URL the consumer gets lti_errormsg (and lti_errorlog outside
// debug mode). Without one, debug mode shows the reason and otherwise the
// generic message.
func renderError(returnURL, message, reason string, debug bool) Result {
	if message == "" {
		message = DefaultErrorMessage
	}
	if returnURL != "" {
		target := returnURL
		if strings.Contains(target, "?") {
			target += "&"
		} else {
			target += "?"
		}
		if debug && reason != "" {
			target += "lti_errormsg=" + url.QueryEscape("Debug error: "+reason)
		} else {
			target += "lti_errormsg=" + url.QueryEscape(message)
			if reason != "" {
				target += "&lti_errorlog=" + url.QueryEscape("Debug error: "+reason)
			}
		}
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return Result{Kind: Redirect, URL: target, Message: message, Reason: reason}
		}
		return Result{Kind: Error, Message: target, Reason: reason}
	}
	if debug && reason != "" {
		return Result{Kind: Error, Message: reason, Reason: reason}
	}
	return Result{Kind: Error, Message: message, Reason: reason}
}
