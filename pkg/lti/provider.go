// pkg/lti/provider.go
package lti

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-lti-provider/internal/logging"
	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
)

// Observer receives launch measurements. internal/metrics implements it.
type Observer interface {
	ObserveVerify(d time.Duration)
	ObserveLaunch(outcome string, kind ErrorKind)
}

// Options configure a ToolProvider.
type Options struct {
	// AllowSharing permits custom_share_key redemption.
	AllowSharing bool
	// DefaultEmail overrides the consumer's default email when non-empty.
	DefaultEmail string
	// TimestampThreshold bounds the accepted clock skew (default 300s).
	TimestampThreshold time.Duration
	// Constraints are checked on every launch, in addition to those added
	// with SetParameterConstraint.
	Constraints map[string]ParameterConstraint

	Callbacks Callbacks
	Logger    *slog.Logger
	Observer  Observer
	Now       func() time.Time
}

// ToolProvider authenticates one LTI launch. Create one per request; after
// Authenticate the exported fields describe the launch.
type ToolProvider struct {
	store Store
	opts  Options

	constraintNames []string
	constraints     map[string]ParameterConstraint

	logger *slog.Logger

	Request  LaunchRequest
	Consumer *ToolConsumer
	// ResourceLink is the active link: the primary link when sharing.
	ResourceLink *ResourceLink
	User         *User

	ReturnURL string
	DebugMode bool
	Message   string
	Reason    string
	Err       *LaunchError
}

// NewToolProvider returns a provider bound to store.
func NewToolProvider(store Store, opts Options) *ToolProvider {
	tp := &ToolProvider{
		store:       store,
		opts:        opts,
		constraints: map[string]ParameterConstraint{},
		logger:      opts.Logger,
	}
	if tp.logger == nil {
		tp.logger = logging.Get()
	}
	names := make([]string, 0, len(opts.Constraints))
	for name := range opts.Constraints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := opts.Constraints[name]
		tp.SetParameterConstraint(name, c.Required, c.MaxLength)
	}
	return tp
}

// SetParameterConstraint registers a check for a launch parameter. Blank
// names are ignored; re-registering a name replaces its constraint.
func (tp *ToolProvider) SetParameterConstraint(name string, required bool, maxLength int) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if _, ok := tp.constraints[name]; !ok {
		tp.constraintNames = append(tp.constraintNames, name)
	}
	tp.constraints[name] = ParameterConstraint{Required: required, MaxLength: maxLength}
}

// Consumers lists every registered tool consumer.
func (tp *ToolProvider) Consumers(ctx context.Context) ([]*ToolConsumer, error) {
	return tp.store.ListToolConsumers(ctx)
}

// Execute authenticates req, runs the callbacks and renders failures.
func (tp *ToolProvider) Execute(ctx context.Context, req LaunchRequest) Result {
	res := tp.Authenticate(ctx, req)
	cb := tp.opts.Callbacks
	if res.Kind == Proceed && cb != nil {
		res = cb.OnConnect(ctx, tp)
		switch res.Kind {
		case Proceed:
			if res.Consumer == nil {
				res.Consumer, res.ResourceLink, res.User = tp.Consumer, tp.ResourceLink, tp.User
			}
		case Error:
			if res.Message != "" {
				tp.Message = res.Message
			}
			if res.Reason != "" {
				tp.Reason = res.Reason
			}
		}
	}
	if res.Kind != Error {
		return res
	}
	if cb != nil {
		if handled, ok := cb.OnError(ctx, tp); ok {
			return handled
		}
	}
	out := renderError(tp.ReturnURL, tp.Message, tp.Reason, tp.DebugMode)
	out.Err = tp.Err
	return out
}

// Authenticate verifies req and, when it is trusted, loads and updates the
// consumer, resource link and user. Nothing but the nonce is persisted
// unless the launch is accepted.
func (tp *ToolProvider) Authenticate(ctx context.Context, req LaunchRequest) Result {
	tp.Request = req
	tp.Consumer, tp.ResourceLink, tp.User, tp.Err = nil, nil, nil, nil
	tp.ReturnURL = req.Get("launch_presentation_return_url")
	tp.DebugMode = strings.EqualFold(req.Get("custom_debug"), "true")
	tp.Message = DefaultErrorMessage
	tp.Reason = ""

	if le := tp.authenticate(ctx); le != nil {
		tp.Err = le
		if tp.DebugMode || !le.debugOnly {
			tp.Reason = le.Reason
		}
		tp.observe("rejected", le.Kind)
		tp.logger.Warn("lti launch rejected",
			"consumer", req.Get(oauth1.ParamConsumerKey),
			"resource_link", req.Get("resource_link_id"),
			"kind", le.Kind, "reason", le.Reason, "err", le.Err)
		return Result{Kind: Error, Message: tp.Message, Reason: tp.Reason, Err: le}
	}
	tp.observe("accepted", "")
	tp.logger.Info("lti launch accepted",
		"consumer", tp.Consumer.Key, "resource_link", tp.ResourceLink.ID, "user", tp.User.ID)
	return ProceedWith(tp.Consumer, tp.ResourceLink, tp.User)
}

func (tp *ToolProvider) authenticate(ctx context.Context) *LaunchError {
	req := tp.Request
	now := tp.now()

	if !req.Has(oauth1.ParamConsumerKey) ||
		req.Get("lti_message_type") != LaunchMessageType ||
		req.Get("lti_version") != LTIVersion1 ||
		req.Trimmed("resource_link_id") == "" {
		return rejectDebug(ProtocolError, "Missing or invalid launch parameters.")
	}

	consumer, err := tp.store.LoadToolConsumer(ctx, req.Get(oauth1.ParamConsumerKey))
	if errors.Is(err, ErrNotFound) {
		return rejectDebug(ConsumerRejected, "Invalid consumer key.")
	}
	if err != nil {
		return storageFailure("load consumer", err)
	}
	tp.Consumer = consumer
	saveConsumer := consumer.touch(now)

	if le := tp.verify(ctx, now); le != nil {
		return le
	}

	if consumer.Protected {
		if consumer.ConsumerGUID != "" {
			guid := req.Get("tool_consumer_instance_guid")
			if guid == "" || guid != consumer.ConsumerGUID {
				return rejectDebug(ConsumerRejected, "Request is from an invalid tool consumer.")
			}
		} else if !req.Has("tool_consumer_instance_guid") {
			return rejectDebug(ConsumerRejected, "A tool consumer GUID must be included in the launch request.")
		}
	}
	if reason := consumer.Availability(now); reason != "" {
		return rejectDebug(ConsumerRejected, reason)
	}

	if invalid := tp.invalidParameters(); len(invalid) > 0 {
		return reject(ParameterConstraintViolation, "Invalid parameter(s): "+strings.Join(invalid, ", ")+".")
	}

	uow := &unitOfWork{}

	if le := tp.loadResourceLink(ctx); le != nil {
		return le
	}
	if le := tp.loadUser(ctx, uow); le != nil {
		return le
	}
	if tp.updateConsumer() {
		saveConsumer = true
	}
	if saveConsumer {
		uow.saveConsumer(consumer)
	}

	if le := tp.checkForShare(ctx, uow); le != nil {
		return le
	}
	uow.saveLink(tp.ResourceLink)

	if err := uow.commit(ctx, tp.store); err != nil {
		return storageFailure("commit launch", err)
	}
	return nil
}

// verify runs the OAuth check with a nonce store scoped to the consumer.
func (tp *ToolProvider) verify(ctx context.Context, now time.Time) *LaunchError {
	ds := &oauthStore{consumer: tp.Consumer, nonces: tp.store, now: func() time.Time { return now }}
	srv := oauth1.NewServer(ds)
	if tp.opts.TimestampThreshold > 0 {
		srv.TimestampThreshold = tp.opts.TimestampThreshold
	}
	srv.Now = func() time.Time { return now }
	srv.AddSignatureMethod(oauth1.HMACSHA1{})

	start := time.Now()
	_, _, err := srv.VerifyRequest(ctx, tp.Request.oauthRequest())
	if tp.opts.Observer != nil {
		tp.opts.Observer.ObserveVerify(time.Since(start))
	}
	if err == nil {
		return nil
	}
	kind, protocol := kindFromOAuth(err)
	if !protocol {
		return storageFailure("verify request", err)
	}
	reason := ds.reason
	if reason == "" {
		reason = "OAuth signature check failed - perhaps an incorrect secret or timestamp."
	}
	return &LaunchError{Kind: kind, Reason: reason, Err: err}
}

func (tp *ToolProvider) invalidParameters() []string {
	var invalid []string
	for _, name := range tp.constraintNames {
		c := tp.constraints[name]
		value := tp.Request.Trimmed(name)
		if c.Required && value == "" {
			invalid = append(invalid, name)
			continue
		}
		if c.MaxLength > 0 && tp.Request.Has(name) && len(value) > c.MaxLength {
			invalid = append(invalid, name)
		}
	}
	return invalid
}

// loadResourceLink loads or creates the launching link and refreshes its
// title and settings from the request.
func (tp *ToolProvider) loadResourceLink(ctx context.Context) *LaunchError {
	req := tp.Request
	id := req.Trimmed("resource_link_id")
	link, err := tp.store.LoadResourceLink(ctx, tp.Consumer.Key, id)
	if errors.Is(err, ErrNotFound) {
		link = NewResourceLink(tp.Consumer.Key, id)
	} else if err != nil {
		return storageFailure("load resource link", err)
	}
	if req.Has("context_id") {
		link.LTIContextID = req.Trimmed("context_id")
	}
	link.LTIResourceID = id

	title := req.Trimmed("context_title")
	if t := req.Trimmed("resource_link_title"); t != "" {
		if title != "" {
			title += ": "
		}
		title += t
	}
	if title == "" {
		title = "Course " + link.ID
	}
	link.Title = title

	for _, name := range settingNames {
		link.SetSetting(name, req.Get(name))
	}
	for name := range link.Settings {
		if strings.HasPrefix(name, "custom_") {
			delete(link.Settings, name)
		}
	}
	for name := range req.Params {
		if strings.HasPrefix(name, "custom_") {
			link.SetSetting(name, req.Get(name))
		}
	}
	tp.ResourceLink = link
	return nil
}

// loadUser loads or creates the launching user and reconciles its result
// sourcedid with the request.
func (tp *ToolProvider) loadUser(ctx context.Context, uow *unitOfWork) *LaunchError {
	req := tp.Request
	link := tp.ResourceLink
	uid := req.Trimmed("user_id")
	user, err := tp.store.LoadUser(ctx, link, uid)
	if errors.Is(err, ErrNotFound) {
		user = NewUser(link, uid)
	} else if err != nil {
		return storageFailure("load user", err)
	}
	user.Link = link

	user.SetNames(req.Get("lis_person_name_given"), req.Get("lis_person_name_family"), req.Get("lis_person_name_full"))
	user.SetEmail(req.Get("lis_person_contact_email_primary"), tp.defaultEmail(), tp.Consumer.IDScope)
	if req.Has("roles") {
		user.Roles = ParseRoles(req.Get("roles"))
	}

	if req.Has("lis_result_sourcedid") {
		if sid := req.Get("lis_result_sourcedid"); sid != user.LTIResultSourcedID {
			if !link.Persisted() {
				uow.saveLink(link)
			}
			user.LTIResultSourcedID = sid
			if sid != "" {
				uow.saveUser(user)
			}
		}
	} else if user.LTIResultSourcedID != "" {
		uow.deleteUser(user)
	}
	tp.User = user
	return nil
}

// updateConsumer copies consumer metadata from the request and reports
// whether anything changed.
func (tp *ToolProvider) updateConsumer() bool {
	req := tp.Request
	c := tp.Consumer
	changed := false
	set := func(field *string, value string) {
		if *field != value {
			*field = value
			changed = true
		}
	}

	set(&c.LTIVersion, req.Get("lti_version"))
	if req.Has("tool_consumer_instance_name") {
		set(&c.ConsumerName, req.Get("tool_consumer_instance_name"))
	}
	if req.Has("tool_consumer_info_product_family_code") {
		version := req.Get("tool_consumer_info_product_family_code")
		if req.Has("tool_consumer_info_version") {
			version += "-" + req.Get("tool_consumer_info_version")
		}
		set(&c.ConsumerVersion, version)
	} else if req.Has("ext_lms") && c.ConsumerName != req.Get("ext_lms") {
		set(&c.ConsumerVersion, req.Get("ext_lms"))
	}
	if req.Has("tool_consumer_instance_guid") {
		guid := req.Get("tool_consumer_instance_guid")
		if c.ConsumerGUID == "" || !c.Protected {
			set(&c.ConsumerGUID, guid)
		}
	}
	switch {
	case req.Has("launch_presentation_css_url"):
		set(&c.CSSPath, req.Get("launch_presentation_css_url"))
	case req.Has("ext_launch_presentation_css_url"):
		set(&c.CSSPath, req.Get("ext_launch_presentation_css_url"))
	default:
		set(&c.CSSPath, "")
	}
	return changed
}

func (tp *ToolProvider) defaultEmail() string {
	if tp.opts.DefaultEmail != "" {
		return tp.opts.DefaultEmail
	}
	return tp.Consumer.DefaultEmail
}

func (tp *ToolProvider) observe(outcome string, kind ErrorKind) {
	if tp.opts.Observer != nil {
		tp.opts.Observer.ObserveLaunch(outcome, kind)
	}
}

func (tp *ToolProvider) now() time.Time {
	if tp.opts.Now != nil {
		return tp.opts.Now()
	}
	return time.Now()
}
