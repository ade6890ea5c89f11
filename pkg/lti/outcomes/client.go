// pkg/lti/outcomes/client.go
package outcomes

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mind-engage/mindengage-lti-provider/internal/logging"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/oauth1"
)

// ErrNoService is returned when the link offers no service able to carry
// the request.
var ErrNoService = errors.New("outcomes: service not available")

// maxResponseBytes bounds how much of a consumer response is read.
const maxResponseBytes = 4 << 20

// ServiceError reports a response whose status was not success.
type ServiceError struct {
	MessageType string
	HTTPStatus  int
	CodeMajor   string
	Description string
}

func (e *ServiceError) Error() string {
	if e.CodeMajor == "" {
		return fmt.Sprintf("outcomes: %s: HTTP %d", e.MessageType, e.HTTPStatus)
	}
	return fmt.Sprintf("outcomes: %s: %s %s", e.MessageType, e.CodeMajor, e.Description)
}

// Response carries what a consumer returned for a service request.
type Response struct {
	// Value is the result or setting read, empty for writes and deletes.
	Value string
	// Body is the raw response document.
	Body []byte
}

// Client sends signed service requests to tool consumers on behalf of
// resource links. Requests are signed with the secret of the consumer that
// owns the link supplying the service URL.
type Client struct {
	store  lti.Store
	http   *http.Client
	logger *slog.Logger
}

// NewClient returns a client. A nil httpClient gets a 30 second timeout.
func NewClient(store lti.Store, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{store: store, http: httpClient, logger: logging.Get()}
}

// WithLogger replaces the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	if l != nil {
		c.logger = l
	}
	return c
}

func (c *Client) consumer(ctx context.Context, l *lti.ResourceLink) (oauth1.Consumer, error) {
	tc, err := c.store.LoadToolConsumer(ctx, l.ConsumerKey)
	if err != nil {
		return oauth1.Consumer{}, fmt.Errorf("outcomes: load consumer %q: %w", l.ConsumerKey, err)
	}
	return oauth1.Consumer{Key: tc.Key, Secret: tc.Secret}, nil
}

/* ------------------------------- transport ------------------------------ */

// doExtension posts a form-encoded extension request. Parameters already
// present on the URL query are signed but not repeated in the body.
func (c *Client) doExtension(ctx context.Context, l *lti.ResourceLink, messageType, serviceURL string, params url.Values) (*extResponse, []byte, error) {
	if serviceURL == "" {
		return nil, nil, ErrNoService
	}
	consumer, err := c.consumer(ctx, l)
	if err != nil {
		return nil, nil, err
	}

	var queryNames []string
	if u, err := url.Parse(serviceURL); err == nil {
		for name := range u.Query() {
			queryNames = append(queryNames, name)
		}
	}
	params.Set("lti_version", lti.LTIVersion1)
	params.Set("lti_message_type", messageType)

	req := oauth1.FromConsumerAndToken(consumer, nil, http.MethodPost, serviceURL, params)
	req.Sign(oauth1.HMACSHA1{}, consumer, nil)
	body := req.PostBody(queryNames...)

	raw, status, err := c.post(ctx, serviceURL, "application/x-www-form-urlencoded", "", []byte(body))
	if err != nil {
		return nil, nil, fmt.Errorf("outcomes: %s: %w", messageType, err)
	}
	var resp extResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, raw, &ServiceError{MessageType: messageType, HTTPStatus: status, Description: "unparseable response"}
	}
	if resp.Status.CodeMajor != "Success" {
		return nil, raw, &ServiceError{
			MessageType: messageType, HTTPStatus: status,
			CodeMajor: resp.Status.CodeMajor, Description: resp.Status.Description,
		}
	}
	return &resp, raw, nil
}

// doPOX posts an LTI 1.1 POX envelope signed with oauth_body_hash.
func (c *Client) doPOX(ctx context.Context, l *lti.ResourceLink, operation, serviceURL string, op poxOperation) (*poxResponse, []byte, error) {
	consumer, err := c.consumer(ctx, l)
	if err != nil {
		return nil, nil, err
	}

	env := poxRequest{Xmlns: poxNamespace}
	env.Header.Version = "V1.0"
	env.Header.MessageID = uuid.NewString()
	op.XMLName = xml.Name{Local: operation + "Request"}
	env.Body.Op = op
	doc, err := xml.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("outcomes: encode %s: %w", operation, err)
	}
	doc = append([]byte(xml.Header), doc...)

	params := url.Values{}
	params.Set(oauth1.ParamBodyHash, oauth1.BodyHash(doc))
	req := oauth1.FromConsumerAndToken(consumer, nil, http.MethodPost, serviceURL, params)
	req.Sign(oauth1.HMACSHA1{}, consumer, nil)

	raw, status, err := c.post(ctx, serviceURL, "application/xml", req.AuthorizationHeader(""), doc)
	if err != nil {
		return nil, nil, fmt.Errorf("outcomes: %s: %w", operation, err)
	}
	var resp poxResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, raw, &ServiceError{MessageType: operation, HTTPStatus: status, Description: "unparseable response"}
	}
	if resp.Status.CodeMajor != "success" {
		return nil, raw, &ServiceError{
			MessageType: operation, HTTPStatus: status,
			CodeMajor: resp.Status.CodeMajor, Description: resp.Status.Description,
		}
	}
	return &resp, raw, nil
}

func (c *Client) post(ctx context.Context, target, contentType, authorization string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, res.StatusCode, err
	}
	c.logger.Debug("lti service call",
		"url", redactQuery(target), "status", res.StatusCode, "duration", time.Since(start))
	if res.StatusCode/100 != 2 {
		return nil, res.StatusCode, fmt.Errorf("%s", res.Status)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, res.StatusCode, errors.New("empty response")
	}
	return raw, res.StatusCode, nil
}

func redactQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
