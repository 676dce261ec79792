package homer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/goccy/go-json"

	"github.com/sweeney/homer-callflow/internal/capture"
	"github.com/sweeney/homer-callflow/internal/metrics"
)

const (
	opAuth        = "auth"
	opSearch      = "search"
	opTransaction = "transaction"

	errorBodyLimit = 500
)

// Options configures a Client.
type Options struct {
	URL      string
	Username string
	Password string
	// SearchLimit caps the records Homer returns per search. Zero means 200.
	SearchLimit        int
	SearchTimeout      time.Duration
	TransactionTimeout time.Duration
	InsecureSkipVerify bool
}

// Option customizes a Client.
type Option func(*Client)

// WithTokenProvider replaces the username/password session login.
func WithTokenProvider(tp TokenProvider) Option {
	return func(c *Client) {
		c.tokens = tp
	}
}

// Client talks to the Homer v3 REST API.
type Client struct {
	http   *resty.Client
	tokens TokenProvider
	opts   Options
}

// New creates a Client for the Homer instance at opts.URL.
func New(opts Options, options ...Option) *Client {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 200
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = 60 * time.Second
	}
	if opts.TransactionTimeout <= 0 {
		opts.TransactionTimeout = 30 * time.Second
	}

	hc := resty.New().
		SetBaseURL(strings.TrimRight(opts.URL, "/")).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if opts.InsecureSkipVerify {
		hc.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // self-signed Homer installs
	}

	c := &Client{http: hc, opts: opts}
	for _, o := range options {
		o(c)
	}
	if c.tokens == nil {
		c.tokens = NewSessionTokens(hc, opts.Username, opts.Password)
	}
	return c
}

// Filters are the search fields Homer can match server-side. Blank fields
// are not sent.
type Filters struct {
	CallID        string
	FromUser      string
	ToUser        string
	Method        string
	SourceIP      string
	DestinationIP string
	FromTag       string
	ToTag         string
}

// OnlyCallID reports whether the call id is the single active filter.
func (f Filters) OnlyCallID() bool {
	if strings.TrimSpace(f.CallID) == "" {
		return false
	}
	for _, v := range []string{f.FromUser, f.ToUser, f.Method, f.SourceIP, f.DestinationIP, f.FromTag, f.ToTag} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

type filter struct {
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Func  *string `json:"func"`
	Type  string  `json:"type"`
	HepID int     `json:"hepid"`
}

// native renders the filters in Homer's data_header form. An empty slice
// matches every call.
func (f Filters) native() []filter {
	fields := []struct{ name, value string }{
		{"data_header.callid", f.CallID},
		{"data_header.from_user", f.FromUser},
		{"data_header.to_user", f.ToUser},
		{"data_header.method", f.Method},
		{"data_header.src_ip", f.SourceIP},
		{"data_header.dst_ip", f.DestinationIP},
		{"data_header.from_tag", f.FromTag},
		{"data_header.to_tag", f.ToTag},
	}
	out := []filter{}
	for _, fd := range fields {
		if v := strings.TrimSpace(fd.value); v != "" {
			out = append(out, filter{Name: fd.name, Value: v, Type: "string", HepID: 1})
		}
	}
	return out
}

type timeRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

func localTimezone() nameValue { return nameValue{Name: "Local", Value: -180} }

type searchConfig struct {
	ProtocolID      nameValue `json:"protocol_id"`
	ProtocolProfile nameValue `json:"protocol_profile"`
	SearchButton    bool      `json:"searchbutton"`
	Title           string    `json:"title"`
}

type searchParam struct {
	Transaction struct{}            `json:"transaction"`
	Limit       int                 `json:"limit"`
	OrLogic     bool                `json:"orlogic"`
	Search      map[string][]filter `json:"search"`
	Location    struct{}            `json:"location"`
	Timezone    nameValue           `json:"timezone"`
}

type searchRequest struct {
	Config    searchConfig `json:"config"`
	Param     searchParam  `json:"param"`
	Timestamp timeRange    `json:"timestamp"`
	Fields    []string     `json:"fields"`
}

// Search returns the SIP records matching f between fromMS and toMS, in the
// order Homer sent them, and the round-trip latency.
func (c *Client) Search(ctx context.Context, f Filters, fromMS, toMS int64) ([]capture.Record, time.Duration, error) {
	body := searchRequest{
		Config: searchConfig{
			ProtocolID:      nameValue{Name: "SIP", Value: 1},
			ProtocolProfile: nameValue{Name: "call", Value: "call"},
			Title:           "CALL 2 SIP SEARCH",
		},
		Param: searchParam{
			Limit:    c.opts.SearchLimit,
			Search:   map[string][]filter{"1_call": f.native()},
			Timezone: localTimezone(),
		},
		Timestamp: timeRange{From: fromMS, To: toMS},
		Fields:    []string{},
	}

	raw, latency, err := c.post(ctx, opSearch, "/api/v3/search/call/data", c.opts.SearchTimeout, body)
	if err != nil {
		return nil, latency, err
	}
	records, err := capture.DecodeSearch(raw)
	if err != nil {
		return nil, latency, fmt.Errorf("decoding homer search response: %w", err)
	}
	return records, latency, nil
}

type transactionCall struct {
	ID     int64    `json:"id"`
	CallID []string `json:"callid"`
}

type transactionParam struct {
	Transaction struct {
		Call         bool `json:"call"`
		Registration bool `json:"registration"`
		Rest         bool `json:"rest"`
	} `json:"transaction"`
	Limit    int                        `json:"limit"`
	OrLogic  bool                       `json:"orlogic"`
	Search   map[string]transactionCall `json:"search"`
	Location struct{}                   `json:"location"`
	Timezone nameValue                  `json:"timezone"`
}

type transactionRequest struct {
	Param     transactionParam `json:"param"`
	Timestamp timeRange        `json:"timestamp"`
}

// Transaction fetches every captured message of callID within windowMS
// either side of centerMS. anchorID is the representative record id, or 0
// when unknown. The returned Transaction keeps the response body verbatim.
func (c *Client) Transaction(ctx context.Context, callID string, anchorID, centerMS, windowMS int64) (capture.Transaction, time.Duration, error) {
	var param transactionParam
	param.Transaction.Call = true
	param.Limit = 200
	param.Search = map[string]transactionCall{"1_call": {ID: anchorID, CallID: []string{callID}}}
	param.Timezone = localTimezone()

	body := transactionRequest{
		Param:     param,
		Timestamp: timeRange{From: centerMS - windowMS, To: centerMS + windowMS},
	}

	raw, latency, err := c.post(ctx, opTransaction, "/api/v3/call/transaction", c.opts.TransactionTimeout, body)
	if err != nil {
		return capture.Transaction{}, latency, err
	}
	tx, err := capture.DecodeTransaction(raw)
	if err != nil {
		return capture.Transaction{}, latency, fmt.Errorf("decoding homer transaction response: %w", err)
	}
	return tx, latency, nil
}

// post sends an authenticated JSON request and returns the response body.
// A 401 drops the cached token so the next call logs in again.
func (c *Client) post(ctx context.Context, op, path string, timeout time.Duration, body any) ([]byte, time.Duration, error) {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("homer %s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetBody(body).
		Post(path)
	latency := time.Since(start)
	if err != nil {
		observe(op, start, err)
		return nil, latency, fmt.Errorf("homer %s: %w", op, err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		err := &StatusError{Operation: op, Code: resp.StatusCode(), Body: snippet(resp.Body())}
		observe(op, start, err)
		return nil, latency, err
	}
	observe(op, start, nil)
	return resp.Body(), latency, nil
}

// StatusError is returned when Homer answers with a non-2xx status.
type StatusError struct {
	Operation string
	Code      int
	Body      string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("homer %s returned HTTP %d: %s", e.Operation, e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

func snippet(b []byte) string {
	s := string(b)
	if len(s) > errorBodyLimit {
		s = s[:errorBodyLimit]
	}
	return s
}

func observe(op string, start time.Time, err error) {
	metrics.BackendRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.BackendRequestsTotal.WithLabelValues(op, result).Inc()
}
