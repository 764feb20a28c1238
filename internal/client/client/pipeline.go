package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/dmitrijs2005/classdesk/internal/metrics"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// DefaultTimeout bounds every outgoing call.
const DefaultTimeout = 30 * time.Second

const maxResponseBody = 4 << 20

// DefaultRedirectExemptions are path fragments whose 401/403 answers are
// returned to the caller without clearing the session, so password forms can
// show the error inline.
var DefaultRedirectExemptions = []string{"change-password", "reset-password-with-code", "reset-password"}

// TokenStore is the part of the credential store the pipeline needs.
type TokenStore interface {
	Token(ctx context.Context) (string, bool)
	ClearSession(ctx context.Context) error
}

// Navigator moves the client between views.
type Navigator interface {
	Current() string
	Navigate(target string)
}

// UnauthorizedFunc is notified after the pipeline cleared the session.
type UnauthorizedFunc func(ctx context.Context, path string)

// Request describes one backend call.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	// Public calls carry no bearer token, and their 401/403 answers say
	// nothing about the session.
	Public bool
	// KeepSession returns 401/403 answers to the caller without clearing
	// the session or redirecting.
	KeepSession bool
}

// Pipeline is the single HTTP entry point to the backend. It attaches the
// bearer token, bounds each call with a timeout and reacts to 401/403
// answers by clearing the session and sending the user to the login view.
type Pipeline struct {
	baseURL    *url.URL
	httpClient *http.Client
	store      TokenStore
	log        logging.Logger
	metrics    metrics.Recorder
	limiter    *rate.Limiter
	timeout    time.Duration
	exemptions []string

	mu        sync.RWMutex
	nav       Navigator
	listeners []UnauthorizedFunc
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithHTTPClient(c *http.Client) Option {
	return func(p *Pipeline) { p.httpClient = c }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRateLimit throttles outgoing calls to rps requests per second.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(p *Pipeline) {
		if rps <= 0 {
			p.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithRedirectExemptions(fragments ...string) Option {
	return func(p *Pipeline) { p.exemptions = fragments }
}

func WithNavigator(nav Navigator) Option {
	return func(p *Pipeline) { p.nav = nav }
}

// NewPipeline builds a Pipeline for the backend at baseURL.
func NewPipeline(baseURL string, store TokenStore, opts ...Option) (*Pipeline, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}

	p := &Pipeline{
		baseURL:    u,
		httpClient: &http.Client{},
		store:      store,
		log:        logging.Discard(),
		metrics:    metrics.Nop{},
		timeout:    DefaultTimeout,
		exemptions: DefaultRedirectExemptions,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "pipeline")
	return p, nil
}

// SetNavigator installs the navigator used for forced redirects. The route
// guard is built after the pipeline, hence the setter.
func (p *Pipeline) SetNavigator(nav Navigator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nav = nav
}

// OnUnauthorized registers fn to run after a forced session clear.
func (p *Pipeline) OnUnauthorized(fn UnauthorizedFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// NormalizePath returns p with exactly one leading slash.
func NormalizePath(p string) string {
	return "/" + strings.TrimLeft(strings.TrimSpace(p), "/")
}

// LoginLocation is the login view carrying from as the return path.
func LoginLocation(from string) string {
	if from == "" {
		return common.LoginPath
	}
	return common.LoginPath + "?" + url.Values{common.RedirectParam: {from}}.Encode()
}

// IsLoginView reports whether location points at the login view.
func IsLoginView(location string) bool {
	path, _, _ := strings.Cut(location, "?")
	return path == common.LoginPath
}

// Do sends req and decodes a successful JSON answer into out (when out is
// not nil). Failures are *APIError values.
func (p *Pipeline) Do(ctx context.Context, req Request, out any) error {
	path := NormalizePath(req.Path)
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return newNetworkError(path, false, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := p.newHTTPRequest(ctx, method, path, req)
	if err != nil {
		return err
	}
	requestID := httpReq.Header.Get(common.RequestIDHeaderName)
	log := p.log.With("request_id", requestID, "method", method, "path", path)

	start := time.Now()
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		timeout := isTimeout(err)
		p.metrics.RecordTransportError(timeout)
		log.Warn(ctx, "request failed", "timeout", timeout, "error", err)
		return newNetworkError(path, timeout, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		timeout := isTimeout(err)
		p.metrics.RecordTransportError(timeout)
		return newNetworkError(path, timeout, err)
	}
	elapsed := time.Since(start)
	p.metrics.RecordRequest(method, resp.StatusCode, elapsed)
	log.Debug(ctx, "response received", "status", resp.StatusCode, "duration", elapsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{Kind: KindServer, Status: resp.StatusCode, Message: "malformed response", Path: path, Err: err}
		}
		return nil
	}

	apiErr := newStatusError(path, resp.StatusCode, body)
	if apiErr.Kind == KindAuth && !req.Public && !req.KeepSession {
		p.handleUnauthorized(ctx, path)
	}
	return apiErr
}

func (p *Pipeline) newHTTPRequest(ctx context.Context, method, path string, req Request) (*http.Request, error) {
	path, rawQuery, _ := strings.Cut(path, "?")
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("parse %s query: %w", path, err)
	}
	for k, vs := range req.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	u := *p.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query.Encode()

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(common.RequestIDHeaderName, uuid.NewString())

	if !req.Public && p.store != nil {
		if token, ok := p.store.Token(ctx); ok {
			httpReq.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+token)
		}
	}
	return httpReq, nil
}

func (p *Pipeline) exempt(path string) bool {
	for _, fragment := range p.exemptions {
		if fragment != "" && strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

// handleUnauthorized clears the session after a rejected credential and
// sends the user to the login view, unless path is a password flow.
func (p *Pipeline) handleUnauthorized(ctx context.Context, path string) {
	if p.exempt(path) {
		p.log.Debug(ctx, "auth failure on password flow, leaving session intact", "path", path)
		return
	}

	// the request context may already be near its deadline
	clearCtx := context.WithoutCancel(ctx)
	if p.store != nil {
		if err := p.store.ClearSession(clearCtx); err != nil {
			p.log.Error(ctx, "failed to clear credentials", "error", err)
		}
	}
	p.metrics.RecordForcedLogout()
	p.log.Info(ctx, "session rejected by server, cleared", "path", path)

	p.mu.RLock()
	nav := p.nav
	listeners := append([]UnauthorizedFunc(nil), p.listeners...)
	p.mu.RUnlock()

	for _, fn := range listeners {
		fn(clearCtx, path)
	}

	if nav == nil {
		return
	}
	current := nav.Current()
	if IsLoginView(current) {
		return
	}
	nav.Navigate(LoginLocation(current))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
