package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/zappai-client/internal/circuitbreaker"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
	"github.com/kjstillabower/zappai-client/internal/validation"
)

// API is the ZappAI backend surface consumed by the session, poller and mutator layers.
type API interface {
	Login(ctx context.Context, username, password string) (string, error)
	Me(ctx context.Context) (*models.Session, error)
	ListLocations(ctx context.Context) ([]models.Location, error)
	GetLocation(ctx context.Context, id string) (models.Location, error)
	CreateLocation(ctx context.Context, in models.NewLocation) (models.Location, error)
	DeleteLocation(ctx context.Context, id string) error
	TriggerPastClimateDownload(ctx context.Context, id string) error
	IsModelReady(ctx context.Context, id string) (bool, error)
	ListCrops(ctx context.Context) ([]models.Crop, error)
	GetPredictions(ctx context.Context, cropName, locationID string) (models.Predictions, error)
}

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	BaseURL        string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RateLimitRPS of 0 disables the client-side limiter.
	RateLimitRPS   int
	RateLimitBurst int
	Breaker        *circuitbreaker.CircuitBreaker
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client talks to the ZappAI REST backend. The token is read from the TokenStore
// on every authenticated call.
type Client struct {
	baseURL        *url.URL
	timeout        time.Duration
	http           *http.Client
	tokens         tokenstore.Store
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	limiter        *rate.Limiter
	breaker        *circuitbreaker.CircuitBreaker
	logger         *zap.Logger

	hookMu        sync.RWMutex
	onAuthInvalid func(context.Context)
}

// New creates a Client. tokens is required.
func New(opts Options, tokens tokenstore.Store) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("client: token store is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8000"
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("client: invalid base URL %q", opts.BaseURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = opts.RetryBaseDelay
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		baseURL:        base,
		timeout:        opts.Timeout,
		http:           httpClient,
		tokens:         tokens,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		breaker:        opts.Breaker,
		logger:         observability.OrNop(opts.Logger),
	}
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
	}
	return c, nil
}

// SetAuthInvalidHook installs fn to run whenever an authenticated call receives 401.
// It runs synchronously before the call returns ErrAuthInvalid.
func (c *Client) SetAuthInvalidHook(fn func(context.Context)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.onAuthInvalid = fn
}

// IsBreakerFailure reports whether err should count against the circuit breaker.
// Credential rejections and missing tokens are the caller's problem, not the backend's.
func IsBreakerFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrAuthInvalid) && !errors.Is(err, ErrNoToken) && !errors.Is(err, ErrNotFound)
}

type (
	correlationKey struct{}
	tokenKey       struct{}
)

// WithToken makes authenticated calls made with ctx use token instead of the
// TokenStore value. Used to verify a token before it is persisted.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// WithCorrelationID pins the X-Correlation-ID used for calls made with ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// call describes one logical backend request.
type call struct {
	op          string // metric label, also TransportError.Op
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	auth        bool
	retry       bool
	out         any
	// accept lists non-2xx status codes that are returned as (status, nil) instead of errors.
	accept []int
}

type outcome struct {
	status int
}

// Login exchanges credentials for an access token. A 401 returns ErrAuthInvalid
// without firing the auth-invalid hook.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var resp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	_, err := c.do(ctx, call{
		op:          "login",
		method:      http.MethodPost,
		path:        "/api/auth/",
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		out:         &resp,
	})
	if err != nil {
		return "", err
	}
	if err := validation.AccessToken(resp.AccessToken); err != nil {
		return "", c.fail(ctx, "login", transportErr("login", http.StatusOK, err), false)
	}
	return resp.AccessToken, nil
}

// Me resolves the identity behind the stored token.
func (c *Client) Me(ctx context.Context) (*models.Session, error) {
	var s models.Session
	if _, err := c.do(ctx, call{op: "me", method: http.MethodGet, path: "/api/auth/me", auth: true, retry: true, out: &s}); err != nil {
		return nil, err
	}
	if err := validation.Session(s); err != nil {
		return nil, c.fail(ctx, "me", transportErr("me", http.StatusOK, err), true)
	}
	return &s, nil
}

// ListLocations returns every visible location.
func (c *Client) ListLocations(ctx context.Context) ([]models.Location, error) {
	var list []models.Location
	if _, err := c.do(ctx, call{op: "list_locations", method: http.MethodGet, path: "/api/locations", auth: true, retry: true, out: &list}); err != nil {
		return nil, err
	}
	if err := validation.Locations(list); err != nil {
		return nil, c.fail(ctx, "list_locations", transportErr("list_locations", http.StatusOK, err), true)
	}
	if list == nil {
		list = []models.Location{}
	}
	return list, nil
}

// GetLocation returns one location. A missing id yields a TransportError wrapping ErrNotFound.
func (c *Client) GetLocation(ctx context.Context, id string) (models.Location, error) {
	var loc models.Location
	if _, err := c.do(ctx, call{op: "get_location", method: http.MethodGet, path: "/api/locations/" + url.PathEscape(id), auth: true, retry: true, out: &loc}); err != nil {
		return models.Location{}, err
	}
	if err := validation.Location(loc); err != nil {
		return models.Location{}, c.fail(ctx, "get_location", transportErr("get_location", http.StatusOK, err), true)
	}
	return loc, nil
}

// CreateLocation validates in and creates the location. Invalid input returns
// validation.ErrInvalidLocation without a network call.
func (c *Client) CreateLocation(ctx context.Context, in models.NewLocation) (models.Location, error) {
	clean, err := validation.NewLocation(in)
	if err != nil {
		return models.Location{}, err
	}
	body, err := json.Marshal(clean)
	if err != nil {
		return models.Location{}, fmt.Errorf("encode location: %w", err)
	}
	var loc models.Location
	if _, err := c.do(ctx, call{
		op:          "create_location",
		method:      http.MethodPost,
		path:        "/api/locations",
		body:        body,
		contentType: "application/json",
		auth:        true,
		out:         &loc,
	}); err != nil {
		return models.Location{}, err
	}
	if err := validation.Location(loc); err != nil {
		return models.Location{}, c.fail(ctx, "create_location", transportErr("create_location", http.StatusOK, err), true)
	}
	return loc, nil
}

// DeleteLocation deletes a location. Not retried.
func (c *Client) DeleteLocation(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "delete_location", method: http.MethodDelete, path: "/api/locations/" + url.PathEscape(id), auth: true})
	return err
}

// TriggerPastClimateDownload starts the server-side past climate download job.
// It returns once the job is accepted, not when it completes. Not retried.
func (c *Client) TriggerPastClimateDownload(ctx context.Context, id string) error {
	_, err := c.do(ctx, call{op: "trigger_download", method: http.MethodGet, path: "/api/locations/past_climate_data/" + url.PathEscape(id), auth: true})
	return err
}

// IsModelReady reports whether the climate generative model exists for the location.
// The backend answers 404 for "not ready", which is not an error here.
func (c *Client) IsModelReady(ctx context.Context, id string) (bool, error) {
	res, err := c.do(ctx, call{
		op:     "is_model_ready",
		method: http.MethodGet,
		path:   "/api/locations/" + url.PathEscape(id) + "/is_climate_generative_model_ready",
		auth:   true,
		retry:  true,
		accept: []int{http.StatusNotFound},
	})
	if err != nil {
		return false, err
	}
	return res.status != http.StatusNotFound, nil
}

// ListCrops returns the crops the backend can predict for.
func (c *Client) ListCrops(ctx context.Context) ([]models.Crop, error) {
	var list []models.Crop
	if _, err := c.do(ctx, call{op: "list_crops", method: http.MethodGet, path: "/api/crops", auth: true, retry: true, out: &list}); err != nil {
		return nil, err
	}
	if err := validation.Crops(list); err != nil {
		return nil, c.fail(ctx, "list_crops", transportErr("list_crops", http.StatusOK, err), true)
	}
	return list, nil
}

// GetPredictions fetches the opaque prediction payload for a crop at a location.
func (c *Client) GetPredictions(ctx context.Context, cropName, locationID string) (models.Predictions, error) {
	q := url.Values{}
	q.Set("crop_name", cropName)
	q.Set("location_id", locationID)
	var p models.Predictions
	if _, err := c.do(ctx, call{op: "get_predictions", method: http.MethodGet, path: "/api/predictions", query: q, auth: true, retry: true, out: &p}); err != nil {
		return models.Predictions{}, err
	}
	if err := validation.Predictions(p); err != nil {
		return models.Predictions{}, c.fail(ctx, "get_predictions", transportErr("get_predictions", http.StatusOK, err), true)
	}
	return p, nil
}

// do runs a logical call: token lookup, retries with backoff, error mapping and the
// auth-invalid hook. One correlation id is used for every attempt.
func (c *Client) do(ctx context.Context, cl call) (outcome, error) {
	var token string
	if cl.auth {
		tok, err := c.token(ctx)
		if err != nil {
			return outcome{}, c.fail(ctx, cl.op, err, false)
		}
		token = tok
	}

	corrID := correlationID(ctx)
	attempts := 1
	if cl.retry {
		attempts = c.retryAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			observability.APIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			c.logger.Debug("retrying backend call",
				zap.String("op", cl.op),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.String("correlation_id", corrID),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return outcome{}, c.fail(ctx, cl.op, transportErr(cl.op, 0, ctx.Err()), cl.auth)
			case <-time.After(delay):
			}
		}

		res, err := c.attempt(ctx, cl, token, corrID)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !c.isRetryable(ctx, err) {
			break
		}
	}
	return outcome{}, c.fail(ctx, cl.op, lastErr, cl.auth)
}

func (c *Client) token(ctx context.Context) (string, error) {
	if tok, ok := ctx.Value(tokenKey{}).(string); ok {
		if tok == "" {
			return "", ErrNoToken
		}
		return tok, nil
	}
	tok, ok, err := c.tokens.Read(ctx)
	if err != nil {
		return "", transportErr("read_token", 0, fmt.Errorf("%w: %w", errTokenStore, err))
	}
	if !ok || tok == "" {
		return "", ErrNoToken
	}
	return tok, nil
}

// fail logs and counts err, and fires the auth-invalid hook for authenticated 401s.
func (c *Client) fail(ctx context.Context, op string, err error, authenticated bool) error {
	category := CategorizeError(err)
	observability.APIErrorsTotal.WithLabelValues(string(category)).Inc()

	if errors.Is(err, ErrAuthInvalid) && authenticated {
		c.logger.Info("backend rejected access token", zap.String("op", op))
		c.hookMu.RLock()
		hook := c.onAuthInvalid
		c.hookMu.RUnlock()
		if hook != nil {
			hook(ctx)
		}
		return err
	}
	if errors.Is(err, ErrNoToken) || errors.Is(err, ErrAuthInvalid) {
		return err
	}
	c.logger.Warn("backend call failed",
		zap.String("op", op),
		zap.String("category", string(category)),
		zap.Error(err),
	)
	return err
}

func (c *Client) attempt(ctx context.Context, cl call, token, corrID string) (outcome, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return outcome{}, transportErr(cl.op, 0, fmt.Errorf("rate limiter: %w", err))
		}
	}
	if c.breaker == nil {
		return c.send(ctx, cl, token, corrID)
	}

	var res outcome
	err := c.breaker.Call(ctx, func() error {
		var sendErr error
		res, sendErr = c.send(ctx, cl, token, corrID)
		return sendErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return outcome{}, transportErr(cl.op, 0, err)
	}
	return res, err
}

func (c *Client) send(ctx context.Context, cl call, token, corrID string) (outcome, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, cl, token, corrID)
	if err != nil {
		observability.APICallsTotal.WithLabelValues(cl.op, "error").Inc()
		return outcome{}, transportErr(cl.op, 0, fmt.Errorf("build request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.APICallsTotal.WithLabelValues(cl.op, "error").Inc()
		observability.APIDuration.WithLabelValues(cl.op, "error").Observe(duration)
		return outcome{}, transportErr(cl.op, 0, fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := observability.StatusLabel(resp.StatusCode)
	observability.APICallsTotal.WithLabelValues(cl.op, status).Inc()
	observability.APIDuration.WithLabelValues(cl.op, status).Observe(duration)

	for _, code := range cl.accept {
		if resp.StatusCode == code {
			_, _ = io.Copy(io.Discard, resp.Body)
			return outcome{status: resp.StatusCode}, nil
		}
	}
	if err := handleErrorResponse(cl.op, resp); err != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return outcome{status: resp.StatusCode}, err
	}

	if cl.out != nil {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return outcome{status: resp.StatusCode}, transportErr(cl.op, resp.StatusCode, fmt.Errorf("read response body: %w", err))
		}
		if err := json.Unmarshal(body, cl.out); err != nil {
			return outcome{status: resp.StatusCode}, transportErr(cl.op, resp.StatusCode, fmt.Errorf("%w: %w", errParse, err))
		}
	}
	return outcome{status: resp.StatusCode}, nil
}

func (c *Client) buildRequest(ctx context.Context, cl call, token, corrID string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = c.baseURL.Path + cl.path
	if len(cl.query) > 0 {
		u.RawQuery = cl.query.Encode()
	}

	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-ID", corrID)
	if cl.contentType != "" {
		req.Header.Set("Content-Type", cl.contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// handleErrorResponse maps a non-2xx status to the client error taxonomy.
func handleErrorResponse(op string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, ErrAuthInvalid)
	case http.StatusNotFound:
		return transportErr(op, resp.StatusCode, ErrNotFound)
	case http.StatusTooManyRequests:
		return transportErr(op, resp.StatusCode, ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return transportErr(op, resp.StatusCode, ErrUpstreamFailure)
	}
	return nil
}

// isRetryable reports whether another attempt may succeed. The caller's own
// cancellation is never retried.
func (c *Client) isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	if te.StatusCode == http.StatusTooManyRequests || te.StatusCode >= 500 {
		return true
	}
	if te.StatusCode != 0 {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}
