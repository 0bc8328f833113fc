package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/circuitbreaker"
	"github.com/kjstillabower/zappai-client/internal/client"
	"github.com/kjstillabower/zappai-client/internal/config"
	"github.com/kjstillabower/zappai-client/internal/gate"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/session"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
)

// app is the wired client for one invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	out     streams
	tokens  tokenstore.Store
	api     *client.Client
	state   *session.State
	manager *session.Manager
	// storePing is set for networked token stores.
	storePing func() error
	closers   []func() error
}

func newApp(g globalFlags, s streams) (*app, error) {
	var outputs []string
	if g.logFile != "" {
		outputs = []string{g.logFile}
	}
	logger, err := observability.NewLoggerWithOptions(g.logLevel, outputs)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	var cfg *config.Config
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if g.apiURL != "" {
		cfg.APIURL = strings.TrimRight(g.apiURL, "/")
	}
	if g.ephemeral {
		cfg.TokenBackend = config.TokenBackendMemory
	}

	a := &app{cfg: cfg, logger: logger, out: s}
	if err := a.openTokenStore(); err != nil {
		return nil, err
	}

	var breaker *circuitbreaker.CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			IsFailure:        client.IsBreakerFailure,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerState.Set(float64(to))
				logger.Info("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		observability.CircuitBreakerState.Set(0)
	}

	a.api, err = client.New(client.Options{
		BaseURL:        cfg.APIURL,
		Timeout:        cfg.APITimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Breaker:        breaker,
		Logger:         logger,
	}, a.tokens)
	if err != nil {
		a.close()
		return nil, err
	}

	a.state = session.NewState(logger)
	a.manager = session.NewManager(a.api, a.tokens, a.state, logger)
	a.api.SetAuthInvalidHook(a.manager.HandleAuthInvalid)
	return a, nil
}

func (a *app) openTokenStore() error {
	switch a.cfg.TokenBackend {
	case config.TokenBackendMemory:
		a.tokens = tokenstore.NewMemoryStore()
	case config.TokenBackendMemcached:
		mc, err := tokenstore.NewMemcachedStore(a.cfg.MemcachedAddrs, a.cfg.MemcachedTimeout, a.cfg.TokenKey)
		if err != nil {
			return fmt.Errorf("memcached token store: %w", err)
		}
		a.tokens = mc
		a.storePing = mc.Ping
		a.closers = append(a.closers, mc.Close)
	case config.TokenBackendRedis:
		rs, err := tokenstore.NewRedisStore(a.cfg.RedisURL, a.cfg.TokenKey)
		if err != nil {
			return fmt.Errorf("redis token store: %w", err)
		}
		a.tokens = rs
		a.storePing = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rs.Ping(pingCtx)
		}
		a.closers = append(a.closers, rs.Close)
	default:
		a.tokens = tokenstore.NewFileStore(a.cfg.TokenPath, a.cfg.TokenKey)
	}
	a.logger.Debug("token store", zap.String("backend", a.cfg.TokenBackend))
	return nil
}

// require resolves the stored session and applies the access gate for view.
// It returns the gate decision when the view may render.
func (a *app) require(ctx context.Context, view gate.View) (gate.Decision, error) {
	snap, err := a.manager.Startup(ctx)
	if err != nil {
		return gate.Decision{}, fmt.Errorf("resolve session: %w", err)
	}
	d := gate.Decide(snap, view)
	switch d.Action {
	case gate.ActionRedirect:
		return d, errNotLoggedIn
	case gate.ActionPlaceholder:
		return d, fmt.Errorf("session still resolving")
	}
	return d, nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("close", zap.Error(err))
		}
	}
	a.closers = nil
	if err := observability.FlushTelemetry(context.Background(), a.logger); err != nil {
		fmt.Fprintf(a.out.stderr, "telemetry flush: %v\n", err)
	}
}
