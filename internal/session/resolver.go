package session

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kjstillabower/zappai-client/internal/client"
	"github.com/kjstillabower/zappai-client/internal/models"
	"github.com/kjstillabower/zappai-client/internal/observability"
	"github.com/kjstillabower/zappai-client/internal/tokenstore"
)

// IdentityAPI is the backend call the resolver needs.
type IdentityAPI interface {
	Me(ctx context.Context) (*models.Session, error)
}

// Resolver exchanges a token for the identity behind it.
type Resolver struct {
	api    IdentityAPI
	tokens tokenstore.Store
	logger *zap.Logger
}

// NewResolver creates a Resolver. tokens is cleared when the backend rejects the token.
func NewResolver(api IdentityAPI, tokens tokenstore.Store, logger *zap.Logger) *Resolver {
	return &Resolver{api: api, tokens: tokens, logger: observability.OrNop(logger)}
}

// Resolve returns the session for token.
//   - ok=false: (nil, nil) with no network call.
//   - backend rejects the token: (nil, nil) and the stored token is cleared.
//   - any other failure: (nil, err) with errors.Is(err, client.ErrTransport); the
//     stored token is left alone.
func (r *Resolver) Resolve(ctx context.Context, token string, ok bool) (*models.Session, error) {
	if !ok || token == "" {
		return nil, nil
	}

	sess, err := r.api.Me(client.WithToken(ctx, token))
	switch {
	case err == nil:
		return sess, nil
	case errors.Is(err, client.ErrAuthInvalid), errors.Is(err, client.ErrNoToken):
		if clearErr := r.tokens.Clear(ctx); clearErr != nil {
			r.logger.Warn("failed to clear rejected token", zap.Error(clearErr))
		}
		return nil, nil
	case errors.Is(err, client.ErrTransport):
		return nil, err
	default:
		return nil, &client.TransportError{Op: "resolve", Err: err}
	}
}
