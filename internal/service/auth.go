package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/store"
)

var (
	ErrInvalidCode  = errors.New("invalid authorization code")
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthService drives the hosted sign-in flow and resolves bearer tokens to
// local users.
type AuthService interface {
	GetAuthorizationURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (*model.User, error)
	Authenticate(ctx context.Context, token string) (*model.User, *provider.Claims, error)
}

type authService struct {
	identity      IdentityService
	users         store.UserStore
	adapter       provider.Adapter
	authenticator provider.Authenticator
}

func NewAuthService(identity IdentityService, users store.UserStore, adapter provider.Adapter, authenticator provider.Authenticator) AuthService {
	return &authService{
		identity:      identity,
		users:         users,
		adapter:       adapter,
		authenticator: authenticator,
	}
}

func (s *authService) GetAuthorizationURL(state string) (string, error) {
	return s.authenticator.AuthorizationURL(state)
}

// HandleCallback exchanges the code and runs the signed-in credential
// through the provider upsert path, like any other provider notification.
func (s *authService) HandleCallback(ctx context.Context, code string) (*model.User, error) {
	pu, err := s.authenticator.AuthenticateWithCode(ctx, code)
	if err != nil {
		slog.ErrorContext(ctx, "failed to authenticate with code", "error", err)
		return nil, ErrInvalidCode
	}

	user, err := s.identity.UpsertFromProvider(ctx, &provider.Notification{
		Kind: provider.CredentialUpdated,
		User: *pu,
	})
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLogin(ctx, user.ID); err != nil {
		slog.WarnContext(ctx, "failed to record login time", "error", err, "user_id", user.ID)
	}

	slog.InfoContext(ctx, "user authenticated", "user_id", user.ID, "provider_id", pu.ProviderID)
	return user, nil
}

func (s *authService) Authenticate(ctx context.Context, token string) (*model.User, *provider.Claims, error) {
	claims, err := s.adapter.VerifyToken(ctx, token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	user, err := s.users.GetByProviderLink(ctx, claims.ProviderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, fmt.Errorf("%w: no local user for credential", ErrUnauthorized)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolving token subject: %w", err)
	}
	if user.Status != model.UserStatusActive {
		return nil, nil, fmt.Errorf("%w: user is %s", ErrUnauthorized, user.Status)
	}
	return user, claims, nil
}
