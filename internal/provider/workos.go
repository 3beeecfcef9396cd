package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
	"github.com/workos/workos-go/v6/pkg/webhooks"
	"github.com/workos/workos-go/v6/pkg/workos_errors"

	"basegraph.app/gatekeeper/core/config"
	"basegraph.app/gatekeeper/internal/model"
)

const (
	workosJWKSBase   = "https://api.workos.com/sso/jwks/"
	providerNameAuth = "authkit"
	providerWorkOS   = "workos"
)

// WorkOS implements Adapter, Authenticator and NotificationParser over the
// WorkOS user management API.
type WorkOS struct {
	cfg      config.WorkOSConfig
	verifier *JWKSVerifier
	webhooks *webhooks.Client
}

func NewWorkOS(cfg config.WorkOSConfig) *WorkOS {
	usermanagement.SetAPIKey(cfg.APIKey)
	return &WorkOS{
		cfg:      cfg,
		verifier: NewJWKSVerifier(VerifierConfig{JWKSURL: workosJWKSBase + cfg.ClientID}),
		webhooks: webhooks.NewClient(cfg.WebhookSecret),
	}
}

func (w *WorkOS) CreateCredential(ctx context.Context, email, secret string, attrs Attrs) (string, error) {
	opts := usermanagement.CreateUserOpts{
		Email:    model.NormalizeEmail(email),
		Password: secret,
	}
	if attrs.FirstName != nil {
		opts.FirstName = *attrs.FirstName
	}
	if attrs.LastName != nil {
		opts.LastName = *attrs.LastName
	}
	if attrs.EmailVerified != nil {
		opts.EmailVerified = *attrs.EmailVerified
	}

	user, err := usermanagement.CreateUser(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("workos create user: %w", err)
	}
	return user.ID, nil
}

func (w *WorkOS) LookupCredential(ctx context.Context, email string) (string, error) {
	resp, err := usermanagement.ListUsers(ctx, usermanagement.ListUsersOpts{
		Email: model.NormalizeEmail(email),
		Limit: 1,
	})
	if err != nil {
		return "", fmt.Errorf("workos list users: %w", err)
	}
	if len(resp.Data) == 0 {
		return "", ErrCredentialNotFound
	}
	return resp.Data[0].ID, nil
}

// UpdateCredential pushes profile fields. Email changes are not propagated;
// WorkOS owns email verification for existing credentials.
func (w *WorkOS) UpdateCredential(ctx context.Context, providerID string, attrs Attrs) error {
	opts := usermanagement.UpdateUserOpts{User: providerID}
	if attrs.FirstName != nil {
		opts.FirstName = *attrs.FirstName
	}
	if attrs.LastName != nil {
		opts.LastName = *attrs.LastName
	}
	if attrs.EmailVerified != nil {
		opts.EmailVerified = *attrs.EmailVerified
	}

	if _, err := usermanagement.UpdateUser(ctx, opts); err != nil {
		if isNotFound(err) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("workos update user: %w", err)
	}
	return nil
}

func (w *WorkOS) DeleteCredential(ctx context.Context, providerID string) error {
	err := usermanagement.DeleteUser(ctx, usermanagement.DeleteUserOpts{User: providerID})
	if err != nil {
		if isNotFound(err) {
			return ErrCredentialNotFound
		}
		return fmt.Errorf("workos delete user: %w", err)
	}
	return nil
}

func (w *WorkOS) VerifyToken(ctx context.Context, token string) (*Claims, error) {
	return w.verifier.Verify(ctx, token)
}

func (w *WorkOS) AuthorizationURL(state string) (string, error) {
	url, err := usermanagement.GetAuthorizationURL(usermanagement.GetAuthorizationURLOpts{
		ClientID:    w.cfg.ClientID,
		RedirectURI: w.cfg.RedirectURI,
		State:       state,
		Provider:    providerNameAuth,
	})
	if err != nil {
		return "", fmt.Errorf("generating authorization URL: %w", err)
	}
	return url.String(), nil
}

func (w *WorkOS) AuthenticateWithCode(ctx context.Context, code string) (*User, error) {
	resp, err := usermanagement.AuthenticateWithCode(ctx, usermanagement.AuthenticateWithCodeOpts{
		ClientID: w.cfg.ClientID,
		Code:     code,
	})
	if err != nil {
		return nil, fmt.Errorf("workos authenticate with code: %w", err)
	}
	return fromWorkOSUser(resp.User, providerNameAuth), nil
}

// workosEvent is the envelope WorkOS posts to webhook endpoints.
type workosEvent struct {
	ID    string          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (w *WorkOS) Parse(signatureHeader string, body []byte) (*Notification, error) {
	if _, err := w.webhooks.ValidatePayload(signatureHeader, string(body)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeNotification(body)
}

func decodeNotification(body []byte) (*Notification, error) {
	var env workosEvent
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding provider event: %w", err)
	}

	var kind NotificationKind
	switch env.Event {
	case "user.created":
		kind = CredentialCreated
	case "user.updated":
		kind = CredentialUpdated
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, env.Event)
	}

	var u usermanagement.User
	if err := json.Unmarshal(env.Data, &u); err != nil {
		return nil, fmt.Errorf("decoding provider user: %w", err)
	}
	if u.ID == "" || u.Email == "" {
		return nil, fmt.Errorf("decoding provider user: missing id or email")
	}

	return &Notification{
		ID:      env.ID,
		Kind:    kind,
		User:    *fromWorkOSUser(u, providerWorkOS),
		Payload: body,
	}, nil
}

func fromWorkOSUser(u usermanagement.User, providerName string) *User {
	out := &User{
		ProviderID:    u.ID,
		Email:         model.NormalizeEmail(u.Email),
		ProviderName:  providerName,
		EmailVerified: u.EmailVerified,
	}
	if u.FirstName != "" {
		out.FirstName = &u.FirstName
	}
	if u.LastName != "" {
		out.LastName = &u.LastName
	}
	return out
}

func isNotFound(err error) bool {
	var httpErr workos_errors.HTTPError
	return errors.As(err, &httpErr) && httpErr.Code == http.StatusNotFound
}
