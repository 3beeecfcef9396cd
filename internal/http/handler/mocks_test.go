package handler_test

import (
	"context"
	"time"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
)

type mockIdentityService struct {
	createUserFn          func(ctx context.Context, in service.CreateUserInput) (*model.User, error)
	retryLinkFn           func(ctx context.Context, localID int64, secret string) (*model.User, error)
	updateUserFn          func(ctx context.Context, localID int64, upd service.UserUpdate) (*model.User, error)
	deleteUserFn          func(ctx context.Context, localID int64, hard bool) error
	getUserFn             func(ctx context.Context, localID int64) (*model.User, error)
	listUsersFn           func(ctx context.Context, limit, offset int32) ([]model.User, error)
	upsertFromProviderFn  func(ctx context.Context, n *provider.Notification) (*model.User, error)
	listLinkConflictsFn   func(ctx context.Context, limit int32) ([]model.ProviderEvent, error)
	resolveLinkConflictFn func(ctx context.Context, id int64, action service.ConflictAction, resolvedBy string) (*model.ProviderEvent, error)
}

func (m *mockIdentityService) CreateUser(ctx context.Context, in service.CreateUserInput) (*model.User, error) {
	if m.createUserFn != nil {
		return m.createUserFn(ctx, in)
	}
	return nil, nil
}

func (m *mockIdentityService) RetryLink(ctx context.Context, localID int64, secret string) (*model.User, error) {
	if m.retryLinkFn != nil {
		return m.retryLinkFn(ctx, localID, secret)
	}
	return nil, nil
}

func (m *mockIdentityService) UpdateUser(ctx context.Context, localID int64, upd service.UserUpdate) (*model.User, error) {
	if m.updateUserFn != nil {
		return m.updateUserFn(ctx, localID, upd)
	}
	return nil, nil
}

func (m *mockIdentityService) DeleteUser(ctx context.Context, localID int64, hard bool) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, localID, hard)
	}
	return nil
}

func (m *mockIdentityService) GetUser(ctx context.Context, localID int64) (*model.User, error) {
	if m.getUserFn != nil {
		return m.getUserFn(ctx, localID)
	}
	return nil, nil
}

func (m *mockIdentityService) ListUsers(ctx context.Context, limit, offset int32) ([]model.User, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockIdentityService) UpsertFromProvider(ctx context.Context, n *provider.Notification) (*model.User, error) {
	if m.upsertFromProviderFn != nil {
		return m.upsertFromProviderFn(ctx, n)
	}
	return nil, nil
}

func (m *mockIdentityService) ListLinkConflicts(ctx context.Context, limit int32) ([]model.ProviderEvent, error) {
	if m.listLinkConflictsFn != nil {
		return m.listLinkConflictsFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockIdentityService) ResolveLinkConflict(ctx context.Context, id int64, action service.ConflictAction, resolvedBy string) (*model.ProviderEvent, error) {
	if m.resolveLinkConflictFn != nil {
		return m.resolveLinkConflictFn(ctx, id, action, resolvedBy)
	}
	return nil, nil
}

type mockWebhookService struct {
	createFn         func(ctx context.Context, in service.CreateSubscriptionInput) (*model.WebhookSubscription, string, error)
	getFn            func(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	listFn           func(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error)
	updateFn         func(ctx context.Context, id int64, upd service.SubscriptionUpdate) (*model.WebhookSubscription, error)
	deleteFn         func(ctx context.Context, id int64) error
	rotateSecretFn   func(ctx context.Context, id int64) (string, error)
	reactivateFn     func(ctx context.Context, id int64) (*model.WebhookSubscription, error)
	listDeliveriesFn func(ctx context.Context, id int64, limit int32) ([]model.WebhookDelivery, error)
	listAttemptsFn   func(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error)
}

func (m *mockWebhookService) Create(ctx context.Context, in service.CreateSubscriptionInput) (*model.WebhookSubscription, string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, "", nil
}

func (m *mockWebhookService) Get(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, nil
}

func (m *mockWebhookService) List(ctx context.Context, orgID *int64) ([]model.WebhookSubscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orgID)
	}
	return nil, nil
}

func (m *mockWebhookService) Update(ctx context.Context, id int64, upd service.SubscriptionUpdate) (*model.WebhookSubscription, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, upd)
	}
	return nil, nil
}

func (m *mockWebhookService) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockWebhookService) RotateSecret(ctx context.Context, id int64) (string, error) {
	if m.rotateSecretFn != nil {
		return m.rotateSecretFn(ctx, id)
	}
	return "", nil
}

func (m *mockWebhookService) Reactivate(ctx context.Context, id int64) (*model.WebhookSubscription, error) {
	if m.reactivateFn != nil {
		return m.reactivateFn(ctx, id)
	}
	return nil, nil
}

func (m *mockWebhookService) ListDeliveries(ctx context.Context, id int64, limit int32) ([]model.WebhookDelivery, error) {
	if m.listDeliveriesFn != nil {
		return m.listDeliveriesFn(ctx, id, limit)
	}
	return nil, nil
}

func (m *mockWebhookService) ListAttempts(ctx context.Context, deliveryID int64) ([]model.WebhookAttempt, error) {
	if m.listAttemptsFn != nil {
		return m.listAttemptsFn(ctx, deliveryID)
	}
	return nil, nil
}

type mockInvitationService struct {
	createFn   func(ctx context.Context, orgID int64, email string, roleID, invitedBy *int64) (*model.Invitation, string, error)
	validateFn func(ctx context.Context, token string) (*model.Invitation, error)
	acceptFn   func(ctx context.Context, token string, userID int64) (*model.Invitation, *model.Membership, error)
	revokeFn   func(ctx context.Context, id int64) (*model.Invitation, error)
	listFn     func(ctx context.Context, orgID int64) ([]model.Invitation, error)
}

func (m *mockInvitationService) Create(ctx context.Context, orgID int64, email string, roleID, invitedBy *int64) (*model.Invitation, string, error) {
	if m.createFn != nil {
		return m.createFn(ctx, orgID, email, roleID, invitedBy)
	}
	return nil, "", nil
}

func (m *mockInvitationService) Validate(ctx context.Context, token string) (*model.Invitation, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, token)
	}
	return nil, nil
}

func (m *mockInvitationService) Accept(ctx context.Context, token string, userID int64) (*model.Invitation, *model.Membership, error) {
	if m.acceptFn != nil {
		return m.acceptFn(ctx, token, userID)
	}
	return nil, nil, nil
}

func (m *mockInvitationService) Revoke(ctx context.Context, id int64) (*model.Invitation, error) {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id)
	}
	return nil, nil
}

func (m *mockInvitationService) List(ctx context.Context, orgID int64) ([]model.Invitation, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orgID)
	}
	return nil, nil
}

func (m *mockInvitationService) ExpireStale(ctx context.Context) (int64, error) {
	return 0, nil
}

type mockAuthService struct {
	authorizationURLFn func(state string) (string, error)
	handleCallbackFn   func(ctx context.Context, code string) (*model.User, error)
	authenticateFn     func(ctx context.Context, token string) (*model.User, *provider.Claims, error)
}

func (m *mockAuthService) GetAuthorizationURL(state string) (string, error) {
	if m.authorizationURLFn != nil {
		return m.authorizationURLFn(state)
	}
	return "https://auth.example.com/authorize?state=" + state, nil
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.User, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, service.ErrInvalidCode
}

func (m *mockAuthService) Authenticate(ctx context.Context, token string) (*model.User, *provider.Claims, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, token)
	}
	return nil, nil, service.ErrUnauthorized
}

type mockParser struct {
	parseFn func(signatureHeader string, body []byte) (*provider.Notification, error)
}

func (m *mockParser) Parse(signatureHeader string, body []byte) (*provider.Notification, error) {
	if m.parseFn != nil {
		return m.parseFn(signatureHeader, body)
	}
	return nil, provider.ErrInvalidSignature
}

type mockAccessChecker struct {
	granted map[string]bool
	role    string
	calls   int
}

func (m *mockAccessChecker) Resolve(_ context.Context, _, _ int64, permission string) bool {
	m.calls++
	return m.granted[permission]
}

func (m *mockAccessChecker) CheckAny(_ context.Context, _, _ int64, permissions []string) bool {
	m.calls++
	for _, p := range permissions {
		if m.granted[p] {
			return true
		}
	}
	return false
}

func (m *mockAccessChecker) CheckAll(_ context.Context, _, _ int64, permissions []string) bool {
	m.calls++
	for _, p := range permissions {
		if !m.granted[p] {
			return false
		}
	}
	return len(permissions) > 0
}

func (m *mockAccessChecker) HasRole(_ context.Context, _, _ int64, roleName string) bool {
	m.calls++
	return m.role != "" && m.role == roleName
}

func (m *mockAccessChecker) Permissions(_ context.Context, _, _ int64) []string {
	m.calls++
	var out []string
	for p, ok := range m.granted {
		if ok {
			out = append(out, p)
		}
	}
	return out
}

type mockOrganizationService struct {
	createFn func(ctx context.Context, name string, slug *string, creatorID *int64) (*model.Organization, error)
	getFn    func(ctx context.Context, id int64) (*model.Organization, error)
	listFn   func(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error)
	updateFn func(ctx context.Context, id int64, in service.OrganizationUpdate) (*model.Organization, error)
	deleteFn func(ctx context.Context, id int64, hard bool) error
}

func (m *mockOrganizationService) Create(ctx context.Context, name string, slug *string, creatorID *int64) (*model.Organization, error) {
	if m.createFn != nil {
		return m.createFn(ctx, name, slug, creatorID)
	}
	return nil, nil
}

func (m *mockOrganizationService) Get(ctx context.Context, id int64) (*model.Organization, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockOrganizationService) GetBySlug(context.Context, string) (*model.Organization, error) {
	return nil, domain.ErrNotFound
}

func (m *mockOrganizationService) ListForUser(context.Context, int64) ([]model.Organization, error) {
	return nil, nil
}

func (m *mockOrganizationService) List(ctx context.Context, status *model.OrganizationStatus, limit, offset int32) ([]model.Organization, error) {
	if m.listFn != nil {
		return m.listFn(ctx, status, limit, offset)
	}
	return nil, nil
}

func (m *mockOrganizationService) Update(ctx context.Context, id int64, in service.OrganizationUpdate) (*model.Organization, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return nil, nil
}

func (m *mockOrganizationService) Delete(ctx context.Context, id int64, hard bool) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id, hard)
	}
	return nil
}

type mockMembershipService struct {
	updateFn func(ctx context.Context, userID, orgID int64, in service.MembershipUpdate) (*model.Membership, error)
}

func (m *mockMembershipService) Add(context.Context, int64, int64, *int64) (*model.Membership, error) {
	return nil, nil
}

func (m *mockMembershipService) Update(ctx context.Context, userID, orgID int64, in service.MembershipUpdate) (*model.Membership, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, orgID, in)
	}
	return nil, domain.ErrNotFound
}

func (m *mockMembershipService) Remove(context.Context, int64, int64) error { return nil }

func (m *mockMembershipService) Get(context.Context, int64, int64) (*model.Membership, error) {
	return nil, domain.ErrNotFound
}

func (m *mockMembershipService) ListByOrganization(context.Context, int64) ([]model.Membership, error) {
	return nil, nil
}

func (m *mockMembershipService) ListByUser(context.Context, int64) ([]model.Membership, error) {
	return nil, nil
}

type mockAPIKeyService struct {
	createFn   func(ctx context.Context, in service.CreateAPIKeyInput) (*service.IssuedAPIKey, error)
	getFn      func(ctx context.Context, id int64) (*model.APIKey, error)
	listFn     func(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error)
	updateFn   func(ctx context.Context, id int64, in service.APIKeyUpdate) (*model.APIKey, error)
	rotateFn   func(ctx context.Context, id int64, expiresAt *time.Time) (*service.IssuedAPIKey, error)
	revokeFn   func(ctx context.Context, id int64) (*model.APIKey, error)
	deleteFn   func(ctx context.Context, id int64) error
	validateFn func(ctx context.Context, secret, permission string) (*model.APIKey, error)
}

func (m *mockAPIKeyService) Create(ctx context.Context, in service.CreateAPIKeyInput) (*service.IssuedAPIKey, error) {
	if m.createFn != nil {
		return m.createFn(ctx, in)
	}
	return nil, nil
}

func (m *mockAPIKeyService) Get(ctx context.Context, id int64) (*model.APIKey, error) {
	if m.getFn != nil {
		return m.getFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockAPIKeyService) List(ctx context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orgID, activeOnly, limit, offset)
	}
	return nil, nil
}

func (m *mockAPIKeyService) Update(ctx context.Context, id int64, in service.APIKeyUpdate) (*model.APIKey, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, id, in)
	}
	return nil, domain.ErrNotFound
}

func (m *mockAPIKeyService) Rotate(ctx context.Context, id int64, expiresAt *time.Time) (*service.IssuedAPIKey, error) {
	if m.rotateFn != nil {
		return m.rotateFn(ctx, id, expiresAt)
	}
	return nil, domain.ErrNotFound
}

func (m *mockAPIKeyService) Revoke(ctx context.Context, id int64) (*model.APIKey, error) {
	if m.revokeFn != nil {
		return m.revokeFn(ctx, id)
	}
	return nil, domain.ErrNotFound
}

func (m *mockAPIKeyService) Delete(ctx context.Context, id int64) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *mockAPIKeyService) Validate(ctx context.Context, secret, permission string) (*model.APIKey, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, secret, permission)
	}
	return nil, &domain.APIKeyRejectedError{Reason: domain.APIKeyInvalid}
}

func (m *mockAPIKeyService) DeactivateExpired(context.Context) (int64, error) { return 0, nil }
