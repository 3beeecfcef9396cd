package service

import (
	"basegraph.app/gatekeeper/core/config"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/rbac"
	"basegraph.app/gatekeeper/internal/store"
)

// Provider bundles the identity provider surfaces the services need.
type Provider interface {
	provider.Adapter
	provider.Authenticator
	provider.NotificationParser
}

type Services struct {
	stores    *store.Stores
	txRunner  TxRunner
	provider  Provider
	publisher eventbus.Publisher
	cfg       config.Config
	limiters  *KeyLimiters
}

func NewServices(stores *store.Stores, txRunner TxRunner, p Provider, publisher eventbus.Publisher, cfg config.Config) *Services {
	return &Services{
		stores:    stores,
		txRunner:  txRunner,
		provider:  p,
		publisher: publisher,
		cfg:       cfg,
		limiters:  NewKeyLimiters(),
	}
}

func (s *Services) Identity() IdentityService {
	return NewIdentityService(s.txRunner, s.stores.Users(), s.stores.ProviderEvents(), s.provider, s.publisher)
}

func (s *Services) Auth() AuthService {
	return NewAuthService(s.Identity(), s.stores.Users(), s.provider, s.provider)
}

func (s *Services) Organizations() OrganizationService {
	return NewOrganizationService(s.txRunner, s.stores.Organizations(), s.publisher)
}

func (s *Services) Roles() RoleService {
	return NewRoleService(s.txRunner, s.stores.Roles(), s.publisher)
}

func (s *Services) Memberships() MembershipService {
	return NewMembershipService(s.txRunner, s.stores.Memberships(), s.publisher)
}

func (s *Services) APIKeys() APIKeyService {
	return NewAPIKeyService(s.txRunner, s.stores.APIKeys(), s.publisher, s.limiters)
}

func (s *Services) Invitations() InvitationService {
	return NewInvitationService(s.txRunner, s.stores.Invitations(), s.publisher, s.cfg.DashboardURL, s.cfg.InviteTTL)
}

func (s *Services) Webhooks() WebhookSubscriptionService {
	return NewWebhookSubscriptionService(s.stores.WebhookSubscriptions(), s.stores.Deliveries())
}

func (s *Services) Access() *rbac.Resolver {
	return rbac.NewResolver(s.stores.Memberships())
}

func (s *Services) Notifications() provider.NotificationParser {
	return s.provider
}

func (s *Services) EventLog() store.EventStore {
	return s.stores.Events()
}

func (s *Services) AuditLog() store.AuditStore {
	return s.stores.Audit()
}
