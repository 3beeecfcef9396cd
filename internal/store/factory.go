package store

import (
	"basegraph.app/gatekeeper/core/db"
)

type Stores struct {
	db db.DBTX
}

func NewStores(conn db.DBTX) *Stores {
	return &Stores{db: conn}
}

func (s *Stores) Users() UserStore {
	return newUserStore(s.db)
}

func (s *Stores) Organizations() OrganizationStore {
	return newOrganizationStore(s.db)
}

func (s *Stores) Roles() RoleStore {
	return newRoleStore(s.db)
}

func (s *Stores) Memberships() MembershipStore {
	return newMembershipStore(s.db)
}

func (s *Stores) Invitations() InvitationStore {
	return newInvitationStore(s.db)
}

func (s *Stores) Events() EventStore {
	return newEventStore(s.db)
}

func (s *Stores) WebhookSubscriptions() WebhookSubscriptionStore {
	return newWebhookSubscriptionStore(s.db)
}

func (s *Stores) Deliveries() DeliveryStore {
	return newDeliveryStore(s.db)
}

func (s *Stores) ProviderEvents() ProviderEventStore {
	return newProviderEventStore(s.db)
}

func (s *Stores) APIKeys() APIKeyStore {
	return newAPIKeyStore(s.db)
}

func (s *Stores) Audit() AuditStore {
	return newAuditStore(s.db)
}
