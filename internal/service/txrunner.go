package service

import (
	"context"

	"basegraph.app/gatekeeper/core/db"
	"basegraph.app/gatekeeper/internal/store"
	"basegraph.app/gatekeeper/internal/webhook"
)

// StoreProvider exposes the stores a transactional operation may touch.
type StoreProvider interface {
	Users() store.UserStore
	Organizations() store.OrganizationStore
	Roles() store.RoleStore
	Memberships() store.MembershipStore
	Invitations() store.InvitationStore
	Events() store.EventStore
	WebhookSubscriptions() store.WebhookSubscriptionStore
	Deliveries() store.DeliveryStore
	ProviderEvents() store.ProviderEventStore
	APIKeys() store.APIKeyStore
}

// TxRunner runs functions within a transaction and provides stores bound to that transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores StoreProvider) error) error
}

type dbTxRunner struct {
	db *db.DB
}

// NewTxRunner builds a TxRunner backed by the core DB.
func NewTxRunner(db *db.DB) TxRunner {
	return &dbTxRunner{db: db}
}

func (r *dbTxRunner) WithTx(ctx context.Context, fn func(stores StoreProvider) error) error {
	return r.db.WithTx(ctx, func(tx db.DBTX) error {
		return fn(store.NewStores(tx))
	})
}

// webhookTxRunner bridges TxRunner to webhook.TxRunner.
//
// The webhook package declares its own narrow StoreProvider instead of
// importing this one, which would create a cycle (service -> webhook ->
// service). Every service StoreProvider also satisfies the webhook one.
type webhookTxRunner struct {
	tx TxRunner
}

func NewWebhookTxRunner(tx TxRunner) webhook.TxRunner {
	return &webhookTxRunner{tx: tx}
}

func (a *webhookTxRunner) WithTx(ctx context.Context, fn func(stores webhook.StoreProvider) error) error {
	return a.tx.WithTx(ctx, func(sp StoreProvider) error {
		return fn(sp)
	})
}
