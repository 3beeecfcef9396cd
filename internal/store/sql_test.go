package store

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pashagolub/pgxmock/v4"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
)

var _ = Describe("SQL statements", func() {
	var (
		mock pgxmock.PgxPoolIface
		ctx  context.Context
		now  time.Time
	)

	BeforeEach(func() {
		var err error
		mock, err = pgxmock.NewPool()
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		mock.Close()
	})

	Describe("membershipStore.AccessSnapshot", func() {
		const snapshotSQL = `SELECT m.status, r.id, r.name, r.permissions FROM memberships m ` +
			`JOIN users u ON u.id = m.user_id AND u.status = 'active' ` +
			`JOIN organizations o ON o.id = m.organization_id AND o.status = 'active' ` +
			`LEFT JOIN roles r ON r.id = m.role_id`

		It("reads membership and role in a single statement", func() {
			roleID, roleName := int64(30), "editor"
			mock.ExpectQuery(regexp.QuoteMeta(snapshotSQL)).
				WithArgs(int64(1), int64(2)).
				WillReturnRows(mock.NewRows([]string{"status", "id", "name", "permissions"}).
					AddRow("active", &roleID, &roleName, []string{"posts:read"}))

			snap, err := newMembershipStore(mock).AccessSnapshot(ctx, 1, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(snap.MembershipStatus).To(Equal(model.MembershipStatusActive))
			Expect(snap.RoleID).To(HaveValue(Equal(int64(30))))
			Expect(snap.RoleName).To(HaveValue(Equal("editor")))
			Expect(snap.Permissions).To(ConsistOf("posts:read"))
		})

		It("leaves role fields empty when the role was deleted", func() {
			mock.ExpectQuery(regexp.QuoteMeta(snapshotSQL)).
				WithArgs(int64(1), int64(2)).
				WillReturnRows(mock.NewRows([]string{"status", "id", "name", "permissions"}).
					AddRow("active", nil, nil, nil))

			snap, err := newMembershipStore(mock).AccessSnapshot(ctx, 1, 2)

			Expect(err).NotTo(HaveOccurred())
			Expect(snap.RoleID).To(BeNil())
			Expect(snap.Permissions).To(BeEmpty())
		})

		It("maps no row to ErrNotFound", func() {
			mock.ExpectQuery(regexp.QuoteMeta(snapshotSQL)).
				WithArgs(int64(1), int64(2)).
				WillReturnRows(mock.NewRows([]string{"status", "id", "name", "permissions"}))

			_, err := newMembershipStore(mock).AccessSnapshot(ctx, 1, 2)

			Expect(err).To(MatchError(domain.ErrNotFound))
		})
	})

	Describe("membershipStore.Upsert", func() {
		columns := []string{"id", "user_id", "organization_id", "role_id", "status", "joined_at", "created_at", "updated_at", "created"}

		It("reports a fresh insert through xmax", func() {
			roleID := int64(30)
			mock.ExpectQuery(`ON CONFLICT ON CONSTRAINT memberships_user_org_key DO UPDATE .* RETURNING .*, \(xmax = 0\)`).
				WithArgs(int64(9), int64(1), int64(2), &roleID, model.MembershipStatusActive).
				WillReturnRows(mock.NewRows(columns).
					AddRow(int64(9), int64(1), int64(2), &roleID, "active", now, now, now, true))

			m := &model.Membership{ID: 9, UserID: 1, OrganizationID: 2, RoleID: &roleID, Status: model.MembershipStatusActive}
			created, err := newMembershipStore(mock).Upsert(ctx, m)

			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(m.JoinedAt).To(Equal(now))
		})

		It("keeps the existing row id on update", func() {
			roleID := int64(31)
			mock.ExpectQuery(`memberships_user_org_key DO UPDATE`).
				WithArgs(int64(10), int64(1), int64(2), &roleID, model.MembershipStatusActive).
				WillReturnRows(mock.NewRows(columns).
					AddRow(int64(9), int64(1), int64(2), &roleID, "active", now, now, now, false))

			m := &model.Membership{ID: 10, UserID: 1, OrganizationID: 2, RoleID: &roleID, Status: model.MembershipStatusActive}
			created, err := newMembershipStore(mock).Upsert(ctx, m)

			Expect(err).NotTo(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(m.ID).To(Equal(int64(9)))
		})
	})

	Describe("deliveryStore.ClaimDue", func() {
		It("claims only subscription heads whose older events are fanned out", func() {
			lease := now.Add(time.Minute)
			mock.ExpectQuery(`UPDATE webhook_deliveries SET next_attempt_at = \$2` +
				`.*JOIN webhook_subscriptions s ON s.id = d.subscription_id AND s.is_active` +
				`.*NOT EXISTS \( SELECT 1 FROM webhook_deliveries p WHERE p.subscription_id = d.subscription_id AND p.status = 'pending' AND p.event_id < d.event_id \)` +
				`.*NOT EXISTS \( SELECT 1 FROM events e WHERE e.fanned_out_at IS NULL AND e.id < d.event_id` +
				`.*s.event_kinds && ARRAY\[e.kind, '\*'\]` +
				`.*LIMIT \$1 FOR UPDATE OF d SKIP LOCKED`).
				WithArgs(int32(10), lease).
				WillReturnRows(mock.NewRows([]string{
					"id", "delivery_uuid", "subscription_id", "event_id", "status", "attempts",
					"next_attempt_at", "last_error", "created_at", "updated_at",
				}).AddRow(int64(1), "5f0c6f7e-2b1a-4c55-9d4e-8a6b7c2d1e0f", int64(7), int64(100), "pending", 0,
					lease, nil, now, now))

			claimed, err := newDeliveryStore(mock).ClaimDue(ctx, 10, lease)

			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(HaveLen(1))
			Expect(claimed[0].EventID).To(Equal(int64(100)))
			Expect(claimed[0].DeliveryUUID.String()).To(Equal("5f0c6f7e-2b1a-4c55-9d4e-8a6b7c2d1e0f"))
		})
	})

	Describe("webhookSubscriptionStore.RecordFailure", func() {
		It("reports the transition to inactive", func() {
			mock.ExpectQuery(regexp.QuoteMeta(`RETURNING s.failure_count, prev.is_active AND NOT s.is_active`)).
				WithArgs(int64(9), 5).
				WillReturnRows(mock.NewRows([]string{"failure_count", "deactivated"}).AddRow(5, true))

			count, deactivated, err := newWebhookSubscriptionStore(mock).RecordFailure(ctx, 9, 5)

			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(5))
			Expect(deactivated).To(BeTrue())
		})
	})

	Describe("eventStore fan-out marker", func() {
		It("marks an event once", func() {
			mock.ExpectExec(regexp.QuoteMeta(`UPDATE events SET fanned_out_at = now() WHERE id = $1 AND fanned_out_at IS NULL`)).
				WithArgs(int64(3)).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))

			Expect(newEventStore(mock).MarkFannedOut(ctx, 3)).To(Succeed())
		})

		It("lists unmarked events oldest first", func() {
			orgID := int64(2)
			mock.ExpectQuery(regexp.QuoteMeta(`WHERE fanned_out_at IS NULL AND emitted_at < $1 ORDER BY id LIMIT $2`)).
				WithArgs(now, int32(50)).
				WillReturnRows(mock.NewRows([]string{
					"id", "kind", "organization_id", "subject_ids", "payload", "trace_id", "emitted_at",
				}).
					AddRow(int64(1), "role.created", &orgID, []string{"30"}, []byte(`{"role_id":"30"}`), nil, now).
					AddRow(int64(2), "role.deleted", &orgID, []string{"30"}, []byte(`{"role_id":"30"}`), nil, now))

			events, err := newEventStore(mock).ListPendingFanout(ctx, now, 50)

			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Kind).To(Equal(domain.EventRoleCreated))
			Expect(events[1].ID).To(Equal(int64(2)))
		})
	})

	Describe("organizationStore", func() {
		It("skips deleted organizations when no status is given", func() {
			var status *model.OrganizationStatus
			mock.ExpectQuery(regexp.QuoteMeta(`WHERE ($1::text IS NULL AND status <> 'deleted') OR status = $1 ORDER BY name, id LIMIT $2 OFFSET $3`)).
				WithArgs(status, int32(20), int32(0)).
				WillReturnRows(mock.NewRows([]string{"id", "name", "slug", "settings", "status", "created_at", "updated_at"}).
					AddRow(int64(1), "Acme", "acme", []byte(`{"plan":"team"}`), "active", now, now))

			orgs, err := newOrganizationStore(mock).List(ctx, status, 20, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(orgs).To(HaveLen(1))
			Expect(orgs[0].Settings).To(HaveKeyWithValue("plan", "team"))
		})

		It("reports a missing organization on delete", func() {
			mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM organizations WHERE id = $1`)).
				WithArgs(int64(5)).
				WillReturnResult(pgxmock.NewResult("DELETE", 0))

			Expect(newOrganizationStore(mock).Delete(ctx, 5)).To(MatchError(domain.ErrNotFound))
		})
	})

	Describe("apiKeyStore", func() {
		It("translates a duplicate name into a conflict", func() {
			mock.ExpectQuery(`INSERT INTO api_keys`).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "api_keys_org_name_key", TableName: "api_keys"})

			err := newAPIKeyStore(mock).Create(ctx, &model.APIKey{ID: 1, OrganizationID: 2, Name: "billing"})

			Expect(IsUniqueViolation(err, "api_keys_org_name_key")).To(BeTrue())
			var ce *domain.ConflictError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Entity).To(Equal("api_key"))
		})

		It("deactivates only keys past their expiry", func() {
			mock.ExpectExec(regexp.QuoteMeta(`WHERE is_active AND expires_at IS NOT NULL AND expires_at <= $1`)).
				WithArgs(now).
				WillReturnResult(pgxmock.NewResult("UPDATE", 3))

			n, err := newAPIKeyStore(mock).DeactivateExpired(ctx, now)

			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))
		})

		It("keeps the current expiry when rotating without one", func() {
			var expiry *time.Time
			mock.ExpectQuery(regexp.QuoteMeta(`SET prefix = $2, key_hash = $3, expires_at = COALESCE($4, expires_at)`)).
				WithArgs(int64(1), "gk_abcdefgh", "hash", expiry).
				WillReturnRows(mock.NewRows([]string{
					"id", "organization_id", "name", "description", "prefix", "key_hash", "scopes", "rate_limit",
					"is_active", "created_by", "expires_at", "last_used_at", "created_at", "updated_at",
				}).AddRow(int64(1), int64(2), "billing", nil, "gk_abcdefgh", "hash", []string{"access:check"}, int32(60),
					true, nil, nil, nil, now, now))

			key, err := newAPIKeyStore(mock).Rotate(ctx, 1, "gk_abcdefgh", "hash", expiry)

			Expect(err).NotTo(HaveOccurred())
			Expect(key.Prefix).To(Equal("gk_abcdefgh"))
			Expect(key.Scopes).To(ConsistOf("access:check"))
		})
	})
})
