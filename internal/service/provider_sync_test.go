package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
)

var _ = Describe("UpsertFromProvider", func() {
	var (
		db        *fakeDB
		publisher *recordingPublisher
		svc       service.IdentityService
		ctx       context.Context
	)

	notification := func(providerID, email string) *provider.Notification {
		return &provider.Notification{
			ID:   "evt_" + providerID,
			Kind: provider.CredentialCreated,
			User: provider.User{
				ProviderID:   providerID,
				Email:        email,
				ProviderName: "GoogleOAuth",
				FirstName:    ptr("Pat"),
			},
			Payload: []byte(`{"id":"` + providerID + `"}`),
		}
	}

	seedUser := func(email string, link *string) *model.User {
		u := &model.User{
			ID:           id.New(),
			Email:        email,
			ProviderLink: link,
			AuthProvider: model.AuthProviderLocal,
			Status:       model.UserStatusActive,
		}
		Expect(db.Users().Create(ctx, u)).To(Succeed())
		return u
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newFakeDB()
		publisher = &recordingPublisher{}
		svc = service.NewIdentityService(db, db.Users(), db.ProviderEvents(), &mockAdapter{}, publisher)
	})

	It("creates a user when nothing matches", func() {
		user, err := svc.UpsertFromProvider(ctx, notification("user_new", "New@Example.com"))

		Expect(err).NotTo(HaveOccurred())
		Expect(user.Email).To(Equal("new@example.com"))
		Expect(user.ProviderLink).To(HaveValue(Equal("user_new")))
		Expect(user.AuthProvider).To(Equal("GoogleOAuth"))
		Expect(publisher.kinds()).To(Equal([]string{"user.upserted_from_provider"}))
	})

	It("does not duplicate on a repeated notification", func() {
		first, err := svc.UpsertFromProvider(ctx, notification("user_rep", "rep@example.com"))
		Expect(err).NotTo(HaveOccurred())

		second, err := svc.UpsertFromProvider(ctx, notification("user_rep", "rep@example.com"))
		Expect(err).NotTo(HaveOccurred())

		Expect(second.ID).To(Equal(first.ID))
		users, _ := db.Users().List(ctx, 10, 0)
		Expect(users).To(HaveLen(1))
		Expect(publisher.kinds()).To(Equal([]string{"user.upserted_from_provider"}))
	})

	It("applies a new notification for an already linked credential", func() {
		_, err := svc.UpsertFromProvider(ctx, notification("user_upd", "upd@example.com"))
		Expect(err).NotTo(HaveOccurred())

		update := notification("user_upd", "upd@example.com")
		update.ID = "evt_second"
		update.Kind = provider.CredentialUpdated
		update.User.LastName = ptr("Doe")
		user, err := svc.UpsertFromProvider(ctx, update)

		Expect(err).NotTo(HaveOccurred())
		Expect(user.LastName).To(HaveValue(Equal("Doe")))
		Expect(publisher.kinds()).To(HaveLen(2))
	})

	It("links an unlinked local user matched by email", func() {
		local := seedUser("match@example.com", nil)

		user, err := svc.UpsertFromProvider(ctx, notification("user_m", "MATCH@example.com"))

		Expect(err).NotTo(HaveOccurred())
		Expect(user.ID).To(Equal(local.ID))
		Expect(user.ProviderLink).To(HaveValue(Equal("user_m")))
		Expect(user.FirstName).To(HaveValue(Equal("Pat")))
		Expect(publisher.kinds()).To(Equal([]string{"user.linked"}))
	})

	It("keeps the local email when matched by provider link", func() {
		local := seedUser("owner@example.com", ptr("user_l"))

		user, err := svc.UpsertFromProvider(ctx, notification("user_l", "changed@example.com"))

		Expect(err).NotTo(HaveOccurred())
		Expect(user.ID).To(Equal(local.ID))
		Expect(user.Email).To(Equal("owner@example.com"))
	})

	Context("when the email belongs to a user linked elsewhere", func() {
		var local *model.User

		BeforeEach(func() {
			local = seedUser("taken@example.com", ptr("user_old"))
		})

		It("records a conflict and leaves both records unchanged", func() {
			_, err := svc.UpsertFromProvider(ctx, notification("user_other", "taken@example.com"))

			var conflict *domain.LinkConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.LocalID).To(Equal(local.ID))
			Expect(conflict.ExistingProviderID).To(Equal("user_old"))
			Expect(conflict.IncomingProviderID).To(Equal("user_other"))

			stored, _ := db.Users().GetByID(ctx, local.ID)
			Expect(stored.ProviderLink).To(HaveValue(Equal("user_old")))
			Expect(db.usersWithLink("user_other")).To(BeEmpty())

			open, err := svc.ListLinkConflicts(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(1))
			Expect(open[0].ID).To(Equal(conflict.ProviderEventID))
			Expect(publisher.kinds()).To(Equal([]string{"user.link_conflict"}))
		})

		It("records a redelivered conflicting notification once", func() {
			n := notification("user_other", "taken@example.com")
			_, first := svc.UpsertFromProvider(ctx, n)
			_, second := svc.UpsertFromProvider(ctx, n)

			var a, b *domain.LinkConflictError
			Expect(errors.As(first, &a)).To(BeTrue())
			Expect(errors.As(second, &b)).To(BeTrue())
			Expect(b.ProviderEventID).To(Equal(a.ProviderEventID))
			Expect(b.ExistingProviderID).To(Equal("user_old"))

			open, err := svc.ListLinkConflicts(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(open).To(HaveLen(1))
			Expect(open[0].NotificationID).To(HaveValue(Equal(n.ID)))
			Expect(publisher.kinds()).To(Equal([]string{"user.link_conflict"}))
			Expect(db.eventKinds()).To(HaveLen(1))
		})

		It("relinks on operator request", func() {
			_, err := svc.UpsertFromProvider(ctx, notification("user_other", "taken@example.com"))
			var conflict *domain.LinkConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())

			resolved, err := svc.ResolveLinkConflict(ctx, conflict.ProviderEventID, service.ConflictRelink, "ops@example.com")

			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.Outcome).To(Equal(model.ProviderEventRelinked))
			stored, _ := db.Users().GetByID(ctx, local.ID)
			Expect(stored.ProviderLink).To(HaveValue(Equal("user_other")))
			Expect(publisher.kinds()).To(Equal([]string{"user.link_conflict", "user.linked"}))
		})

		It("dismisses without relinking", func() {
			_, err := svc.UpsertFromProvider(ctx, notification("user_other", "taken@example.com"))
			var conflict *domain.LinkConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())

			resolved, err := svc.ResolveLinkConflict(ctx, conflict.ProviderEventID, service.ConflictDismiss, "ops@example.com")

			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.Outcome).To(Equal(model.ProviderEventDismissed))
			stored, _ := db.Users().GetByID(ctx, local.ID)
			Expect(stored.ProviderLink).To(HaveValue(Equal("user_old")))

			_, err = svc.ResolveLinkConflict(ctx, conflict.ProviderEventID, service.ConflictDismiss, "ops@example.com")
			Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())
		})
	})

	It("re-matches after losing an insert race", func() {
		winner := model.User{ID: id.New(), Email: "race@example.com", Status: model.UserStatusActive}
		db.beforeUserCreate = func(*model.User) {
			db.beforeUserCreate = nil
			db.commitConcurrently(winner)
		}

		user, err := svc.UpsertFromProvider(ctx, notification("user_race", "race@example.com"))

		Expect(err).NotTo(HaveOccurred())
		Expect(user.ID).To(Equal(winner.ID))
		Expect(user.ProviderLink).To(HaveValue(Equal("user_race")))
		users, _ := db.Users().List(ctx, 10, 0)
		Expect(users).To(HaveLen(1))
	})

	It("rejects notifications without a credential id", func() {
		_, err := svc.UpsertFromProvider(ctx, notification("", "x@example.com"))

		Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
	})
})
