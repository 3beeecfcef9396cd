package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/rbac"
	"basegraph.app/gatekeeper/internal/service"
)

var _ = Describe("Organizations, roles and access", func() {
	var (
		db          *fakeDB
		publisher   *recordingPublisher
		orgs        service.OrganizationService
		roles       service.RoleService
		memberships service.MembershipService
		access      *rbac.Resolver
		ctx         context.Context
	)

	newUser := func(email string) *model.User {
		u := &model.User{ID: id.New(), Email: email, Status: model.UserStatusActive}
		Expect(db.Users().Create(ctx, u)).To(Succeed())
		return u
	}

	roleNamed := func(orgID int64, name string) *model.Role {
		r, err := db.Roles().GetByName(ctx, orgID, name)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		ctx = context.Background()
		db = newFakeDB()
		publisher = &recordingPublisher{}
		orgs = service.NewOrganizationService(db, db.Organizations(), publisher)
		roles = service.NewRoleService(db, db.Roles(), publisher)
		memberships = service.NewMembershipService(db, db.Memberships(), publisher)
		access = rbac.NewResolver(db.Memberships())
	})

	Describe("OrganizationService.Create", func() {
		It("seeds the system roles and makes the creator Owner", func() {
			creator := newUser("founder@example.com")

			org, err := orgs.Create(ctx, "Acme Corp", nil, &creator.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(org.Slug).To(Equal("acme-corp"))

			seeded, _ := db.Roles().ListByOrganization(ctx, org.ID)
			Expect(seeded).To(HaveLen(len(model.SystemRoles)))
			for _, r := range seeded {
				Expect(r.IsSystem).To(BeTrue())
			}
			def, err := db.Roles().GetDefault(ctx, org.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(def.Name).To(Equal(model.RoleMember))

			Expect(access.HasRole(ctx, creator.ID, org.ID, model.RoleOwner)).To(BeTrue())
			Expect(access.Resolve(ctx, creator.ID, org.ID, "anything:goes")).To(BeTrue())
			Expect(publisher.kinds()).To(Equal([]string{"organization.created", "membership.created"}))
		})

		It("suffixes a taken slug", func() {
			first, err := orgs.Create(ctx, "Acme", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			second, err := orgs.Create(ctx, "ACME", nil, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Slug).To(Equal("acme"))
			Expect(second.Slug).To(Equal("acme-2"))
		})

		It("requires a name", func() {
			_, err := orgs.Create(ctx, "", nil, nil)

			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})
	})

	Describe("RoleService", func() {
		var org *model.Organization

		BeforeEach(func() {
			var err error
			org, err = orgs.Create(ctx, "Acme", nil, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		It("refuses to change system role permissions", func() {
			owner := roleNamed(org.ID, model.RoleOwner)

			_, err := roles.SetPermissions(ctx, owner.ID, []string{"posts:read"})

			var immutable *domain.ImmutableRoleError
			Expect(errors.As(err, &immutable)).To(BeTrue())
			Expect(immutable.RoleID).To(Equal(owner.ID))
			Expect(roleNamed(org.ID, model.RoleOwner).Permissions).To(Equal([]string{"*:*"}))
		})

		It("refuses to delete or rename system roles", func() {
			member := roleNamed(org.ID, model.RoleMember)

			var immutable *domain.ImmutableRoleError
			Expect(errors.As(roles.Delete(ctx, member.ID), &immutable)).To(BeTrue())
			_, err := roles.Rename(ctx, member.ID, "Reader", nil)
			Expect(errors.As(err, &immutable)).To(BeTrue())
		})

		It("rejects malformed permissions", func() {
			_, err := roles.Create(ctx, service.CreateRoleInput{
				OrganizationID: org.ID,
				Name:           "broken",
				Permissions:    []string{"posts"},
			})

			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})

		It("deduplicates and only emits when the set changes", func() {
			role, err := roles.Create(ctx, service.CreateRoleInput{
				OrganizationID: org.ID,
				Name:           "writer",
				Permissions:    []string{"posts:read", "posts:read"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(role.Permissions).To(Equal([]string{"posts:read"}))

			_, err = roles.AddPermissions(ctx, role.ID, []string{"posts:read"})
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.kinds()).NotTo(ContainElement("role.permissions_changed"))

			updated, err := roles.AddPermissions(ctx, role.ID, []string{"posts:write"})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Permissions).To(Equal([]string{"posts:read", "posts:write"}))

			updated, err = roles.RemovePermissions(ctx, role.ID, []string{"posts:read"})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Permissions).To(Equal([]string{"posts:write"}))
		})

		It("moves the default to a new role", func() {
			role, err := roles.Create(ctx, service.CreateRoleInput{
				OrganizationID: org.ID,
				Name:           "guest",
				Permissions:    []string{"posts:read"},
				IsDefault:      true,
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(role.IsDefault).To(BeTrue())
			def, _ := db.Roles().GetDefault(ctx, org.ID)
			Expect(def.ID).To(Equal(role.ID))
			Expect(roleNamed(org.ID, model.RoleMember).IsDefault).To(BeFalse())
		})
		It("emits role.updated on rename", func() {
			role, err := roles.Create(ctx, service.CreateRoleInput{OrganizationID: org.ID, Name: "writer"})
			Expect(err).NotTo(HaveOccurred())

			renamed, err := roles.Rename(ctx, role.ID, "author", nil)

			Expect(err).NotTo(HaveOccurred())
			Expect(renamed.Name).To(Equal("author"))
			Expect(roleNamed(org.ID, "author").ID).To(Equal(role.ID))
			Expect(db.eventKinds()).To(ContainElement(domain.EventRoleUpdated))
			Expect(publisher.kinds()).To(HaveExactElements("organization.created", "role.created", "role.updated"))
		})

		It("emits role.updated when the default moves, and nothing when it stays", func() {
			role, err := roles.Create(ctx, service.CreateRoleInput{OrganizationID: org.ID, Name: "guest"})
			Expect(err).NotTo(HaveOccurred())

			_, err = roles.SetDefault(ctx, role.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = roles.SetDefault(ctx, role.ID)
			Expect(err).NotTo(HaveOccurred())

			updates := 0
			for _, k := range db.eventKinds() {
				if k == domain.EventRoleUpdated {
					updates++
				}
			}
			Expect(updates).To(Equal(1))
			Expect(roleNamed(org.ID, model.RoleMember).IsDefault).To(BeFalse())
		})
	})

	Describe("permission resolution", func() {
		var (
			org    *model.Organization
			editor *model.Role
			user   *model.User
		)

		BeforeEach(func() {
			var err error
			org, err = orgs.Create(ctx, "Acme", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			editor, err = roles.Create(ctx, service.CreateRoleInput{
				OrganizationID: org.ID,
				Name:           "editor",
				Permissions:    []string{"posts:read", "posts:write"},
			})
			Expect(err).NotTo(HaveOccurred())
			user = newUser("writer@example.com")
			_, err = memberships.Add(ctx, user.ID, org.ID, &editor.ID)
			Expect(err).NotTo(HaveOccurred())
		})

		It("grants exactly the role's permissions", func() {
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:write")).To(BeTrue())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:delete")).To(BeFalse())
			Expect(access.CheckAny(ctx, user.ID, org.ID, []string{"posts:delete", "posts:read"})).To(BeTrue())
			Expect(access.CheckAll(ctx, user.ID, org.ID, []string{"posts:delete", "posts:read"})).To(BeFalse())
			Expect(access.HasRole(ctx, user.ID, org.ID, "editor")).To(BeTrue())
			Expect(access.Permissions(ctx, user.ID, org.ID)).To(ConsistOf("posts:read", "posts:write"))
		})

		It("resolves false after the role is deleted", func() {
			Expect(roles.Delete(ctx, editor.ID)).To(Succeed())

			m, err := memberships.Get(ctx, user.ID, org.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.RoleID).To(BeNil())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeFalse())
			Expect(access.Permissions(ctx, user.ID, org.ID)).To(BeEmpty())
		})

		It("sees permission changes on the next check", func() {
			_, err := roles.AddPermissions(ctx, editor.ID, []string{"posts:delete"})
			Expect(err).NotTo(HaveOccurred())

			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:delete")).To(BeTrue())
		})

		It("resolves false for non-members and suspended users", func() {
			outsider := newUser("outsider@example.com")
			Expect(access.Resolve(ctx, outsider.ID, org.ID, "posts:read")).To(BeFalse())

			Expect(db.Users().SetStatus(ctx, user.ID, model.UserStatusSuspended)).To(Succeed())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeFalse())
		})

		It("updates rather than duplicates on a second grant", func() {
			member := roleNamed(org.ID, model.RoleMember)

			m, err := memberships.Add(ctx, user.ID, org.ID, &member.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(m.RoleID).To(HaveValue(Equal(member.ID)))
			list, _ := memberships.ListByOrganization(ctx, org.ID)
			Expect(list).To(HaveLen(1))
			Expect(publisher.kinds()).To(ContainElement("membership.updated"))
		})

		It("rejects a role from another organization", func() {
			other, err := orgs.Create(ctx, "Globex", nil, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = memberships.Add(ctx, user.ID, other.ID, &editor.ID)

			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})

		It("stops granting while the membership is suspended", func() {
			suspended := model.MembershipStatusSuspended
			m, err := memberships.Update(ctx, user.ID, org.ID, service.MembershipUpdate{Status: &suspended})

			Expect(err).NotTo(HaveOccurred())
			Expect(m.Status).To(Equal(model.MembershipStatusSuspended))
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeFalse())

			active := model.MembershipStatusActive
			_, err = memberships.Update(ctx, user.ID, org.ID, service.MembershipUpdate{Status: &active})
			Expect(err).NotTo(HaveOccurred())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeTrue())
		})

		It("moves a member to another role and emits membership.updated", func() {
			member := roleNamed(org.ID, model.RoleMember)
			publisher.reset()

			m, err := memberships.Update(ctx, user.ID, org.ID, service.MembershipUpdate{RoleID: &member.ID})

			Expect(err).NotTo(HaveOccurred())
			Expect(m.RoleID).To(HaveValue(Equal(member.ID)))
			Expect(access.HasRole(ctx, user.ID, org.ID, "editor")).To(BeFalse())
			Expect(publisher.kinds()).To(Equal([]string{"membership.updated"}))

			_, err = memberships.Update(ctx, user.ID, org.ID, service.MembershipUpdate{RoleID: &member.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.kinds()).To(HaveLen(1))
		})

		It("rejects an unknown membership status", func() {
			bogus := model.MembershipStatus("frozen")
			_, err := memberships.Update(ctx, user.ID, org.ID, service.MembershipUpdate{Status: &bogus})
			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})

		It("stops granting while the organization is suspended", func() {
			suspended := model.OrganizationStatusSuspended
			_, err := orgs.Update(ctx, org.ID, service.OrganizationUpdate{Status: &suspended})
			Expect(err).NotTo(HaveOccurred())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeFalse())

			active := model.OrganizationStatusActive
			_, err = orgs.Update(ctx, org.ID, service.OrganizationUpdate{Status: &active})
			Expect(err).NotTo(HaveOccurred())
			Expect(access.Resolve(ctx, user.ID, org.ID, "posts:read")).To(BeTrue())
		})
	})

	Describe("OrganizationService updates", func() {
		var org *model.Organization

		BeforeEach(func() {
			var err error
			org, err = orgs.Create(ctx, "Acme", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			publisher.reset()
		})

		It("renames and reslugs, emitting organization.updated once", func() {
			name, slug := "Acme Industries", "Acme Industries"

			updated, err := orgs.Update(ctx, org.ID, service.OrganizationUpdate{Name: &name, Slug: &slug})

			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Name).To(Equal("Acme Industries"))
			Expect(updated.Slug).To(Equal("acme-industries"))
			Expect(publisher.kinds()).To(Equal([]string{"organization.updated"}))

			_, err = orgs.Update(ctx, org.ID, service.OrganizationUpdate{Name: &name})
			Expect(err).NotTo(HaveOccurred())
			Expect(publisher.kinds()).To(HaveLen(1))
		})

		It("refuses a slug held by another organization", func() {
			_, err := orgs.Create(ctx, "Globex", nil, nil)
			Expect(err).NotTo(HaveOccurred())
			taken := "globex"

			_, err = orgs.Update(ctx, org.ID, service.OrganizationUpdate{Slug: &taken})

			var ce *domain.ConflictError
			Expect(errors.As(err, &ce)).To(BeTrue())
			Expect(ce.Constraint).To(Equal("organizations_slug_key"))
		})

		It("only deletes through Delete", func() {
			deleted := model.OrganizationStatusDeleted
			_, err := orgs.Update(ctx, org.ID, service.OrganizationUpdate{Status: &deleted})
			Expect(errors.Is(err, domain.ErrValidation)).To(BeTrue())
		})

		It("soft deletes once and hides the organization from the default listing", func() {
			Expect(orgs.Delete(ctx, org.ID, false)).To(Succeed())
			Expect(orgs.Delete(ctx, org.ID, false)).To(Succeed())

			stored, err := orgs.Get(ctx, org.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Status).To(Equal(model.OrganizationStatusDeleted))
			Expect(publisher.kinds()).To(Equal([]string{"organization.deleted"}))

			listed, err := orgs.List(ctx, nil, 10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(BeEmpty())

			deleted := model.OrganizationStatusDeleted
			listed, err = orgs.List(ctx, &deleted, 10, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(listed).To(HaveLen(1))
		})

		It("hard deletes the organization with its roles", func() {
			Expect(orgs.Delete(ctx, org.ID, true)).To(Succeed())

			_, err := orgs.Get(ctx, org.ID)
			Expect(errors.Is(err, domain.ErrNotFound)).To(BeTrue())
			remaining, _ := db.Roles().ListByOrganization(ctx, org.ID)
			Expect(remaining).To(BeEmpty())
			Expect(db.eventKinds()).To(ContainElement(domain.EventOrganizationDeleted))
		})
	})
})
