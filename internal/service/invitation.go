package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"basegraph.app/gatekeeper/common/id"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/store"
)

const InviteTokenLength = 32

var (
	ErrInviteExpired     = errors.New("invitation has expired")
	ErrInviteAlreadyUsed = errors.New("invitation has already been used")
	ErrInviteRevoked     = errors.New("invitation has been revoked")
	ErrEmailMismatch     = errors.New("authenticated email does not match invitation")
)

type InvitationService interface {
	// Create returns the invitation and the URL to send to the invitee.
	Create(ctx context.Context, orgID int64, email string, roleID, invitedBy *int64) (*model.Invitation, string, error)
	Validate(ctx context.Context, token string) (*model.Invitation, error)
	Accept(ctx context.Context, token string, userID int64) (*model.Invitation, *model.Membership, error)
	Revoke(ctx context.Context, id int64) (*model.Invitation, error)
	List(ctx context.Context, orgID int64) ([]model.Invitation, error)
	ExpireStale(ctx context.Context) (int64, error)
}

type invitationService struct {
	tx           TxRunner
	invitations  store.InvitationStore
	publisher    eventbus.Publisher
	dashboardURL string
	ttl          time.Duration
}

func NewInvitationService(tx TxRunner, invitations store.InvitationStore, publisher eventbus.Publisher, dashboardURL string, ttl time.Duration) InvitationService {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &invitationService{
		tx:           tx,
		invitations:  invitations,
		publisher:    publisher,
		dashboardURL: dashboardURL,
		ttl:          ttl,
	}
}

func (s *invitationService) Create(ctx context.Context, orgID int64, email string, roleID, invitedBy *int64) (*model.Invitation, string, error) {
	email = model.NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, "", domain.Validationf("invalid email %q", email)
	}

	token, err := generateToken()
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	inv := &model.Invitation{
		ID:             id.New(),
		OrganizationID: orgID,
		Email:          email,
		RoleID:         roleID,
		Token:          token,
		Status:         model.InvitationStatusPending,
		InvitedBy:      invitedBy,
		ExpiresAt:      now.Add(s.ttl),
	}

	var batch eventbus.Batch
	err = s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		if roleID != nil {
			if _, err := resolveRole(ctx, stores, orgID, roleID); err != nil {
				return err
			}
		}
		// Stale pending rows would otherwise block a fresh invite for the same email.
		if _, err := stores.Invitations().ExpireStale(ctx, now); err != nil {
			return fmt.Errorf("expiring stale invitations: %w", err)
		}
		if err := stores.Invitations().Create(ctx, inv); err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventInvitationCreated,
			OrganizationID: &orgID,
			SubjectIDs:     []string{idString(inv.ID)},
			Data: map[string]any{
				"invitation_id": idString(inv.ID),
				"org_id":        idString(orgID),
				"email":         inv.Email,
				"expires_at":    inv.ExpiresAt,
			},
		})
	})
	if err != nil {
		return nil, "", err
	}
	s.publisher.Publish(ctx, batch.Events()...)

	inviteURL := fmt.Sprintf("%s/invite?token=%s", s.dashboardURL, token)
	slog.InfoContext(ctx, "invitation created",
		"invitation_id", inv.ID,
		"organization_id", orgID,
		"expires_at", inv.ExpiresAt)
	return inv, inviteURL, nil
}

func (s *invitationService) Validate(ctx context.Context, token string) (*model.Invitation, error) {
	inv, err := s.invitations.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return inv, checkUsable(inv, time.Now())
}

// Accept consumes the invitation and grants the membership in one
// transaction. The accepting user's email must match the invitation.
func (s *invitationService) Accept(ctx context.Context, token string, userID int64) (*model.Invitation, *model.Membership, error) {
	var (
		accepted *model.Invitation
		m        *model.Membership
		batch    eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		inv, err := stores.Invitations().GetByToken(ctx, token)
		if err != nil {
			return err
		}
		if err := checkUsable(inv, time.Now()); err != nil {
			return err
		}

		user, err := stores.Users().GetByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("user %d: %w", userID, err)
		}
		if model.NormalizeEmail(user.Email) != inv.Email {
			return ErrEmailMismatch
		}

		accepted, err = stores.Invitations().Accept(ctx, inv.ID, user.ID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrInviteAlreadyUsed
		}
		if err != nil {
			return err
		}

		m, err = upsertMembership(ctx, stores, &batch, user.ID, inv.OrganizationID, inv.RoleID)
		if err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventInvitationAccepted,
			OrganizationID: &inv.OrganizationID,
			SubjectIDs:     []string{idString(inv.ID), idString(user.ID)},
			Data: map[string]any{
				"invitation_id": idString(inv.ID),
				"org_id":        idString(inv.OrganizationID),
				"user_id":       idString(user.ID),
			},
		})
	})
	if err != nil {
		return nil, nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return accepted, m, nil
}

func (s *invitationService) Revoke(ctx context.Context, id int64) (*model.Invitation, error) {
	var (
		revoked *model.Invitation
		batch   eventbus.Batch
	)
	err := s.tx.WithTx(ctx, func(stores StoreProvider) error {
		batch.Reset()
		inv, err := stores.Invitations().GetByID(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case model.InvitationStatusAccepted:
			return ErrInviteAlreadyUsed
		case model.InvitationStatusRevoked:
			return ErrInviteRevoked
		}

		revoked, err = stores.Invitations().Revoke(ctx, id)
		if err != nil {
			return err
		}
		return batch.Add(ctx, stores.Events(), eventbus.Draft{
			Kind:           domain.EventInvitationRevoked,
			OrganizationID: &inv.OrganizationID,
			SubjectIDs:     []string{idString(inv.ID)},
			Data: map[string]any{
				"invitation_id": idString(inv.ID),
				"org_id":        idString(inv.OrganizationID),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, batch.Events()...)
	return revoked, nil
}

func (s *invitationService) List(ctx context.Context, orgID int64) ([]model.Invitation, error) {
	return s.invitations.ListByOrganization(ctx, orgID)
}

func (s *invitationService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.invitations.ExpireStale(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("expiring invitations: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "expired stale invitations", "count", n)
	}
	return n, nil
}

func checkUsable(inv *model.Invitation, now time.Time) error {
	switch inv.Status {
	case model.InvitationStatusAccepted:
		return ErrInviteAlreadyUsed
	case model.InvitationStatusRevoked:
		return ErrInviteRevoked
	case model.InvitationStatusExpired:
		return ErrInviteExpired
	}
	if !inv.IsValid(now) {
		return ErrInviteExpired
	}
	return nil
}

func generateToken() (string, error) {
	b := make([]byte, InviteTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating invitation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
