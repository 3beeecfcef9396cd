package domain

import "slices"

// EventKind names an entry in the event log. Subscribers filter on it.
type EventKind string

const (
	EventUserCreated              EventKind = "user.created"
	EventUserUpdated              EventKind = "user.updated"
	EventUserDeleted              EventKind = "user.deleted"
	EventUserLinked               EventKind = "user.linked"
	EventUserLinkConflict         EventKind = "user.link_conflict"
	EventUserUpsertedFromProvider EventKind = "user.upserted_from_provider"

	EventOrganizationCreated EventKind = "organization.created"
	EventOrganizationUpdated EventKind = "organization.updated"
	EventOrganizationDeleted EventKind = "organization.deleted"

	EventRoleCreated            EventKind = "role.created"
	EventRoleUpdated            EventKind = "role.updated"
	EventRoleDeleted            EventKind = "role.deleted"
	EventRolePermissionsChanged EventKind = "role.permissions_changed"

	EventMembershipCreated EventKind = "membership.created"
	EventMembershipUpdated EventKind = "membership.updated"
	EventMembershipRemoved EventKind = "membership.removed"

	EventInvitationCreated  EventKind = "invitation.created"
	EventInvitationAccepted EventKind = "invitation.accepted"
	EventInvitationRevoked  EventKind = "invitation.revoked"

	EventAPIKeyCreated EventKind = "api_key.created"
	EventAPIKeyUpdated EventKind = "api_key.updated"
	EventAPIKeyRotated EventKind = "api_key.rotated"
	EventAPIKeyRevoked EventKind = "api_key.revoked"
	EventAPIKeyDeleted EventKind = "api_key.deleted"

	EventWebhookSubscriptionDeactivated EventKind = "webhook.subscription_deactivated"
)

// AllEvents is the wildcard subscription kind.
const AllEvents = "*"

var knownKinds = map[EventKind]struct{}{
	EventUserCreated:                    {},
	EventUserUpdated:                    {},
	EventUserDeleted:                    {},
	EventUserLinked:                     {},
	EventUserLinkConflict:               {},
	EventUserUpsertedFromProvider:       {},
	EventOrganizationCreated:            {},
	EventOrganizationUpdated:            {},
	EventOrganizationDeleted:            {},
	EventRoleCreated:                    {},
	EventRoleUpdated:                    {},
	EventRoleDeleted:                    {},
	EventRolePermissionsChanged:         {},
	EventMembershipCreated:              {},
	EventMembershipUpdated:              {},
	EventMembershipRemoved:              {},
	EventInvitationCreated:              {},
	EventInvitationAccepted:             {},
	EventInvitationRevoked:              {},
	EventAPIKeyCreated:                  {},
	EventAPIKeyUpdated:                  {},
	EventAPIKeyRotated:                  {},
	EventAPIKeyRevoked:                  {},
	EventAPIKeyDeleted:                  {},
	EventWebhookSubscriptionDeactivated: {},
}

// ValidSubscriptionKind reports whether s may appear in a subscription's kind list.
func ValidSubscriptionKind(s string) bool {
	if s == AllEvents {
		return true
	}
	_, ok := knownKinds[EventKind(s)]
	return ok
}

// EventKinds lists every kind the system emits.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, len(knownKinds))
	for k := range knownKinds {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
