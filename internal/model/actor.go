package model

import "strings"

// ActorRole is who produced an interaction relative to the workspace.
type ActorRole string

// Actor roles.
const (
	RoleCustomer ActorRole = "customer"
	RoleInternal ActorRole = "internal"
	RoleUnknown  ActorRole = "unknown"
)

// ParseActorRole maps stored role names onto ActorRole; anything
// unrecognized is RoleUnknown.
func ParseActorRole(s string) ActorRole {
	switch ActorRole(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCustomer:
		return RoleCustomer
	case RoleInternal:
		return RoleInternal
	default:
		return RoleUnknown
	}
}
