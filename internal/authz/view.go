package authz

import (
	"sort"

	"taskflow/backend/internal/models"
)

type Capability string

const (
	UsersManage       Capability = "users:manage"
	UsersRead         Capability = "users:read"
	TasksManage       Capability = "tasks:manage"
	TasksReadAll      Capability = "tasks:read_all"
	TasksReadAssigned Capability = "tasks:read_assigned"
	TasksUpdateStatus Capability = "tasks:update_status"
	DashboardOverview Capability = "dashboard:overview"
	ProfileRead       Capability = "profile:read"
	ProfileUpdate     Capability = "profile:update"
)

type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in lexical order.
func (s CapabilitySet) List() []string {
	out := make([]string, 0, len(s))
	for c := range s {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}

var (
	adminCapabilities = NewCapabilitySet(
		UsersManage, UsersRead,
		TasksManage, TasksReadAll, TasksReadAssigned, TasksUpdateStatus,
		DashboardOverview, ProfileRead, ProfileUpdate,
	)
	userCapabilities = NewCapabilitySet(
		TasksReadAssigned, TasksUpdateStatus, ProfileRead, ProfileUpdate,
	)
)

// View is the closed set of session shapes. Only AdminView and UserView
// implement it.
type View interface {
	Role() models.Role
	Capabilities() CapabilitySet
	// Tabs names the sections a client should offer, in display order.
	Tabs() []string
	sealed()
}

type AdminView struct{}

func (AdminView) Role() models.Role           { return models.RoleAdmin }
func (AdminView) Capabilities() CapabilitySet { return adminCapabilities }
func (AdminView) Tabs() []string              { return []string{"overview", "tasks", "users", "profile"} }
func (AdminView) sealed()                     {}

type UserView struct{}

func (UserView) Role() models.Role           { return models.RoleUser }
func (UserView) Capabilities() CapabilitySet { return userCapabilities }
func (UserView) Tabs() []string              { return []string{"my-tasks", "profile"} }
func (UserView) sealed()                     {}

// ViewFor maps a role onto its view. Anything but admin gets the user view.
func ViewFor(role models.Role) View {
	if role == models.RoleAdmin {
		return AdminView{}
	}
	return UserView{}
}
