package rbac

import (
	"github.com/upb/authz-gateway/models"
)

// Permission is one entry of an effective permission set
type Permission struct {
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Name     string `json:"name"`
}

type pair struct {
	resource string
	action   string
}

// PermissionSet is the resolved view of a subject: role names plus the
// union of permissions granted through them
type PermissionSet struct {
	Roles       []string     `json:"roles"`
	Permissions []Permission `json:"permissions"`

	byPair map[pair]struct{}
	byName map[string]struct{}
}

func newPermissionSet(roles []*models.Role, perms []*models.Permission) *PermissionSet {
	set := &PermissionSet{
		Roles:       make([]string, 0, len(roles)),
		Permissions: make([]Permission, 0, len(perms)),
	}
	for _, r := range roles {
		set.Roles = append(set.Roles, r.Name)
	}
	for _, p := range perms {
		set.Permissions = append(set.Permissions, Permission{Resource: p.Resource, Action: p.Action, Name: p.Name})
	}
	set.index()
	return set
}

func (s *PermissionSet) index() {
	s.byPair = make(map[pair]struct{}, len(s.Permissions))
	s.byName = make(map[string]struct{}, len(s.Permissions))
	for _, p := range s.Permissions {
		s.byPair[pair{p.Resource, p.Action}] = struct{}{}
		if p.Name != "" {
			s.byName[p.Name] = struct{}{}
		}
	}
}

// HasRole reports whether the subject holds the named role
func (s *PermissionSet) HasRole(name string) bool {
	for _, r := range s.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Has tests p by resource/action when both are set, else by name.
// A predicate with neither never matches.
func (s *PermissionSet) Has(p Predicate) bool {
	if p.hasPair() {
		_, ok := s.byPair[pair{p.Resource, p.Action}]
		return ok
	}
	if p.Name != "" {
		_, ok := s.byName[p.Name]
		return ok
	}
	return false
}
