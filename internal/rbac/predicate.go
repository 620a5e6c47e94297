package rbac

import (
	"strings"
)

// Predicate names one permission, either by resource and action or by name.
// Resource and action together take precedence over name.
type Predicate struct {
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Perm builds a resource/action predicate
func Perm(resource, action string) Predicate {
	return Predicate{Resource: resource, Action: action}
}

// Named builds a name predicate
func Named(name string) Predicate {
	return Predicate{Name: name}
}

func (p Predicate) hasPair() bool {
	return p.Resource != "" && p.Action != ""
}

// String renders "resource:action", the name, or "" for an empty predicate
func (p Predicate) String() string {
	if p.hasPair() {
		return p.Resource + ":" + p.Action
	}
	return p.Name
}

// Mode selects how a requirement combines its predicates
type Mode int

const (
	ModeAny Mode = iota
	ModeAll
)

func (m Mode) String() string {
	if m == ModeAll {
		return "all"
	}
	return "any"
}

// Requirement is the authorization rule attached to a route
type Requirement struct {
	Predicates []Predicate
	Mode       Mode
}

// Require is a single resource/action requirement
func Require(resource, action string) Requirement {
	return Requirement{Predicates: []Predicate{Perm(resource, action)}}
}

// RequireName is a single name requirement
func RequireName(name string) Requirement {
	return Requirement{Predicates: []Predicate{Named(name)}}
}

// RequireAny is satisfied by any one of predicates
func RequireAny(predicates ...Predicate) Requirement {
	return Requirement{Predicates: predicates, Mode: ModeAny}
}

// RequireAll is satisfied only by every one of predicates
func RequireAll(predicates ...Predicate) Requirement {
	return Requirement{Predicates: predicates, Mode: ModeAll}
}

// Names lists the rendered predicates
func (r Requirement) Names() []string {
	names := make([]string, len(r.Predicates))
	for i, p := range r.Predicates {
		names[i] = p.String()
	}
	return names
}

// String renders the requirement for error messages
func (r Requirement) String() string {
	if len(r.Predicates) == 1 {
		return r.Predicates[0].String()
	}
	return r.Mode.String() + "(" + strings.Join(r.Names(), ", ") + ")"
}
