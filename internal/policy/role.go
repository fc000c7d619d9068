package policy

import (
	"errors"
	"strings"
)

var ErrUnknownRole = errors.New("unknown role")

type Permission string

const (
	PermRead              Permission = "read"
	PermWrite             Permission = "write"
	PermDelete            Permission = "delete"
	PermShare             Permission = "share"
	PermRevoke            Permission = "revoke"
	PermRequestTranscript Permission = "requestTranscript"
	PermViewShared        Permission = "viewShared"
	PermVerify            Permission = "verify"
	PermCompareHashes     Permission = "compareHashes"
	PermManageVerifiers   Permission = "manageVerifiers"
)

// Role is a closed set of variants. Each variant carries its permissions
// and response-shaping rule; callers never switch on the role name.
type Role interface {
	Name() string
	Permissions() []Permission
	Can(Permission) bool
	rule() rule
}

// rule is the declarative data behind a role.
type rule struct {
	// visible is always shown to the role.
	visible FieldSet
	// withGrant is added when the request is backed by an active sharing grant.
	withGrant FieldSet
	// ownerAccess lets the role reach a resource whose owner address matches
	// its own, even when the endpoint does not list the role.
	ownerAccess bool
	// grantAccess lets the role reach a resource through an active grant.
	grantAccess bool
}

var (
	University Role = university{}
	Student    Role = student{}
	Verifier   Role = verifier{}
	Admin      Role = admin{}
)

// Roles lists every variant in a stable order.
func Roles() []Role {
	return []Role{University, Student, Verifier, Admin}
}

// ParseRole is the single place a role name is turned into a variant.
func ParseRole(name string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range Roles() {
		if r.Name() == name {
			return r, nil
		}
	}
	return nil, ErrUnknownRole
}

type university struct{}

func (university) Name() string { return "university" }
func (university) Permissions() []Permission {
	return []Permission{PermRead, PermWrite, PermDelete, PermShare, PermRevoke}
}
func (r university) Can(p Permission) bool { return can(r, p) }
func (university) rule() rule              { return rule{visible: AllFields()} }

type student struct{}

func (student) Name() string { return "student" }
func (student) Permissions() []Permission {
	return []Permission{PermRead, PermRequestTranscript, PermViewShared}
}
func (r student) Can(p Permission) bool { return can(r, p) }
func (student) rule() rule {
	return rule{
		visible:     AllFields().Without(FieldWalletAddress, FieldTranscriptHash),
		ownerAccess: true,
	}
}

type verifier struct{}

func (verifier) Name() string { return "verifier" }
func (verifier) Permissions() []Permission {
	return []Permission{PermRead, PermVerify, PermCompareHashes}
}
func (r verifier) Can(p Permission) bool { return can(r, p) }
func (verifier) rule() rule {
	return rule{
		visible:     AllFields().Without(FieldWalletAddress, FieldTranscriptHash),
		withGrant:   NewFieldSet(FieldTranscriptHash),
		grantAccess: true,
	}
}

type admin struct{}

func (admin) Name() string { return "admin" }
func (admin) Permissions() []Permission {
	return []Permission{PermRead, PermManageVerifiers}
}
func (r admin) Can(p Permission) bool { return can(r, p) }
func (admin) rule() rule              { return rule{visible: AllFields()} }

func can(r Role, p Permission) bool {
	for _, have := range r.Permissions() {
		if have == p {
			return true
		}
	}
	return false
}

// PermissionNames renders a role's permissions for session payloads.
func PermissionNames(r Role) []string {
	perms := r.Permissions()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}
