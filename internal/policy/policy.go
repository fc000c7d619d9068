// Package policy decides whether a session may reach a resource and which
// response fields it may see.
package policy

import (
	"strings"
	"time"

	"atms/identity/internal/model"
)

type Principal struct {
	UserID        string
	Role          Role
	WalletAddress string
	Details       model.AccountDetails
}

// Requirement describes what an endpoint accepts. A principal passes the
// role check when its role is listed (or Roles is empty) and it holds
// Permission (when set). AllowOwner and AllowGrant open the single target
// resource to roles whose rule carries owner or grant access.
type Requirement struct {
	Roles      []Role
	Permission Permission
	AllowOwner bool
	AllowGrant bool
}

// Resource holds the facts about the target resource, resolved by the
// caller before Authorize runs.
type Resource struct {
	OwnerAddress string
	// Grant is the sharing grant between the resource and the principal's
	// address, if one exists.
	Grant *model.Grant
	Now   time.Time
}

type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonUnauthenticated         Reason = "unauthenticated"
	ReasonInsufficientPermissions Reason = "insufficient_permissions"
)

type Decision struct {
	Allowed bool
	Reason  Reason
	// Detail says which check failed. It is for logs and must not be sent
	// to clients.
	Detail string
	View   FieldSet
}

func Authorize(p *Principal, req Requirement, res Resource) Decision {
	if p == nil || p.Role == nil {
		return deny(ReasonUnauthenticated, "no_session")
	}
	r := p.Role.rule()
	grantActive := activeGrant(p, res)

	if roleListed(p.Role, req.Roles) {
		if req.Permission == "" || p.Role.Can(req.Permission) {
			return allow(r, grantActive)
		}
	}
	if req.AllowOwner && r.ownerAccess && res.OwnerAddress != "" && strings.EqualFold(res.OwnerAddress, p.WalletAddress) {
		return allow(r, false)
	}
	if req.AllowGrant && r.grantAccess && grantActive {
		return allow(r, true)
	}

	switch {
	case req.AllowGrant && r.grantAccess:
		return deny(ReasonInsufficientPermissions, "no_active_grant")
	case req.AllowOwner && r.ownerAccess:
		return deny(ReasonInsufficientPermissions, "not_resource_owner")
	case !roleListed(p.Role, req.Roles):
		return deny(ReasonInsufficientPermissions, "role_not_allowed")
	default:
		return deny(ReasonInsufficientPermissions, "missing_permission")
	}
}

func allow(r rule, grantActive bool) Decision {
	view := r.visible
	if grantActive && len(r.withGrant) > 0 {
		view = view.Union(r.withGrant)
	}
	return Decision{Allowed: true, View: view}
}

func deny(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail, View: FieldSet{}}
}

func roleListed(role Role, roles []Role) bool {
	if len(roles) == 0 {
		return true
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func activeGrant(p *Principal, res Resource) bool {
	if res.Grant == nil {
		return false
	}
	if !strings.EqualFold(res.Grant.VerifierAddress, p.WalletAddress) {
		return false
	}
	return res.Grant.ActiveAt(res.Now)
}
