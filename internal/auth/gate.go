package auth

import (
	"go.uber.org/zap"

	"atms/identity/internal/apperr"
	"atms/identity/internal/metrics"
	"atms/identity/internal/policy"
)

var (
	errNotAuthenticated = apperr.Unauthenticated("not_authenticated", "Not authenticated")
	errForbidden        = apperr.Forbidden("forbidden", "Insufficient permissions")
)

// Gate runs the authorization policy and turns a denial into a generic
// client error. Which check failed is only logged.
type Gate struct {
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewGate(log *zap.Logger, m *metrics.Metrics) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{log: log, metrics: m}
}

func (g *Gate) Check(p *policy.Principal, req policy.Requirement, res policy.Resource) (policy.FieldSet, error) {
	d := policy.Authorize(p, req, res)
	role := ""
	if p != nil && p.Role != nil {
		role = p.Role.Name()
	}
	g.metrics.Decision(role, d.Allowed)
	if d.Allowed {
		return d.View, nil
	}

	fields := []zap.Field{zap.String("reason", string(d.Reason)), zap.String("detail", d.Detail), zap.String("role", role)}
	if p != nil {
		fields = append(fields, zap.String("user_id", p.UserID))
	}
	g.log.Info("authorization denied", fields...)

	if d.Reason == policy.ReasonUnauthenticated {
		return nil, errNotAuthenticated
	}
	return nil, errForbidden
}
