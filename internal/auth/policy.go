package auth

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// Resources guarded by the route policy.
const (
	ResIncident     = "incident"
	ResSOS          = "sos"
	ResCommunity    = "community"
	ResPost         = "post"
	ResComment      = "comment"
	ResNotification = "notification"
	ResUser         = "user"
)

// Actions guarded by the route policy.
const (
	ActRead     = "read"
	ActCreate   = "create"
	ActUpdate   = "update"
	ActDelete   = "delete"
	ActCancel   = "cancel"
	ActTriage   = "triage"
	ActReact    = "react"
	ActModerate = "moderate"
	ActAudit    = "audit"
	ActAssign   = "assign_role"
)

const policyModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

// Responders inherit every civilian permission, admins inherit every responder permission.
var defaultPolicy = [][]string{
	{string(user.RoleCivilian), ResIncident, ActCreate},
	{string(user.RoleCivilian), ResIncident, ActRead},
	{string(user.RoleCivilian), ResIncident, ActUpdate},
	{string(user.RoleCivilian), ResIncident, ActDelete},
	{string(user.RoleCivilian), ResSOS, ActCreate},
	{string(user.RoleCivilian), ResSOS, ActRead},
	{string(user.RoleCivilian), ResSOS, ActCancel},
	{string(user.RoleCivilian), ResCommunity, ActRead},
	{string(user.RoleCivilian), ResPost, ActRead},
	{string(user.RoleCivilian), ResPost, ActCreate},
	{string(user.RoleCivilian), ResPost, ActDelete},
	{string(user.RoleCivilian), ResPost, ActReact},
	{string(user.RoleCivilian), ResComment, ActCreate},
	{string(user.RoleCivilian), ResComment, ActDelete},
	{string(user.RoleCivilian), ResNotification, ActRead},
	{string(user.RoleCivilian), ResNotification, ActUpdate},
	{string(user.RoleCivilian), ResNotification, ActDelete},

	{string(user.RoleResponder), ResIncident, ActTriage},
	{string(user.RoleResponder), ResSOS, ActTriage},
	{string(user.RoleResponder), ResCommunity, ActCreate},
	{string(user.RoleResponder), ResPost, ActModerate},

	{string(user.RoleAdmin), "*", "*"},
}

var defaultGroups = [][]string{
	{string(user.RoleResponder), string(user.RoleCivilian)},
	{string(user.RoleAdmin), string(user.RoleResponder)},
}

// Policy answers role -> (resource, action) questions for route guards.
// Ownership and lifecycle guards stay in the domain packages.
type Policy struct {
	enforcer *casbin.Enforcer
}

// NewPolicy builds the in-memory enforcer with the default role table.
func NewPolicy() (*Policy, error) {
	m, err := model.NewModelFromString(policyModel)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for _, g := range defaultGroups {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, err
		}
	}
	for _, p := range defaultPolicy {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, err
		}
	}
	return &Policy{enforcer: e}, nil
}

// Allowed reports whether role may perform act on obj.
func (p *Policy) Allowed(role user.Role, obj, act string) bool {
	if p == nil || p.enforcer == nil || !role.Valid() {
		return false
	}
	ok, err := p.enforcer.Enforce(string(role), obj, act)
	return err == nil && ok
}

// CheckPerm guards a route with the role policy. It must run after RequireAuth.
func CheckPerm(opt Options, obj, act string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor, ok := ActorFrom(c)
		if !ok {
			return utils.SendError(c, utils.NewError(fiber.StatusUnauthorized, "Authentication required"))
		}

		if !opt.Policy.Allowed(actor.Role, obj, act) {
			opt.Logger.Warn(c.UserContext()).WithMeta(utils.Map{
				"user_id":  actor.ID.String(),
				"role":     string(actor.Role),
				"resource": obj,
				"action":   act,
			}).Logs("Insufficient permissions")
			return utils.SendError(c, utils.Forbidden("Insufficient permissions"))
		}

		return c.Next()
	}
}
