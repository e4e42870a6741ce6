package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/opinionmkt/opiniond/internal/domain"
)

// Role names a capability required by privileged operations. Roles are flat
// capabilities checked at the top of each privileged call; there is no
// hierarchy beyond admin being able to grant the others.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleTreasury  Role = "treasury"
	RoleOperator  Role = "operator"
)

var validRoles = map[Role]bool{
	RoleAdmin:     true,
	RoleModerator: true,
	RoleTreasury:  true,
	RoleOperator:  true,
}

// HasRole reports whether the account holds the role. Admin implies every
// other role so recovery operations never dead-end on a missing grant.
func (e *Engine) HasRole(account common.Address, role Role) bool {
	if e.roles[RoleAdmin][account] {
		return true
	}
	return e.roles[role][account]
}

// requireRole is the capability check evaluated before any privileged
// mutation.
func (e *Engine) requireRole(caller common.Address, role Role) error {
	if !e.HasRole(caller, role) {
		return domain.ErrUnauthorized
	}
	return nil
}

func (e *Engine) grant(role Role, account common.Address) {
	m, ok := e.roles[role]
	if !ok {
		m = make(map[common.Address]bool)
		e.roles[role] = m
	}
	m[account] = true
}

// GrantRole gives an account a role. Admin only.
func (e *Engine) GrantRole(c Call, role Role, account common.Address) error {
	if err := e.requireRole(c.Caller, RoleAdmin); err != nil {
		return err
	}
	if !validRoles[role] {
		return domain.ErrNotFound
	}
	if e.roles[role][account] {
		return domain.ErrAlreadyExists
	}
	e.grant(role, account)
	e.commit()
	return nil
}

// RevokeRole removes a role from an account. Admin only. Revoking the last
// admin is refused so the engine cannot lock itself out.
func (e *Engine) RevokeRole(c Call, role Role, account common.Address) error {
	if err := e.requireRole(c.Caller, RoleAdmin); err != nil {
		return err
	}
	if !e.roles[role][account] {
		return domain.ErrNotFound
	}
	if role == RoleAdmin && len(e.roles[RoleAdmin]) == 1 {
		return domain.ErrUnauthorized
	}
	delete(e.roles[role], account)
	e.commit()
	return nil
}
