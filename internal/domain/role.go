package domain

// Role identifies a buyer segment. Pricing tiers are resolved per role, so
// role is always an explicit parameter on pricing operations rather than
// ambient state.
type Role string

// Buyer roles.
const (
	RoleRetail      Role = "retail"
	RoleWholesaler  Role = "wholesaler"
	RoleDistributor Role = "distributor"
	RoleDealer      Role = "dealer"
	RoleVIP         Role = "vip"
)

// Roles returns the set of valid buyer roles.
func Roles() []Role {
	return []Role{RoleRetail, RoleWholesaler, RoleDistributor, RoleDealer, RoleVIP}
}

// Valid checks whether the role is a known buyer role.
func (r Role) Valid() bool {
	for _, v := range Roles() {
		if v == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }
