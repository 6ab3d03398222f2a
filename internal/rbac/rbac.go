package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleShop   Role = "shop"
	RoleOffice Role = "office"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead      Action = "read"
	ActionMove      Action = "move"
	ActionAttach    Action = "attach"
	ActionEdit      Action = "edit"
	ActionRebalance Action = "rebalance"
)

// Can reports whether role may perform action. Shop staff move cards and
// upload photos from the floor; office staff also create and edit jobs.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOffice:
		return action == ActionRead || action == ActionMove || action == ActionAttach || action == ActionEdit
	case RoleShop:
		return action == ActionRead || action == ActionMove || action == ActionAttach
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleShop, RoleOffice, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
