package rbac

type Role string
type Action string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleOwner  Role = "owner"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleWriter:
		return action == ActionRead || action == ActionWrite
	case RoleReader:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or empty access rights to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleOwner:
		return Role(role)
	default:
		return RoleReader
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleReader, RoleWriter, RoleOwner:
		return true
	default:
		return false
	}
}
