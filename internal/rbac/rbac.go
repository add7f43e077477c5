package rbac

type Role string
type Action string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

const (
	// ActionRead covers listing tags, recommendations and the explorer graph.
	ActionRead Action = "read"
	// ActionTag allows adding tags and removing the caller's own associations.
	ActionTag Action = "tag"
	// ActionModerate allows removing public associations under the owner-only policy.
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action == ActionRead || action == ActionTag || action == ActionModerate
	case RoleEditor:
		return action == ActionRead || action == ActionTag
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleEditor, RoleAdmin:
		return true
	default:
		return false
	}
}
