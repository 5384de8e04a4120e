package user

// moderation roles, stored in users.role and carried in the access token
const (
	ROLE_USER      = "USER"
	ROLE_ADMIN     = "ADMIN"
	ROLE_MODERATOR = "MODERATOR"
)

func IsValidRole(role string) bool {
	switch role {
	case ROLE_USER, ROLE_ADMIN, ROLE_MODERATOR:
		return true
	}
	return false
}
