package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	AuthKey          = "authenticated"
	KeyUserID        = "user_id"
	KeyUsername      = "username"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
	KeyPlan          = "user_plan"
	// KeyAuthMethod records how the request authenticated: session, jwt or api_key.
	KeyAuthMethod = "auth_method"

	localsKey = "USER_CONTEXT"
)
