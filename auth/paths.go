package auth

// Endpoint paths, relative to the service base URL.
// All consumed routes are defined here so the gateway and the test server agree on them.
const (
	PathLogin        = "/auth/login"
	PathLogout       = "/auth/logout"
	PathRefreshToken = "/auth/refresh-token"
	PathProfile      = "/auth/profile"
	PathCheckSession = "/auth/check-session"
	PathLock         = "/auth/lock"
	PathUnlock       = "/auth/unlock"

	// PathEvents is the websocket stream of server-side session events.
	PathEvents = "/auth/events"
)
