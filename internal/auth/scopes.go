package auth

// OAuth scopes understood by the cadence API.
const (
	ScopeCadenceWrite   = "cadence:write"
	ScopeCadenceRead    = "cadence:read"
	ScopeTemplatesWrite = "templates:write"
)
