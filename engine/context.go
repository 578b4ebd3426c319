package engine

// RequestContext carries the per-request identity the engine needs for
// tenant isolation and access control. It is built by the transport
// adapter and never stored between requests.
type RequestContext struct {
	TenantID string
	UserID   string
	Roles    []string
}

// HasRole reports whether the context carries the given role
func (rc *RequestContext) HasRole(role string) bool {
	if rc == nil {
		return false
	}
	for _, r := range rc.Roles {
		if r == role {
			return true
		}
	}
	return false
}
