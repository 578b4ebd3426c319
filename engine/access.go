package engine

import "github.com/tablekit/tablekit/schema"

// AccessPolicy decides whether a request may touch a resource. It runs
// before any query is compiled and must not perform I/O.
type AccessPolicy func(resource *schema.Resource, rc *RequestContext) bool

// CheckAccess is the default policy: when the resource configures a role
// set, the request's roles must intersect it. An empty or absent access
// rule means no restriction.
func CheckAccess(resource *schema.Resource, rc *RequestContext) bool {
	if resource.Access == nil || len(resource.Access.Roles) == 0 {
		return true
	}
	for _, role := range resource.Access.Roles {
		if rc.HasRole(role) {
			return true
		}
	}
	return false
}
