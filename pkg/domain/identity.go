package domain

// Identity is the authenticated caller for one request.
// A nil *Identity means the request is unauthenticated.
type Identity struct {
	ID   UserID
	Role Role
}

// Is reports whether the identity is present and holds role r.
func (i *Identity) Is(r Role) bool {
	return i != nil && i.Role == r
}
