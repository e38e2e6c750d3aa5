package auth

const (
	StatusActive   = "active"
	StatusDisabled = "disabled"
)

// Principal is an authenticated identity. It stays immutable for the life of
// a request, whether the request runs as the principal itself or as an
// impersonated target.
type Principal struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Status string `json:"status"`
}

// IsActive reports whether the principal may authenticate at all.
func (p Principal) IsActive() bool {
	return p.Status == StatusActive
}
