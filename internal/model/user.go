package model

// AuthClaims is the subset of access-token claims the service consumes.
// ActorID is the numeric form of the subject.
type AuthClaims struct {
	UserID  string `json:"sub"`
	ActorID int64  `json:"-"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Type    string `json:"typ"`
	TokenID string `json:"jti"`
}
