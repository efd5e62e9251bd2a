package model

import "strings"

// Role is a named permission group attached to a user.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// User is the signed-in account as returned by the auth endpoints.
type User struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email"`
	Roles     []Role `json:"roles"`
}

// DisplayName returns the best available human-readable name.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	full := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if full != "" {
		return full
	}
	return u.Email
}

// RoleNames returns the names of the user's roles in server order.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Session is the client-held authentication state. A Session without a
// token never carries a user.
type Session struct {
	Token string
	User  *User
}

// Active reports whether the session holds both a token and a user.
func (s Session) Active() bool {
	return s.Token != "" && s.User != nil
}

// ProjectSettings are the organisation-wide rules for project/client links.
type ProjectSettings struct {
	AllowMultipleClientsPerProject bool `json:"allow_multiple_clients_per_project"`
	RequireProjectClient           bool `json:"require_project_client"`
	MaxClientsPerProject           int  `json:"max_clients_per_project"`
}
