package domain

// Group represents a ticket queue owned by several people.
type Group struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
}
