package domain

// Person models an individual assignee.
type Person struct {
	ID             int64  `json:"id"`
	TenantID       int64  `json:"tenant_id"`
	BusinessUnitID int64  `json:"business_unit_id"`
	ClientID       int64  `json:"client_id"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Active         bool   `json:"active"`
}
