package dto

// CreatePersonRequest payload.
type CreatePersonRequest struct {
	BusinessUnitID int64  `json:"business_unit_id"`
	ClientID       int64  `json:"client_id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
}

// CreateGroupRequest payload.
type CreateGroupRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
