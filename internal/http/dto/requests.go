package dto

type TokenRequest struct {
	Email string `json:"email"`
}
