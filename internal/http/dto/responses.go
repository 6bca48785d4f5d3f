package dto

type AuthResponse struct {
	Token string `json:"token"`
	User  any    `json:"user"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type RollbackResponse struct {
	EntityType     string `json:"entity_type"`
	EntityID       string `json:"entity_id"`
	RolledBackFrom string `json:"rolled_back_from"`
	TargetVersion  int    `json:"target_version"`
	Entity         any    `json:"entity,omitempty"`
}
