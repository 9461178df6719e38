package models

// Target is a destination that receives forwarded webhook events.
type Target struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Name      string            `json:"name"`
	URL       string            `json:"url"`
	Active    bool              `json:"active"`
	Headers   map[string]string `json:"headers"`
	TimeoutMS int               `json:"timeout_ms"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

// TargetFields carries the mutable fields of a Target. Nil fields (a nil
// Headers map included) are left unchanged on update and take their defaults
// on create.
type TargetFields struct {
	Name      *string           `json:"name" validate:"omitnil,min=1,max=255"`
	URL       *string           `json:"url" validate:"omitnil,httpurl,max=2048"`
	Active    *bool             `json:"active"`
	Headers   map[string]string `json:"headers" validate:"omitempty,dive,keys,header_name,endkeys,header_value"`
	TimeoutMS *int              `json:"timeout_ms" validate:"omitnil,min=1,max=2147483647"`
}
