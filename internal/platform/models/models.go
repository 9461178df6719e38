package models

type User struct {
	ID                   string `json:"id"`
	Email                string `json:"email"`
	Name                 string `json:"name"`
	PasswordHash         string `json:"-"`
	FacebookUserID       string `json:"facebook_user_id,omitempty"`
	FacebookAccessToken  string `json:"-"`
	FacebookTokenExpires *int64 `json:"facebook_token_expires,omitempty"`
	FacebookConnectedAt  *int64 `json:"facebook_connected_at,omitempty"`
	CreatedAt            int64  `json:"created_at"`
	UpdatedAt            int64  `json:"updated_at"`
}

type FacebookStatus struct {
	Connected   bool   `json:"connected"`
	ConnectedAt *int64 `json:"connected_at"`
}

// FacebookConnection is the result of a completed OAuth exchange.
type FacebookConnection struct {
	FacebookUserID string
	AccessToken    string
	TokenExpires   *int64
}
