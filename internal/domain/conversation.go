package domain

import "time"

type Conversation struct {
	ID        string    `json:"id"`
	RoleType  string    `json:"role_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
