package domain

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string // Subject (sub) assigned by the identity provider
	Email       string
	Name        string
	LastLoginAt *time.Time // Nullable, set on each successful sign-in
	IsDeleted   bool
	Metadata    json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
