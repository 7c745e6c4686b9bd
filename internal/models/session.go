package models

import (
	"time"
)

// Session is an authenticated login; its ID is the token's jti.
type Session struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	DeviceType string    `json:"device_type"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}
