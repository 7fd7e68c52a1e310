package model

import "time"

// Device is one registered LED controller. The device id is chosen by the
// firmware at first registration and used as the primary key; devices are
// never deleted, absence means "never registered".
type Device struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	MAC        string    `gorm:"index" json:"mac,omitempty"`
	Model      string    `json:"model"`
	Firmware   string    `json:"firmware"`
	Name       string    `json:"name"`
	WifiSSID   string    `json:"-"`
	WifiPass   string    `json:"-"`
	Status     string    `json:"status"`
	LastOnline time.Time `json:"last_online"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)
