package models

import "time"

// ViewName identifies a component the operator shell can mount.
type ViewName string

const (
	ViewDashboard     ViewName = "dashboard"
	ViewPlant         ViewName = "plant"
	ViewNotifications ViewName = "notifications"
	ViewAnalytics     ViewName = "analytics"
)

// Valid reports whether v is a known view.
func (v ViewName) Valid() bool {
	switch v {
	case ViewDashboard, ViewPlant, ViewNotifications, ViewAnalytics:
		return true
	}
	return false
}

// ViewSession describes an operator's shell session.
type ViewSession struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Mounted      []ViewName `json:"mounted"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastAccessed time.Time  `json:"lastAccessed"`
}
