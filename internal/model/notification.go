package model

import "time"

// Notification 通用动态通知，仅参与角标计数
type Notification struct {
	ID        string    `json:"id"`
	Icon      string    `json:"icon,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
