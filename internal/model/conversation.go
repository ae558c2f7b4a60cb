package model

import "time"

// Conversation 会话摘要（viewer 视角，按对方用户唯一）
type Conversation struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	LastMessage string    `json:"lastMessage"`
	Time        time.Time `json:"time"`
	Unread      bool      `json:"unread"`
}
