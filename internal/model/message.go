package model

import "time"

// SenderRole 消息发送方角色
type SenderRole string

const (
	RoleBuyer  SenderRole = "BUYER"
	RoleSeller SenderRole = "SELLER"
)

// Valid 是否为已知角色
func (r SenderRole) Valid() bool {
	return r == RoleBuyer || r == RoleSeller
}

// DeliveryState 客户端本地投递状态（不序列化）
type DeliveryState int

const (
	StateConfirmed DeliveryState = iota // 服务端已确认
	StatePending                        // 乐观回显，等待确认
	StateFailed                         // 发送失败
)

// Message 消息实体，创建后不可变
type Message struct {
	ID          string        `json:"id"`
	ClientMsgID string        `json:"clientMsgId,omitempty"`
	StoreID     string        `json:"storeId"`
	SenderID    string        `json:"senderId"`
	RecipientID string        `json:"recipientId,omitempty"`
	SenderRole  SenderRole    `json:"senderRole"`
	SenderName  string        `json:"senderName,omitempty"`
	Content     string        `json:"content"`
	CreatedAt   time.Time     `json:"createdAt"`
	State       DeliveryState `json:"-"`
}

// CounterpartFor 从 viewer 视角计算对方 ID
// viewer 是发送方时取接收方，否则取发送方
func (m Message) CounterpartFor(viewerID string) string {
	if m.SenderID == viewerID {
		return m.RecipientID
	}
	return m.SenderID
}

// Pending 是否为未确认的本地回显
func (m Message) Pending() bool {
	return m.State == StatePending
}
