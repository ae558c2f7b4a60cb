package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	appErrors "sudooom.storefront/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// FlexID 兼容字符串与数字两种 JSON 形式的 ID
type FlexID string

// UnmarshalJSON 实现 json.Unmarshaler
func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or a number: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

type wireSender struct {
	Name string `json:"name"`
}

type wireMessage struct {
	ID          FlexID      `json:"id" validate:"required"`
	ClientMsgID string      `json:"clientMsgId"`
	StoreID     FlexID      `json:"storeId" validate:"required"`
	SenderID    FlexID      `json:"senderId" validate:"required"`
	RecipientID FlexID      `json:"recipientId"`
	SenderRole  SenderRole  `json:"senderRole" validate:"required,oneof=BUYER SELLER"`
	SenderName  string      `json:"senderName"`
	Sender      *wireSender `json:"sender"`
	Content     string      `json:"content"`
	CreatedAt   time.Time   `json:"createdAt" validate:"required"`
}

func (w wireMessage) toModel() Message {
	name := w.SenderName
	if name == "" && w.Sender != nil {
		name = w.Sender.Name
	}
	return Message{
		ID:          string(w.ID),
		ClientMsgID: w.ClientMsgID,
		StoreID:     string(w.StoreID),
		SenderID:    string(w.SenderID),
		RecipientID: string(w.RecipientID),
		SenderRole:  w.SenderRole,
		SenderName:  name,
		Content:     w.Content,
		CreatedAt:   w.CreatedAt,
	}
}

type wireConversation struct {
	UserID      FlexID    `json:"userId" validate:"required"`
	UserName    string    `json:"userName"`
	LastMessage string    `json:"lastMessage"`
	Time        time.Time `json:"time"`
	Unread      bool      `json:"unread"`
}

type wireNotification struct {
	ID        FlexID    `json:"id" validate:"required"`
	Icon      string    `json:"icon"`
	Title     string    `json:"title" validate:"required"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

// DecodeMessage 解析并校验单条消息（推送载荷或发送响应）
func DecodeMessage(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, appErrors.ErrInvalidPayload.Wrap(err)
	}
	if err := validate.Struct(w); err != nil {
		return Message{}, appErrors.ErrInvalidPayload.Wrap(err)
	}
	return w.toModel(), nil
}

// DecodeMessages 解析消息列表，任何一条不合法则整体失败
func DecodeMessages(data []byte) ([]Message, error) {
	var ws []wireMessage
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, appErrors.ErrInvalidPayload.Wrap(err)
	}
	msgs := make([]Message, 0, len(ws))
	for i, w := range ws {
		if err := validate.Struct(w); err != nil {
			return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("message[%d]: %w", i, err))
		}
		msgs = append(msgs, w.toModel())
	}
	return msgs, nil
}

// DecodeConversations 解析会话列表
func DecodeConversations(data []byte) ([]Conversation, error) {
	var ws []wireConversation
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, appErrors.ErrInvalidPayload.Wrap(err)
	}
	convs := make([]Conversation, 0, len(ws))
	for i, w := range ws {
		if err := validate.Struct(w); err != nil {
			return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("conversation[%d]: %w", i, err))
		}
		convs = append(convs, Conversation{
			UserID:      string(w.UserID),
			UserName:    w.UserName,
			LastMessage: w.LastMessage,
			Time:        w.Time,
			Unread:      w.Unread,
		})
	}
	return convs, nil
}

// DecodeNotifications 解析通知列表
func DecodeNotifications(data []byte) ([]Notification, error) {
	var ws []wireNotification
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, appErrors.ErrInvalidPayload.Wrap(err)
	}
	items := make([]Notification, 0, len(ws))
	for i, w := range ws {
		if err := validate.Struct(w); err != nil {
			return nil, appErrors.ErrInvalidPayload.Wrap(fmt.Errorf("notification[%d]: %w", i, err))
		}
		items = append(items, Notification{
			ID:        string(w.ID),
			Icon:      w.Icon,
			Title:     w.Title,
			Message:   w.Message,
			CreatedAt: w.CreatedAt,
		})
	}
	return items, nil
}
