package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"sudooom.storefront/internal/model"
	appErrors "sudooom.storefront/pkg/errors"
)

// SendRequest 发送消息请求
type SendRequest struct {
	Content     string `json:"content"`
	StoreID     string `json:"storeId"`
	RecipientID string `json:"recipientId,omitempty"`
	ClientMsgID string `json:"clientMsgId,omitempty"`
}

type readRequest struct {
	OtherUserID string `json:"otherUserId"`
	StoreID     string `json:"storeId"`
}

type unreadCountResponse struct {
	Count int `json:"count"`
}

// FetchConversations 拉取会话列表
func (c *Client) FetchConversations(ctx context.Context, storeID string) ([]model.Conversation, error) {
	data, err := c.do(ctx, http.MethodGet, "/chat/conversations", url.Values{"storeId": {storeID}}, nil)
	if err != nil {
		return nil, err
	}
	return model.DecodeConversations(data)
}

// FetchMessages 拉取与某个对方用户的历史消息
func (c *Client) FetchMessages(ctx context.Context, storeID, otherUserID string) ([]model.Message, error) {
	query := url.Values{"storeId": {storeID}, "otherUserId": {otherUserID}}
	data, err := c.do(ctx, http.MethodGet, "/chat/messages", query, nil)
	if err != nil {
		return nil, err
	}
	return model.DecodeMessages(data)
}

// SendMessage 发送消息，返回服务端确认后的规范消息
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (model.Message, error) {
	data, err := c.do(ctx, http.MethodPost, "/chat/send", nil, req)
	if err != nil {
		return model.Message{}, err
	}
	return model.DecodeMessage(data)
}

// MarkRead 上报已读回执
func (c *Client) MarkRead(ctx context.Context, storeID, otherUserID string) error {
	_, err := c.do(ctx, http.MethodPost, "/chat/read", nil, readRequest{OtherUserID: otherUserID, StoreID: storeID})
	return err
}

// UnreadCount 获取聊天未读数
func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	data, err := c.do(ctx, http.MethodGet, "/chat/unread-count", nil, nil)
	if err != nil {
		return 0, err
	}
	var resp unreadCountResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, appErrors.ErrInvalidPayload.Wrap(err)
	}
	if resp.Count < 0 {
		resp.Count = 0
	}
	return resp.Count, nil
}

// Notifications 获取店铺的动态通知
func (c *Client) Notifications(ctx context.Context, storeID string) ([]model.Notification, error) {
	data, err := c.do(ctx, http.MethodGet, "/analytics/notifications/"+url.PathEscape(storeID), nil, nil)
	if err != nil {
		return nil, err
	}
	return model.DecodeNotifications(data)
}
