package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "sudooom.storefront/pkg/errors"
)

func TestDecodeMessage_PushPayload(t *testing.T) {
	payload := []byte(`{
		"id": 42,
		"storeId": "S1",
		"senderId": 7,
		"recipientId": "owner-1",
		"senderRole": "BUYER",
		"content": "is this in stock?",
		"createdAt": "2026-03-01T10:00:00Z",
		"sender": {"name": "Alice"}
	}`)

	msg, err := DecodeMessage(payload)
	require.NoError(t, err)
	assert.Equal(t, "42", msg.ID)
	assert.Equal(t, "7", msg.SenderID)
	assert.Equal(t, "owner-1", msg.RecipientID)
	assert.Equal(t, RoleBuyer, msg.SenderRole)
	assert.Equal(t, "Alice", msg.SenderName)
	assert.Equal(t, StateConfirmed, msg.State)
	assert.True(t, msg.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecodeMessage_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"id":`},
		{"missing id", `{"storeId":"S1","senderId":"u","senderRole":"BUYER","createdAt":"2026-03-01T10:00:00Z"}`},
		{"unknown role", `{"id":"1","storeId":"S1","senderId":"u","senderRole":"ADMIN","createdAt":"2026-03-01T10:00:00Z"}`},
		{"missing createdAt", `{"id":"1","storeId":"S1","senderId":"u","senderRole":"SELLER"}`},
		{"id is object", `{"id":{"a":1},"storeId":"S1","senderId":"u","senderRole":"SELLER","createdAt":"2026-03-01T10:00:00Z"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, appErrors.ErrInvalidPayload))
		})
	}
}

func TestDecodeConversations(t *testing.T) {
	convs, err := DecodeConversations([]byte(`[
		{"userId": 11, "userName": "Bob", "lastMessage": "hi", "time": "2026-03-01T10:00:00Z", "unread": true},
		{"userId": "12", "userName": "Eve", "lastMessage": "ok", "time": "2026-03-01T09:00:00Z"}
	]`))
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "11", convs[0].UserID)
	assert.True(t, convs[0].Unread)
	assert.False(t, convs[1].Unread)

	_, err = DecodeConversations([]byte(`[{"userName": "nobody"}]`))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidPayload))
}

func TestDecodeMessagesAndNotifications(t *testing.T) {
	msgs, err := DecodeMessages([]byte(`[{"id":"m1","storeId":"S1","senderId":"b1","senderRole":"BUYER","content":"x","createdAt":"2026-03-01T10:00:00Z"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)

	notes, err := DecodeNotifications([]byte(`[{"id":1,"icon":"bell","title":"New order","message":"#1001","createdAt":"2026-03-01T10:00:00Z"}]`))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "1", notes[0].ID)

	_, err = DecodeNotifications([]byte(`[{"id":1,"title":"","createdAt":"2026-03-01T10:00:00Z"}]`))
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidPayload))
}

func TestMessage_CounterpartFor(t *testing.T) {
	msg := Message{SenderID: "seller", RecipientID: "buyer"}
	assert.Equal(t, "buyer", msg.CounterpartFor("seller"))
	assert.Equal(t, "seller", msg.CounterpartFor("buyer"))
}

func TestCartItem_Subtotal(t *testing.T) {
	item := CartItem{ID: "p1", StoreID: "S1", Price: decimal.RequireFromString("9.99"), Quantity: 3}
	assert.True(t, item.Subtotal().Equal(decimal.RequireFromString("29.97")))
	assert.Equal(t, CartKey{StoreID: "S1", ID: "p1"}, item.Key())
}
