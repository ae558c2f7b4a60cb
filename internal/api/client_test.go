package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.storefront/internal/config"
	appErrors "sudooom.storefront/pkg/errors"
)

func newTestClient(t *testing.T, handler http.Handler, cfg config.APIConfig) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL + "/"
	return NewClient(cfg, "test-token")
}

func TestClient_FetchConversations(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/chat/conversations", r.URL.Path)
		assert.Equal(t, "S1", r.URL.Query().Get("storeId"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"userId":"b1","userName":"Bob","lastMessage":"hi","time":"2026-03-01T10:00:00Z","unread":true}]`))
	}), config.APIConfig{})

	convs, err := c.FetchConversations(context.Background(), "S1")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "b1", convs[0].UserID)
	assert.True(t, convs[0].Unread)
}

func TestClient_FetchMessages(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/messages", r.URL.Path)
		assert.Equal(t, "b1", r.URL.Query().Get("otherUserId"))
		w.Write([]byte(`[{"id":1,"storeId":"S1","senderId":"b1","recipientId":"s1","senderRole":"BUYER","content":"hello","createdAt":"2026-03-01T10:00:00Z"}]`))
	}), config.APIConfig{})

	msgs, err := c.FetchMessages(context.Background(), "S1", "b1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestClient_SendMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "S1", req.StoreID)
		assert.Equal(t, "b1", req.RecipientID)
		assert.Equal(t, "cid-1", req.ClientMsgID)

		w.Write([]byte(`{"id":"m9","clientMsgId":"cid-1","storeId":"S1","senderId":"s1","recipientId":"b1","senderRole":"SELLER","content":"` + req.Content + `","createdAt":"2026-03-01T10:00:00Z"}`))
	}), config.APIConfig{})

	msg, err := c.SendMessage(context.Background(), SendRequest{Content: "thanks", StoreID: "S1", RecipientID: "b1", ClientMsgID: "cid-1"})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, "cid-1", msg.ClientMsgID)
	assert.Equal(t, "thanks", msg.Content)
}

func TestClient_MarkReadAndCounts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/read", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, map[string]string{"otherUserId": "b1", "storeId": "S1"}, req)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/chat/unread-count", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"count":4}`))
	})
	mux.HandleFunc("/analytics/notifications/S1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"n1","title":"New order","message":"#1001","createdAt":"2026-03-01T10:00:00Z"}]`))
	})
	c := newTestClient(t, mux, config.APIConfig{})
	ctx := context.Background()

	require.NoError(t, c.MarkRead(ctx, "S1", "b1"))

	n, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	notes, err := c.Notifications(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "New order", notes[0].Title)
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr *appErrors.AppError
	}{
		{"server error", http.StatusInternalServerError, `oops`, appErrors.ErrBadStatus},
		{"not found", http.StatusNotFound, ``, appErrors.ErrBadStatus},
		{"malformed body", http.StatusOK, `{"count":`, appErrors.ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}), config.APIConfig{})

			_, err := c.UnreadCount(context.Background())
			require.Error(t, err)
			assert.True(t, appErrors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestClient_StatusErrorCarriesCode(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}), config.APIConfig{})

	_, err := c.FetchConversations(context.Background(), "S1")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, "forbidden", se.Body)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}), config.APIConfig{Timeout: 50 * time.Millisecond})

	start := time.Now()
	_, err := c.UnreadCount(context.Background())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNetwork))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}), config.APIConfig{Breaker: config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.UnreadCount(ctx)
		assert.True(t, appErrors.Is(err, appErrors.ErrBadStatus))
	}

	_, err := c.UnreadCount(ctx)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnavailable))
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}), config.APIConfig{Breaker: config.BreakerConfig{MaxFailures: 1}})

	for i := 0; i < 3; i++ {
		_, err := c.UnreadCount(context.Background())
		assert.True(t, appErrors.Is(err, appErrors.ErrBadStatus))
	}
	assert.Equal(t, int32(3), hits.Load())
}
