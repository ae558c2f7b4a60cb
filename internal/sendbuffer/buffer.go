package sendbuffer

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sudooom.storefront/internal/api"
	"sudooom.storefront/internal/model"
	"sudooom.storefront/internal/registry"
	appErrors "sudooom.storefront/pkg/errors"
)

// Sender 发送接口（由 api.Client 实现）
type Sender interface {
	SendMessage(ctx context.Context, req api.SendRequest) (model.Message, error)
}

type Config struct {
	StoreID  string
	ViewerID string
	Role     model.SenderRole
	Timeout  time.Duration
}

// Buffer 乐观发送：先本地回显，确认后以服务端消息替换
type Buffer struct {
	cfg      Config
	registry *registry.Registry
	sender   Sender
	inflight atomic.Int32
	now      func() time.Time
	logger   *slog.Logger
}

// New 创建发送缓冲
func New(cfg Config, reg *registry.Registry, sender Sender, logger *slog.Logger) *Buffer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		cfg:      cfg,
		registry: reg,
		sender:   sender,
		now:      time.Now,
		logger:   logger,
	}
}

// Send 向当前打开的会话发送消息
func (b *Buffer) Send(ctx context.Context, content string) (model.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return model.Message{}, appErrors.ErrEmptyContent
	}

	counterpartID := b.registry.Focused()
	if counterpartID == "" {
		return model.Message{}, appErrors.ErrNoConversation
	}

	local := model.Message{
		ClientMsgID: uuid.NewString(),
		StoreID:     b.cfg.StoreID,
		SenderID:    b.cfg.ViewerID,
		RecipientID: counterpartID,
		SenderRole:  b.cfg.Role,
		Content:     content,
		CreatedAt:   b.now(),
	}
	return b.deliver(ctx, local)
}

// Retry 重发一条失败的消息，沿用原 clientMsgId
func (b *Buffer) Retry(ctx context.Context, clientMsgID string) (model.Message, error) {
	th, ok := b.registry.Thread()
	if !ok {
		return model.Message{}, appErrors.ErrNoConversation
	}
	for _, m := range th.Messages {
		if m.ClientMsgID == clientMsgID && m.State == model.StateFailed {
			m.CreatedAt = b.now()
			return b.deliver(ctx, m)
		}
	}
	return model.Message{}, appErrors.ErrNoConversation
}

func (b *Buffer) deliver(ctx context.Context, local model.Message) (model.Message, error) {
	if err := b.registry.AppendLocal(local); err != nil {
		return model.Message{}, err
	}

	b.inflight.Add(1)
	defer b.inflight.Add(-1)

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	msg, err := b.sender.SendMessage(ctx, api.SendRequest{
		Content:     local.Content,
		StoreID:     local.StoreID,
		RecipientID: local.RecipientID,
		ClientMsgID: local.ClientMsgID,
	})
	if err != nil {
		b.registry.MarkFailed(local.ClientMsgID)
		b.logger.Warn("Send message failed", "client_msg_id", local.ClientMsgID, "recipient_id", local.RecipientID, "error", err)
		return model.Message{}, err
	}

	// 后端未回传 clientMsgId 时补上，用于替换本地回显
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = local.ClientMsgID
	}
	b.registry.ApplyIncoming(msg)
	return msg, nil
}

// InFlight 正在发送中的消息数
func (b *Buffer) InFlight() int {
	return int(b.inflight.Load())
}
