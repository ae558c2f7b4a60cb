package channel

import (
	"errors"
	"log/slog"
	"sync"

	"sudooom.storefront/internal/eventloop"
	"sudooom.storefront/internal/model"
)

var ErrNoViewer = errors.New("channel: viewer id is required")

// Handler 消息回调
type Handler func(model.Message)

// binding 与来源之间的一条实际订阅
type binding struct {
	viewerID string
	cancel   func() error
}

// Subscription 订阅句柄
// 被替换或取消后句柄失效，不再收到任何投递
type Subscription struct {
	ch       *Channel
	viewerID string
	handler  Handler
	closed   bool
}

// Channel 按 viewer 身份绑定推送来源，向订阅者投递规范化后的消息
// 同一时刻只有一个有效订阅
type Channel struct {
	mu      sync.Mutex
	source  Source
	loop    *eventloop.Loop
	binding *binding
	current *Subscription
	logger  *slog.Logger
}

// New 创建消息通道
// loop 为 nil 时在来源的回调协程上直接投递
func New(source Source, loop *eventloop.Loop, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		source: source,
		loop:   loop,
		logger: logger,
	}
}

// Subscribe 为 viewer 建立投递
// 同一 viewer 重复订阅只替换回调，不会重复订阅来源；viewer 变化时先拆除旧订阅
func (c *Channel) Subscribe(viewerID string, onMessage Handler) (*Subscription, error) {
	if viewerID == "" {
		return nil, ErrNoViewer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.closed = true
		c.current = nil
	}

	if c.binding != nil && c.binding.viewerID != viewerID {
		c.teardownLocked()
	}

	if c.binding == nil {
		b := &binding{viewerID: viewerID}
		cancel, err := c.source.Subscribe(viewerID, func(data []byte) {
			c.dispatch(b, data)
		})
		if err != nil {
			return nil, err
		}
		b.cancel = cancel
		c.binding = b
		c.logger.Info("Push channel subscribed", "viewer_id", viewerID)
	}

	sub := &Subscription{ch: c, viewerID: viewerID, handler: onMessage}
	c.current = sub
	return sub, nil
}

// teardownLocked 拆除来源订阅，调用方持有锁
func (c *Channel) teardownLocked() {
	if c.binding == nil {
		return
	}
	if err := c.binding.cancel(); err != nil {
		c.logger.Warn("Failed to cancel push subscription", "viewer_id", c.binding.viewerID, "error", err)
	}
	c.logger.Info("Push channel unsubscribed", "viewer_id", c.binding.viewerID)
	c.binding = nil
}

// dispatch 来源回调：解码校验后投递到事件循环
func (c *Channel) dispatch(b *binding, data []byte) {
	msg, err := model.DecodeMessage(data)
	if err != nil {
		c.logger.Warn("Dropping malformed push payload", "viewer_id", b.viewerID, "error", err)
		return
	}

	deliver := func() {
		c.mu.Lock()
		var h Handler
		if c.binding == b && c.current != nil {
			h = c.current.handler
		}
		c.mu.Unlock()

		if h != nil {
			h(msg)
		}
	}

	if c.loop == nil {
		deliver()
		return
	}
	if !c.loop.Post(deliver) {
		c.logger.Debug("Event loop closed, dropping push message", "message_id", msg.ID)
	}
}

// ViewerID 当前绑定的 viewer，未绑定时为空
func (c *Channel) ViewerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binding == nil {
		return ""
	}
	return c.binding.viewerID
}

// Close 拆除所有订阅
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.current.closed = true
		c.current = nil
	}
	c.teardownLocked()
}

// ViewerID 句柄绑定的 viewer
func (s *Subscription) ViewerID() string {
	return s.viewerID
}

// Active 句柄是否仍然有效
func (s *Subscription) Active() bool {
	s.ch.mu.Lock()
	defer s.ch.mu.Unlock()
	return !s.closed
}

// Unsubscribe 取消订阅，可重复调用
// 已被替换的句柄调用时不影响当前订阅
func (s *Subscription) Unsubscribe() {
	c := s.ch
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if c.current == s {
		c.current = nil
		c.teardownLocked()
	}
}
