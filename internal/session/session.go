package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sudooom.storefront/internal/api"
	"sudooom.storefront/internal/cart"
	"sudooom.storefront/internal/channel"
	"sudooom.storefront/internal/eventloop"
	"sudooom.storefront/internal/model"
	"sudooom.storefront/internal/registry"
	"sudooom.storefront/internal/sendbuffer"
	"sudooom.storefront/internal/storage"
	"sudooom.storefront/internal/unread"
)

var (
	ErrNoStore   = errors.New("session: store id is required")
	ErrNoViewer  = errors.New("session: viewer id is required")
	ErrBadRole   = errors.New("session: viewer role must be BUYER or SELLER")
	ErrNoBackend = errors.New("session: backend is required")
)

// DefaultPollInterval 会话列表与角标的轮询间隔
const DefaultPollInterval = 60 * time.Second

// Backend 会话依赖的后端接口（由 api.Client 实现）
type Backend interface {
	FetchConversations(ctx context.Context, storeID string) ([]model.Conversation, error)
	FetchMessages(ctx context.Context, storeID, otherUserID string) ([]model.Message, error)
	SendMessage(ctx context.Context, req api.SendRequest) (model.Message, error)
	MarkRead(ctx context.Context, storeID, otherUserID string) error
	UnreadCount(ctx context.Context) (int, error)
	Notifications(ctx context.Context, storeID string) ([]model.Notification, error)
}

type Config struct {
	StoreID  string
	ViewerID string
	Role     model.SenderRole
	OwnerID  string

	CartKey        string
	NoticeDelay    time.Duration
	StorageTimeout time.Duration
	RequestTimeout time.Duration
	PollInterval   time.Duration
	QueueSize      int
}

// Deps 外部依赖
type Deps struct {
	Storage storage.Storage // nil 表示购物车只存在于内存
	Source  channel.Source
	Backend Backend
}

// Session 单个 viewer 在单个店铺下的会话
// 购物车、推送通道、会话注册表、发送缓冲和未读角标都归属于会话实例
type Session struct {
	cfg     Config
	backend Backend

	loop     *eventloop.Loop
	ledger   *cart.Ledger
	cart     *cart.StoreCart
	channel  *channel.Channel
	sub      *channel.Subscription
	registry *registry.Registry
	sender   *sendbuffer.Buffer
	unread   *unread.Aggregator

	pollCancel context.CancelFunc
	wg         sync.WaitGroup

	mu        sync.Mutex
	closeOnce sync.Once
	logger    *slog.Logger
}

// New 创建会话（不启动推送与轮询）
func New(ctx context.Context, cfg Config, deps Deps, logger *slog.Logger) (*Session, error) {
	if cfg.StoreID == "" {
		return nil, ErrNoStore
	}
	if cfg.ViewerID == "" {
		return nil, ErrNoViewer
	}
	if !cfg.Role.Valid() {
		return nil, ErrBadRole
	}
	if deps.Backend == nil {
		return nil, ErrNoBackend
	}
	if deps.Source == nil {
		deps.Source = channel.NewLocalSource()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("store_id", cfg.StoreID, "viewer_id", cfg.ViewerID)

	loop := eventloop.New(cfg.QueueSize, logger)

	opts := []cart.Option{cart.WithLogger(logger), cart.WithNoticeDelay(cfg.NoticeDelay), cart.WithIOTimeout(cfg.StorageTimeout)}
	if cfg.CartKey != "" {
		opts = append(opts, cart.WithKey(cfg.CartKey))
	}
	ledger := cart.NewLedger(ctx, deps.Storage, opts...)

	reg := registry.New(registry.Config{
		StoreID:        cfg.StoreID,
		ViewerID:       cfg.ViewerID,
		Role:           cfg.Role,
		OwnerID:        cfg.OwnerID,
		ReceiptTimeout: cfg.RequestTimeout,
	}, deps.Backend, logger)

	s := &Session{
		cfg:      cfg,
		backend:  deps.Backend,
		loop:     loop,
		ledger:   ledger,
		cart:     ledger.ForStore(cfg.StoreID),
		channel:  channel.New(deps.Source, loop, logger),
		registry: reg,
		sender: sendbuffer.New(sendbuffer.Config{
			StoreID:  cfg.StoreID,
			ViewerID: cfg.ViewerID,
			Role:     cfg.Role,
			Timeout:  cfg.RequestTimeout,
		}, reg, deps.Backend, logger),
		unread: unread.New(unread.Config{
			StoreID:      cfg.StoreID,
			PollInterval: cfg.PollInterval,
			Timeout:      cfg.RequestTimeout,
		}, deps.Backend, logger),
		logger: logger,
	}
	return s, nil
}

// Start 绑定推送、启动角标轮询与会话列表轮询
// 会话列表拉取失败只记录日志，由下一次轮询兜底
func (s *Session) Start(ctx context.Context) error {
	sub, err := s.channel.Subscribe(s.cfg.ViewerID, s.onMessage)
	if err != nil {
		return err
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.sub = sub
	s.pollCancel = cancel
	s.mu.Unlock()

	s.unread.Start(ctx)
	if err := s.RefreshConversations(ctx); err != nil {
		s.logger.Warn("Initial conversation fetch failed", "error", err)
	}

	s.wg.Add(1)
	go s.pollConversations(pollCtx)

	s.logger.Info("Session started")
	return nil
}

// pollConversations 定时拉取会话列表，补齐断线期间丢失的推送
func (s *Session) pollConversations(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RefreshConversations(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Conversation poll failed", "error", err)
			}
		}
	}
}

// onMessage 推送回调，在事件循环上执行
func (s *Session) onMessage(msg model.Message) {
	if s.registry.ApplyIncoming(msg) {
		s.unread.OnPush(msg)
	}
}

// RefreshConversations 拉取会话列表并与本地增量合并
func (s *Session) RefreshConversations(ctx context.Context) error {
	list, err := s.backend.FetchConversations(ctx, s.cfg.StoreID)
	if err != nil {
		return err
	}
	return s.loop.Call(ctx, func() {
		s.registry.ApplyFullSnapshot(list)
	})
}

// OpenConversation 打开与某个对方的会话：标记已读并加载历史
func (s *Session) OpenConversation(ctx context.Context, counterpartID string) error {
	if err := s.loop.Call(ctx, func() { s.registry.Focus(counterpartID) }); err != nil {
		return err
	}

	history, err := s.backend.FetchMessages(ctx, s.cfg.StoreID, counterpartID)
	if err != nil {
		s.logger.Warn("Failed to load conversation history", "counterpart_id", counterpartID, "error", err)
		return err
	}
	return s.loop.Call(ctx, func() {
		s.registry.LoadThread(counterpartID, history)
	})
}

// CloseConversation 关闭当前会话
func (s *Session) CloseConversation(ctx context.Context) error {
	return s.loop.Call(ctx, s.registry.Blur)
}

// Send 向当前会话发送消息
func (s *Session) Send(ctx context.Context, content string) (model.Message, error) {
	return s.sender.Send(ctx, content)
}

// Retry 重发失败的消息
func (s *Session) Retry(ctx context.Context, clientMsgID string) (model.Message, error) {
	return s.sender.Retry(ctx, clientMsgID)
}

// EnterView 进入消息页或通知页
func (s *Session) EnterView(view unread.View) {
	s.unread.EnterView(view)
}

// StoreID 会话所属店铺
func (s *Session) StoreID() string { return s.cfg.StoreID }

// ViewerID 会话所属 viewer
func (s *Session) ViewerID() string { return s.cfg.ViewerID }

// Cart 当前店铺的购物车
func (s *Session) Cart() *cart.StoreCart { return s.cart }

// Ledger 跨店铺账本（登出清空、跨租户统计使用）
func (s *Session) Ledger() *cart.Ledger { return s.ledger }

// Registry 会话注册表
func (s *Session) Registry() *registry.Registry { return s.registry }

// Badges 当前角标
func (s *Session) Badges() unread.Badges { return s.unread.Badges() }

// Pending 事件循环中待执行的任务数
func (s *Session) Pending() int { return s.loop.Pending() }

// Unread 角标聚合器
func (s *Session) Unread() *unread.Aggregator { return s.unread }

// Close 按与启动相反的顺序释放资源，可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		sub, cancel := s.sub, s.pollCancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.wg.Wait()
		if sub != nil {
			sub.Unsubscribe()
		}
		s.channel.Close()
		s.unread.Stop()
		// 排空事件循环后再等待回执，排空的任务可能发起新的回执
		s.loop.Shutdown()
		s.registry.WaitReceipts()
		s.ledger.Close()
		s.logger.Info("Session closed")
	})
}
