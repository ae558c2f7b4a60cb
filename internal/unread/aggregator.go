package unread

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"sudooom.storefront/internal/model"
)

// View 会重置角标的页面
type View int

const (
	ViewMessages View = iota
	ViewNotifications
)

// Badges 导航角标
type Badges struct {
	Chat          int `json:"chat"`
	Notifications int `json:"notifications"`
}

// Total 角标合计
func (b Badges) Total() int {
	return b.Chat + b.Notifications
}

// Fetcher 计数来源（由 api.Client 实现）
type Fetcher interface {
	UnreadCount(ctx context.Context) (int, error)
	Notifications(ctx context.Context, storeID string) ([]model.Notification, error)
}

type Config struct {
	StoreID      string
	PollInterval time.Duration
	Timeout      time.Duration
}

// Aggregator 未读角标聚合
// 推送、轮询和手动刷新都走 Refresh 同一条路径；并发刷新合并为一次
type Aggregator struct {
	mu      sync.Mutex
	cfg     Config
	fetcher Fetcher
	badges  Badges

	// 本地重置时递增，重置之前发起的拉取结果被丢弃
	chatGen     uint64
	notifGen    uint64
	notifSeenAt time.Time

	group     singleflight.Group
	listeners []func(Badges)

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	polling bool
	stopped bool

	now    func() time.Time
	logger *slog.Logger
}

// New 创建角标聚合器
func New(cfg Config, fetcher Fetcher, logger *slog.Logger) *Aggregator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Aggregator{
		cfg:     cfg,
		fetcher: fetcher,
		ctx:     ctx,
		cancel:  cancel,
		now:     time.Now,
		logger:  logger,
	}
}

// OnChange 注册角标变化回调
func (a *Aggregator) OnChange(fn func(Badges)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Badges 当前角标
func (a *Aggregator) Badges() Badges {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.badges
}

// Refresh 拉取两个计数并合并
// 任一计数失败时另一个仍会更新，返回第一个错误
func (a *Aggregator) Refresh(ctx context.Context) (Badges, error) {
	v, err, _ := a.group.Do("refresh", func() (any, error) {
		return a.refresh(ctx)
	})
	return v.(Badges), err
}

func (a *Aggregator) refresh(ctx context.Context) (Badges, error) {
	a.mu.Lock()
	chatGen, notifGen, seenAt := a.chatGen, a.notifGen, a.notifSeenAt
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var (
		g       errgroup.Group
		chat    int
		chatOK  bool
		notes   []model.Notification
		notesOK bool
	)
	g.Go(func() error {
		n, err := a.fetcher.UnreadCount(ctx)
		if err != nil {
			return err
		}
		chat, chatOK = n, true
		return nil
	})
	g.Go(func() error {
		list, err := a.fetcher.Notifications(ctx, a.cfg.StoreID)
		if err != nil {
			return err
		}
		notes, notesOK = list, true
		return nil
	})
	err := g.Wait()

	a.mu.Lock()
	if a.ctx.Err() != nil {
		b := a.badges
		a.mu.Unlock()
		return b, err
	}
	prev := a.badges
	if chatOK && a.chatGen == chatGen {
		a.badges.Chat = chat
	}
	if notesOK && a.notifGen == notifGen {
		a.badges.Notifications = countSince(notes, seenAt)
	}
	b := a.badges
	a.mu.Unlock()

	if err != nil {
		a.logger.Warn("Badge refresh failed", "store_id", a.cfg.StoreID, "error", err)
	}
	if b != prev {
		a.emit(b)
	}
	return b, err
}

func countSince(notes []model.Notification, since time.Time) int {
	n := 0
	for _, note := range notes {
		if note.CreatedAt.After(since) {
			n++
		}
	}
	return n
}

func (a *Aggregator) emit(b Badges) {
	a.mu.Lock()
	listeners := append([]func(Badges){}, a.listeners...)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(b)
	}
}

// Trigger 异步刷新（推送事件使用）
func (a *Aggregator) Trigger() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		a.Refresh(a.ctx)
	}()
}

// OnPush 新聊天消息到达
func (a *Aggregator) OnPush(model.Message) {
	a.Trigger()
}

// EnterView 进入页面时在本地清零对应角标，不等待后端确认
func (a *Aggregator) EnterView(view View) {
	a.mu.Lock()
	switch view {
	case ViewMessages:
		a.chatGen++
		a.badges.Chat = 0
	case ViewNotifications:
		a.notifGen++
		a.badges.Notifications = 0
		a.notifSeenAt = a.now()
	}
	b := a.badges
	a.mu.Unlock()

	a.emit(b)
}

// Start 启动轮询兜底，立即刷新一次
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	if a.polling || a.stopped {
		a.mu.Unlock()
		return
	}
	a.polling = true
	a.wg.Add(1)
	a.mu.Unlock()

	go a.poll(ctx)
}

func (a *Aggregator) poll(ctx context.Context) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		a.polling = false
		a.mu.Unlock()
	}()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.Refresh(a.ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.Refresh(a.ctx)
		}
	}
}

// Stop 停止轮询和在途刷新，之后的推送不再触发刷新
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	a.cancel()
	a.wg.Wait()
}
