package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"sudooom.storefront/internal/model"
	"sudooom.storefront/internal/storage"
	appErrors "sudooom.storefront/pkg/errors"
)

const (
	// DefaultKey 整个账本的持久化键
	DefaultKey = "cart"

	// DefaultNoticeDelay 加购提示自动清除的延迟
	DefaultNoticeDelay = 3 * time.Second

	recordVersion = 1
)

// errNewerRecord 持久化记录由更新版本的客户端写入，本实例只读不写
var errNewerRecord = errors.New("cart record written by a newer version")

// record 持久化格式，所有租户的条目存放在同一条记录中
type record struct {
	Version int              `json:"version"`
	Items   []model.CartItem `json:"items"`
}

// Option 账本选项
type Option func(*Ledger)

// WithKey 指定持久化键
func WithKey(key string) Option {
	return func(l *Ledger) { l.key = key }
}

// WithNoticeDelay 指定加购提示的显示时长
func WithNoticeDelay(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.noticeDelay = d
		}
	}
}

// WithIOTimeout 指定单次存储读写的超时
func WithIOTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.ioTimeout = d
		}
	}
}

// WithLogger 指定日志
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger 跨租户购物车账本
// 条目按 (storeId, id) 唯一；数量始终为正；存储不可用时退化为纯内存
type Ledger struct {
	mu    sync.RWMutex
	items []model.CartItem

	store     storage.Storage
	key       string
	ioTimeout time.Duration
	degraded  bool

	// loaded 持久化记录是否至少成功读取过一次；未读取前不能整体覆盖记录
	loaded bool
	// readOnly 记录版本高于本实例，禁止写回
	readOnly bool
	// 初次读取失败期间的清空操作，恢复时先作用于持久化记录
	clearedAll    bool
	clearedStores map[string]struct{}

	notice      string
	noticeGen   uint64
	noticeTimer *time.Timer
	noticeDelay time.Duration
	onNotice    []func(string)

	logger *slog.Logger
}

// NewLedger 创建账本并从存储恢复
// store 为 nil 时账本只存在于内存
func NewLedger(ctx context.Context, store storage.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		key:         DefaultKey,
		ioTimeout:   2 * time.Second,
		noticeDelay: DefaultNoticeDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	if store == nil {
		l.degraded = true
		return l
	}

	items, err := l.load(ctx)
	if err != nil {
		l.degraded = true
		l.readOnly = errors.Is(err, errNewerRecord)
		l.logger.Warn("Cart storage unavailable, running in memory only", "key", l.key, "read_only", l.readOnly, "error", err)
		return l
	}
	l.items = items
	l.loaded = true
	l.logger.Debug("Cart rehydrated", "key", l.key, "items", len(items))
	return l
}

// load 读取并解码持久化记录
func (l *Ledger) load(ctx context.Context) ([]model.CartItem, error) {
	ctx, cancel := context.WithTimeout(ctx, l.ioTimeout)
	defer cancel()

	data, err := l.store.Load(ctx, l.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// version 缺失的旧记录按 0 处理，格式兼容
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cart record: %w", err)
	}
	if rec.Version > recordVersion {
		return nil, fmt.Errorf("%w: version %d, supported %d", errNewerRecord, rec.Version, recordVersion)
	}
	return sanitize(rec.Items), nil
}

// sanitize 丢弃非法条目并合并重复键，保证恢复后的不变量
func sanitize(items []model.CartItem) []model.CartItem {
	out := make([]model.CartItem, 0, len(items))
	index := make(map[model.CartKey]int, len(items))
	for _, it := range items {
		if it.ID == "" || it.StoreID == "" || it.Quantity < 1 {
			continue
		}
		if i, ok := index[it.Key()]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		index[it.Key()] = len(out)
		out = append(out, it)
	}
	return out
}

// mergeLocked 将持久化记录与初次读取失败期间的内存条目合并
// 期间的清空操作先作用于持久化记录，同键条目数量相加
func (l *Ledger) mergeLocked(saved []model.CartItem) {
	if l.clearedAll {
		saved = nil
	}
	kept := make([]model.CartItem, 0, len(saved)+len(l.items))
	for _, it := range saved {
		if _, ok := l.clearedStores[it.StoreID]; !ok {
			kept = append(kept, it)
		}
	}
	l.items = sanitize(append(kept, l.items...))
	l.loaded = true
	l.readOnly = false
	l.clearedAll = false
	l.clearedStores = nil
}

// persistLocked 持久化当前账本，调用方持有写锁
// 失败只记录日志，不向调用方传播
func (l *Ledger) persistLocked() {
	if l.store == nil || l.readOnly {
		return
	}

	// 从未成功读取过记录时先读取合并，避免覆盖其他租户的条目
	if !l.loaded {
		saved, err := l.load(context.Background())
		if err != nil {
			if errors.Is(err, errNewerRecord) {
				l.readOnly = true
			}
			if !l.degraded {
				l.logger.Warn("Cart storage read failed, continuing in memory", "key", l.key, "error", err)
			}
			l.degraded = true
			return
		}
		l.mergeLocked(saved)
		l.logger.Info("Cart merged with durable record", "key", l.key, "items", len(l.items))
	}

	data, err := json.Marshal(record{Version: recordVersion, Items: l.items})
	if err != nil {
		l.logger.Error("Failed to encode cart", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.ioTimeout)
	defer cancel()

	if err := l.store.Save(ctx, l.key, data); err != nil {
		if !l.degraded {
			l.logger.Warn("Cart storage write failed, continuing in memory", "key", l.key, "error", err)
		}
		l.degraded = true
		return
	}
	if l.degraded {
		l.logger.Info("Cart storage recovered", "key", l.key)
	}
	l.degraded = false
}

// Reload 重新读取持久化记录（宿主感知到其他窗口写入时调用）
// 读取失败时保留当前内存状态
func (l *Ledger) Reload(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	items, err := l.load(ctx)
	if err != nil {
		if errors.Is(err, errNewerRecord) {
			l.mu.Lock()
			l.readOnly = true
			l.degraded = true
			l.mu.Unlock()
		}
		l.logger.Warn("Cart reload failed, keeping in-memory state", "error", err)
		return appErrors.ErrStorage.Wrap(err)
	}

	l.mu.Lock()
	if l.loaded {
		l.items = items
	} else {
		l.mergeLocked(items)
	}
	l.readOnly = false
	l.degraded = false
	l.mu.Unlock()
	return nil
}

// Degraded 存储是否处于不可用状态
func (l *Ledger) Degraded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.degraded
}

func (l *Ledger) indexLocked(key model.CartKey) int {
	for i, it := range l.items {
		if it.StoreID == key.StoreID && it.ID == key.ID {
			return i
		}
	}
	return -1
}

// AddItem 加购：同键条目累加数量，否则新增；quantity < 1 按 1 处理
func (l *Ledger) AddItem(item model.CartItem, quantity int) error {
	if item.ID == "" || item.StoreID == "" {
		return appErrors.ErrInvalidItem
	}
	if quantity < 1 {
		quantity = 1
	}

	l.mu.Lock()
	if i := l.indexLocked(item.Key()); i >= 0 {
		l.items[i].Quantity += quantity
	} else {
		item.Quantity = quantity
		l.items = append(l.items, item)
	}
	l.persistLocked()
	l.mu.Unlock()

	l.pulse(addedNotice(item))
	return nil
}

func addedNotice(item model.CartItem) string {
	if item.Name == "" {
		return "Added to cart"
	}
	return item.Name + " added to cart"
}

func (l *Ledger) removeItem(storeID, id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(model.CartKey{StoreID: storeID, ID: id})
	if i < 0 {
		return
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	l.persistLocked()
}

func (l *Ledger) updateQuantity(storeID, id string, n int) {
	if n < 1 {
		l.removeItem(storeID, id)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.indexLocked(model.CartKey{StoreID: storeID, ID: id})
	if i < 0 {
		return
	}
	l.items[i].Quantity = n
	l.persistLocked()
}

// Clear 清空整个账本（登出等边界使用）
func (l *Ledger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil
	if !l.loaded {
		l.clearedAll = true
		l.clearedStores = nil
	}
	l.persistLocked()
}

// ClearStore 只移除指定租户的条目，其他租户不受影响
func (l *Ledger) ClearStore(storeID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded && !l.clearedAll {
		if l.clearedStores == nil {
			l.clearedStores = make(map[string]struct{})
		}
		l.clearedStores[storeID] = struct{}{}
	}

	kept := l.items[:0:0]
	for _, it := range l.items {
		if it.StoreID != storeID {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(l.items) && l.loaded {
		return
	}
	l.items = kept
	l.persistLocked()
}

// Items 返回全部条目的副本
func (l *Ledger) Items() []model.CartItem {
	return l.filter(func(model.CartItem) bool { return true })
}

func (l *Ledger) filter(keep func(model.CartItem) bool) []model.CartItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.CartItem, 0, len(l.items))
	for _, it := range l.items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// TotalItems 跨租户的条目数量合计（仅供不感知租户的旧调用方）
func (l *Ledger) TotalItems() int {
	return sumQuantity(l.Items())
}

// TotalPrice 跨租户的金额合计（仅供不感知租户的旧调用方）
func (l *Ledger) TotalPrice() decimal.Decimal {
	return sumPrice(l.Items())
}

func sumQuantity(items []model.CartItem) int {
	total := 0
	for _, it := range items {
		total += it.Quantity
	}
	return total
}

func sumPrice(items []model.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal())
	}
	return total
}

// ForStore 返回绑定到单个租户的购物车视图
func (l *Ledger) ForStore(storeID string) *StoreCart {
	return &StoreCart{ledger: l, storeID: storeID}
}
