package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"sudooom.storefront/internal/model"
	appErrors "sudooom.storefront/pkg/errors"
)

const maxSeenIDs = 4096

// ReadReceipter 已读回执上报
type ReadReceipter interface {
	MarkRead(ctx context.Context, storeID, counterpartID string) error
}

// Config 会话注册表配置
type Config struct {
	StoreID  string
	ViewerID string
	Role     model.SenderRole
	// OwnerID 店主用户 ID，买家视角下唯一的对方
	OwnerID        string
	ReceiptTimeout time.Duration
}

// Registry 单个店铺、单个 viewer 的会话注册表
// 会话列表始终按 time 倒序；合并 REST 快照、推送与本地乐观操作
type Registry struct {
	mu  sync.Mutex
	cfg Config

	convs   []model.Conversation
	focused string
	thread  *thread

	// live 上次快照之后由推送或本地操作产生的会话增量
	live map[string]model.Conversation
	// readMarks 显式已读时会话的时间，早于它的消息不再置未读
	readMarks map[string]time.Time

	seen      map[string]struct{}
	seenOrder []string

	receipter ReadReceipter
	receipts  sync.WaitGroup
	listeners []func()
	logger    *slog.Logger
}

// New 创建会话注册表
// receipter 为 nil 时不上报已读回执
func New(cfg Config, receipter ReadReceipter, logger *slog.Logger) *Registry {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		live:      make(map[string]model.Conversation),
		readMarks: make(map[string]time.Time),
		seen:      make(map[string]struct{}),
		receipter: receipter,
		logger:    logger.With("store_id", cfg.StoreID, "viewer_id", cfg.ViewerID),
	}
}

// OnChange 注册变更回调，回调在锁外执行
func (r *Registry) OnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) notify() {
	r.mu.Lock()
	listeners := append([]func(){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// outbound 是否由 viewer 一侧发出（本人或同角色的店铺成员）
func (r *Registry) outbound(msg model.Message) bool {
	if msg.SenderID == r.cfg.ViewerID {
		return true
	}
	return r.cfg.Role != "" && msg.SenderRole == r.cfg.Role
}

// counterpartOf 计算消息在 viewer 视角下的对方 ID
func (r *Registry) counterpartOf(msg model.Message) string {
	// 买家视角只有店主一个对方
	if r.cfg.Role == model.RoleBuyer && r.cfg.OwnerID != "" {
		return r.cfg.OwnerID
	}
	if r.outbound(msg) {
		return msg.RecipientID
	}
	return msg.SenderID
}

// markSeenLocked 记录已应用的消息 ID，重复返回 false
func (r *Registry) markSeenLocked(id string) bool {
	if id == "" {
		return true
	}
	if _, ok := r.seen[id]; ok {
		return false
	}
	r.seen[id] = struct{}{}
	r.seenOrder = append(r.seenOrder, id)
	if len(r.seenOrder) > maxSeenIDs {
		delete(r.seen, r.seenOrder[0])
		r.seenOrder = r.seenOrder[1:]
	}
	return true
}

func (r *Registry) indexLocked(counterpartID string) int {
	for i, c := range r.convs {
		if c.UserID == counterpartID {
			return i
		}
	}
	return -1
}

// sortLocked 按 time 倒序，时间相同按 userId 保证稳定
func (r *Registry) sortLocked() {
	sort.SliceStable(r.convs, func(i, j int) bool {
		a, b := r.convs[i], r.convs[j]
		if !a.Time.Equal(b.Time) {
			return a.Time.After(b.Time)
		}
		return a.UserID < b.UserID
	})
}

// upsertSummaryLocked 用消息更新会话摘要
// 摘要不会回退到更早的消息；unread 只会被置为 true
func (r *Registry) upsertSummaryLocked(counterpartID string, msg model.Message, unread bool) {
	name := ""
	if !r.outbound(msg) {
		name = msg.SenderName
	}

	i := r.indexLocked(counterpartID)
	if i < 0 {
		r.convs = append(r.convs, model.Conversation{
			UserID:      counterpartID,
			UserName:    name,
			LastMessage: msg.Content,
			Time:        msg.CreatedAt,
			Unread:      unread,
		})
		i = len(r.convs) - 1
	} else {
		c := &r.convs[i]
		if !msg.CreatedAt.Before(c.Time) {
			c.LastMessage = msg.Content
			c.Time = msg.CreatedAt
		}
		if unread {
			c.Unread = true
		}
		if c.UserName == "" {
			c.UserName = name
		}
	}

	r.live[counterpartID] = r.convs[i]
	r.sortLocked()
}

// ApplyIncoming 合并一条消息（推送、发送确认或轮询），返回是否产生变更
// 同一消息重复应用是空操作
func (r *Registry) ApplyIncoming(msg model.Message) bool {
	r.mu.Lock()

	if msg.StoreID != "" && r.cfg.StoreID != "" && msg.StoreID != r.cfg.StoreID {
		r.mu.Unlock()
		r.logger.Debug("Ignoring message from another store", "message_id", msg.ID, "message_store_id", msg.StoreID)
		return false
	}

	counterpartID := r.counterpartOf(msg)
	if counterpartID == "" {
		r.mu.Unlock()
		r.logger.Warn("Cannot resolve counterpart for message", "message_id", msg.ID, "sender_id", msg.SenderID)
		return false
	}

	if !r.markSeenLocked(msg.ID) {
		r.mu.Unlock()
		return false
	}

	fromCounterpart := !r.outbound(msg)
	focused := counterpartID == r.focused
	receipt := false

	if focused && r.thread != nil {
		r.thread.upsert(msg)
		if fromCounterpart {
			receipt = true
			if msg.CreatedAt.After(r.readMarks[counterpartID]) {
				r.readMarks[counterpartID] = msg.CreatedAt
			}
		}
	}

	unread := false
	if fromCounterpart && !focused {
		mark, ok := r.readMarks[counterpartID]
		unread = !ok || msg.CreatedAt.After(mark)
	}
	r.upsertSummaryLocked(counterpartID, msg, unread)
	r.mu.Unlock()

	if receipt {
		r.sendReceipt(counterpartID)
	}
	r.notify()
	return true
}

// ApplyReadAction 本地立即标记已读，并异步上报回执
// 回执失败不回滚本地状态
func (r *Registry) ApplyReadAction(counterpartID string) {
	if counterpartID == "" {
		return
	}

	r.mu.Lock()
	r.markReadLocked(counterpartID)
	r.mu.Unlock()

	r.sendReceipt(counterpartID)
	r.notify()
}

func (r *Registry) markReadLocked(counterpartID string) {
	if i := r.indexLocked(counterpartID); i >= 0 {
		r.convs[i].Unread = false
		if r.convs[i].Time.After(r.readMarks[counterpartID]) {
			r.readMarks[counterpartID] = r.convs[i].Time
		}
	}
	if c, ok := r.live[counterpartID]; ok {
		c.Unread = false
		r.live[counterpartID] = c
	}
}

// sendReceipt 异步上报已读回执
func (r *Registry) sendReceipt(counterpartID string) {
	if r.receipter == nil {
		return
	}

	r.receipts.Add(1)
	go func() {
		defer r.receipts.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.ReceiptTimeout)
		defer cancel()

		if err := r.receipter.MarkRead(ctx, r.cfg.StoreID, counterpartID); err != nil {
			r.logger.Warn("Read receipt failed", "counterpart_id", counterpartID, "error", err)
		}
	}()
}

// WaitReceipts 等待在途的已读回执完成
func (r *Registry) WaitReceipts() {
	r.receipts.Wait()
}

// ApplyFullSnapshot 合并 REST 会话列表
// 按 (counterpartId, max(time)) 与未被快照覆盖的增量合并，快照期间到达的未读不会丢失
func (r *Registry) ApplyFullSnapshot(list []model.Conversation) {
	r.mu.Lock()

	merged := make(map[string]model.Conversation, len(list)+len(r.live))
	for _, c := range list {
		if c.UserID == "" {
			continue
		}
		if prev, ok := merged[c.UserID]; ok && prev.Time.After(c.Time) {
			continue
		}
		merged[c.UserID] = c
	}

	for id, delta := range r.live {
		snap, ok := merged[id]
		if !ok {
			merged[id] = delta
			continue
		}
		if !delta.Time.After(snap.Time) {
			// 快照已覆盖该增量
			delete(r.live, id)
			continue
		}
		snap.LastMessage = delta.LastMessage
		snap.Time = delta.Time
		snap.Unread = snap.Unread || delta.Unread
		if snap.UserName == "" {
			snap.UserName = delta.UserName
		}
		merged[id] = snap
	}

	receipt := false
	convs := make([]model.Conversation, 0, len(merged))
	for id, c := range merged {
		if mark, ok := r.readMarks[id]; ok && !c.Time.After(mark) {
			c.Unread = false
		}
		if id == r.focused && c.Unread {
			c.Unread = false
			receipt = true
			if c.Time.After(r.readMarks[id]) {
				r.readMarks[id] = c.Time
			}
		}
		convs = append(convs, c)
	}
	r.convs = convs
	r.sortLocked()
	focused := r.focused
	r.mu.Unlock()

	r.logger.Debug("Conversation snapshot applied", "count", len(convs))
	if receipt {
		r.sendReceipt(focused)
	}
	r.notify()
}

// Focus 打开与某个对方的会话，并执行已读操作
func (r *Registry) Focus(counterpartID string) {
	if counterpartID == "" {
		return
	}

	r.mu.Lock()
	if r.focused != counterpartID || r.thread == nil {
		r.focused = counterpartID
		r.thread = newThread(counterpartID, r.cfg.ViewerID)
	}
	r.mu.Unlock()

	r.ApplyReadAction(counterpartID)
}

// Blur 关闭当前会话
func (r *Registry) Blur() {
	r.mu.Lock()
	changed := r.focused != ""
	r.focused = ""
	r.thread = nil
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// Focused 当前打开的对方 ID
func (r *Registry) Focused() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.focused
}

// LoadThread 合并某个会话的历史消息
// 会话已不再打开时丢弃（过期的响应）
func (r *Registry) LoadThread(counterpartID string, history []model.Message) bool {
	r.mu.Lock()
	if r.focused != counterpartID || r.thread == nil {
		r.mu.Unlock()
		r.logger.Debug("Discarding history for a conversation that is no longer open", "counterpart_id", counterpartID)
		return false
	}

	var newest *model.Message
	for i := range history {
		msg := history[i]
		if msg.StoreID != "" && r.cfg.StoreID != "" && msg.StoreID != r.cfg.StoreID {
			continue
		}
		r.thread.upsert(msg)
		if newest == nil || msg.CreatedAt.After(newest.CreatedAt) {
			newest = &history[i]
		}
	}
	if newest != nil {
		r.upsertSummaryLocked(counterpartID, *newest, false)
		if newest.CreatedAt.After(r.readMarks[counterpartID]) {
			r.readMarks[counterpartID] = newest.CreatedAt
		}
	}
	r.mu.Unlock()

	r.notify()
	return true
}

// AppendLocal 向当前会话追加一条本地乐观消息
// 消息的对方必须是当前打开的会话
func (r *Registry) AppendLocal(msg model.Message) error {
	r.mu.Lock()
	if r.focused == "" || r.thread == nil || r.counterpartOf(msg) != r.focused {
		r.mu.Unlock()
		return appErrors.ErrNoConversation
	}
	msg.State = model.StatePending
	r.thread.upsert(msg)
	r.mu.Unlock()

	r.notify()
	return nil
}

// MarkFailed 将发送失败的本地消息标记为失败
func (r *Registry) MarkFailed(clientMsgID string) bool {
	r.mu.Lock()
	changed := r.thread != nil && r.thread.markFailed(clientMsgID)
	r.mu.Unlock()

	if changed {
		r.notify()
	}
	return changed
}

// Conversations 会话列表副本（time 倒序）
func (r *Registry) Conversations() []model.Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Conversation, len(r.convs))
	copy(out, r.convs)
	return out
}

// Conversation 查询单个会话
func (r *Registry) Conversation(counterpartID string) (model.Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexLocked(counterpartID); i >= 0 {
		return r.convs[i], true
	}
	return model.Conversation{}, false
}

// Thread 当前打开会话的消息副本，未打开时返回 false
func (r *Registry) Thread() (Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.thread == nil {
		return Thread{}, false
	}
	return r.thread.snapshot(), true
}

// UnreadCount 未读会话数
func (r *Registry) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, c := range r.convs {
		if c.Unread {
			n++
		}
	}
	return n
}

// StoreID 注册表所属店铺
func (r *Registry) StoreID() string {
	return r.cfg.StoreID
}

// ViewerID 注册表所属 viewer
func (r *Registry) ViewerID() string {
	return r.cfg.ViewerID
}
