package channel

import (
	"sync"

	"github.com/nats-io/nats.go"

	imNats "sudooom.storefront/internal/nats"
)

// Source 推送事件来源
// Subscribe 为某个 viewer 建立投递，返回的 cancel 用于拆除
type Source interface {
	Subscribe(viewerID string, deliver func(data []byte)) (cancel func() error, err error)
}

// NATSSource 基于 NATS Subject 的推送来源
type NATSSource struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSource 创建 NATS 推送来源
func NewNATSSource(nc *nats.Conn, prefix string) *NATSSource {
	return &NATSSource{nc: nc, prefix: prefix}
}

// Subscribe 订阅 {prefix}.user.{viewerId}.newMessage
func (s *NATSSource) Subscribe(viewerID string, deliver func([]byte)) (func() error, error) {
	subject := imNats.BuildViewerSubject(s.prefix, viewerID, imNats.EventNewMessage)
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		deliver(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// LocalSource 进程内推送来源，宿主直接注入事件（嵌入与测试使用）
type LocalSource struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func([]byte)
}

// NewLocalSource 创建进程内推送来源
func NewLocalSource() *LocalSource {
	return &LocalSource{subs: make(map[string]map[int]func([]byte))}
}

// Subscribe 实现 Source
func (s *LocalSource) Subscribe(viewerID string, deliver func([]byte)) (func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	if s.subs[viewerID] == nil {
		s.subs[viewerID] = make(map[int]func([]byte))
	}
	s.subs[viewerID][id] = deliver

	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs[viewerID], id)
		if len(s.subs[viewerID]) == 0 {
			delete(s.subs, viewerID)
		}
		return nil
	}, nil
}

// Publish 向某个 viewer 推送原始载荷，返回送达的订阅数
func (s *LocalSource) Publish(viewerID string, data []byte) int {
	s.mu.Lock()
	targets := make([]func([]byte), 0, len(s.subs[viewerID]))
	for _, fn := range s.subs[viewerID] {
		targets = append(targets, fn)
	}
	s.mu.Unlock()

	for _, fn := range targets {
		fn(data)
	}
	return len(targets)
}

// Subscribers 某个 viewer 当前的订阅数
func (s *LocalSource) Subscribers(viewerID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[viewerID])
}
