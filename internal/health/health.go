package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"sudooom.storefront/internal/storage"
)

const (
	StateConnected     = "connected"
	StateDisconnected  = "disconnected"
	StateNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service      string `json:"service"`
	NATS         string `json:"nats"`
	Storage      string `json:"storage"`
	CartDegraded bool   `json:"cartDegraded"`
	PendingTasks int    `json:"pendingTasks"`
}

// DegradedReporter 购物车存储降级状态
type DegradedReporter interface {
	Degraded() bool
}

// QueueReporter 事件循环积压
type QueueReporter interface {
	Pending() int
}

// Checker 健康检查器
type Checker struct {
	service string
	nc      *nats.Conn
	store   storage.Pinger
	cart    DegradedReporter
	queue   QueueReporter
}

// NewChecker 创建健康检查器，未使用的依赖传 nil
func NewChecker(service string, nc *nats.Conn, store storage.Pinger, cart DegradedReporter, queue QueueReporter) *Checker {
	return &Checker{
		service: service,
		nc:      nc,
		store:   store,
		cart:    cart,
		queue:   queue,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service: h.service,
	}

	// 检查 NATS
	switch {
	case h.nc == nil:
		status.NATS = StateNotConfigured
	case h.nc.IsConnected():
		status.NATS = StateConnected
	default:
		status.NATS = StateDisconnected
	}

	// 检查持久化存储
	if h.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := h.store.Ping(pingCtx); err == nil {
			status.Storage = StateConnected
		} else {
			status.Storage = StateDisconnected
		}
	} else {
		status.Storage = StateNotConfigured
	}

	if h.cart != nil {
		status.CartDegraded = h.cart.Degraded()
	}
	if h.queue != nil {
		status.PendingTasks = h.queue.Pending()
	}

	return status
}

// IsHealthy 推送通道可用即视为健康；存储故障时购物车降级运行，不影响就绪
func (h *Checker) IsHealthy(ctx context.Context) bool {
	return h.Check(ctx).NATS != StateDisconnected
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.NATS == StateDisconnected {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}
