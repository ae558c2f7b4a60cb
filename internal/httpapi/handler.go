package httpapi

import (
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sudooom.storefront/internal/cart"
	"sudooom.storefront/internal/model"
	"sudooom.storefront/internal/registry"
	"sudooom.storefront/internal/unread"
	appErrors "sudooom.storefront/pkg/errors"
)

// State 状态接口读取的会话（由 session.Session 实现）
type State interface {
	StoreID() string
	Ledger() *cart.Ledger
	Registry() *registry.Registry
	Badges() unread.Badges
}

// Handler 会话状态查询
type Handler struct {
	state State
}

// NewHandler 创建处理器
func NewHandler(state State) *Handler {
	return &Handler{state: state}
}

// CartResponse 购物车响应
type CartResponse struct {
	StoreID    string           `json:"storeId"`
	Items      []model.CartItem `json:"items"`
	TotalItems int              `json:"totalItems"`
	TotalPrice decimal.Decimal  `json:"totalPrice"`
	Notice     string           `json:"notice,omitempty"`
	Degraded   bool             `json:"degraded"`
}

// ConversationsResponse 会话列表响应
type ConversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
	Unread        int                  `json:"unread"`
	Focused       string               `json:"focused,omitempty"`
}

// BadgesResponse 角标响应
type BadgesResponse struct {
	Chat          int `json:"chat"`
	Notifications int `json:"notifications"`
	Total         int `json:"total"`
}

// GetCart 获取购物车
// GET /v1/cart?storeId=，未传 storeId 时返回当前会话店铺
func (h *Handler) GetCart(c *gin.Context) {
	storeID := c.DefaultQuery("storeId", h.state.StoreID())
	if storeID == "" {
		Error(c, CodeInvalidParams)
		return
	}

	Success(c, h.cartResponse(storeID))
}

// ReloadCart 重新读取持久化的购物车（宿主感知到其他窗口写入后调用）
// POST /v1/cart/reload?storeId=
func (h *Handler) ReloadCart(c *gin.Context) {
	storeID := c.DefaultQuery("storeId", h.state.StoreID())
	if storeID == "" {
		Error(c, CodeInvalidParams)
		return
	}

	if err := h.state.Ledger().Reload(c.Request.Context()); err != nil {
		ErrorFromAppError(c, err)
		return
	}
	Success(c, h.cartResponse(storeID))
}

func (h *Handler) cartResponse(storeID string) CartResponse {
	ledger := h.state.Ledger()
	sc := ledger.ForStore(storeID)
	return CartResponse{
		StoreID:    storeID,
		Items:      sc.Items(),
		TotalItems: sc.TotalItems(),
		TotalPrice: sc.TotalPrice(),
		Notice:     ledger.Notice(),
		Degraded:   ledger.Degraded(),
	}
}

// GetConversations 获取会话列表
// GET /v1/conversations
func (h *Handler) GetConversations(c *gin.Context) {
	reg := h.state.Registry()
	Success(c, ConversationsResponse{
		Conversations: reg.Conversations(),
		Unread:        reg.UnreadCount(),
		Focused:       reg.Focused(),
	})
}

// GetThread 获取当前打开会话的消息
// GET /v1/thread
func (h *Handler) GetThread(c *gin.Context) {
	th, ok := h.state.Registry().Thread()
	if !ok {
		ErrorFromAppError(c, appErrors.ErrNoConversation)
		return
	}
	Success(c, th)
}

// GetBadges 获取角标
// GET /v1/badges
func (h *Handler) GetBadges(c *gin.Context) {
	b := h.state.Badges()
	Success(c, BadgesResponse{
		Chat:          b.Chat,
		Notifications: b.Notifications,
		Total:         b.Total(),
	})
}
