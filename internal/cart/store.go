package cart

import (
	"github.com/shopspring/decimal"

	"sudooom.storefront/internal/model"
)

// StoreCart 单租户购物车视图，租户在构造时确定
// 所有读写都只作用于 storeID 相同的条目
type StoreCart struct {
	ledger  *Ledger
	storeID string
}

// StoreID 视图所属租户
func (c *StoreCart) StoreID() string {
	return c.storeID
}

// AddItem 加购到当前租户；条目自带的 storeId 会被覆盖
func (c *StoreCart) AddItem(item model.CartItem, quantity int) error {
	item.StoreID = c.storeID
	return c.ledger.AddItem(item, quantity)
}

// RemoveItem 删除当前租户下的条目
func (c *StoreCart) RemoveItem(id string) {
	c.ledger.removeItem(c.storeID, id)
}

// UpdateQuantity n < 1 等价于删除，否则设置为 n
func (c *StoreCart) UpdateQuantity(id string, n int) {
	c.ledger.updateQuantity(c.storeID, id, n)
}

// Clear 清空当前租户
func (c *StoreCart) Clear() {
	c.ledger.ClearStore(c.storeID)
}

// Items 当前租户的条目
func (c *StoreCart) Items() []model.CartItem {
	return c.ledger.filter(func(it model.CartItem) bool { return it.StoreID == c.storeID })
}

// TotalItems 当前租户的数量合计
func (c *StoreCart) TotalItems() int {
	return sumQuantity(c.Items())
}

// TotalPrice 当前租户的金额合计
func (c *StoreCart) TotalPrice() decimal.Decimal {
	return sumPrice(c.Items())
}
