package model

import "github.com/shopspring/decimal"

// CartKey 购物车条目的身份键 (storeId, id)
type CartKey struct {
	StoreID string
	ID      string
}

// CartItem 购物车条目
type CartItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image,omitempty"`
	Quantity int             `json:"quantity"`
	StoreID  string          `json:"storeId"`
}

// Key 返回条目身份键
func (i CartItem) Key() CartKey {
	return CartKey{StoreID: i.StoreID, ID: i.ID}
}

// Subtotal 单价 * 数量
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
