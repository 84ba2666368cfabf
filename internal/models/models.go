package models

import (
	"time"
)

type Product struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"  json:"id"`
	Name            string `gorm:"not null"                  json:"name"`
	Description     string `gorm:"not null"                  json:"description"`
	Price           int64  `gorm:"not null"                  json:"price"`
	DiscountPercent *int   `json:"discount_percent,omitempty"`
	Stock           int    `gorm:"not null;check:stock >= 0" json:"stock"`
	IsActive        bool   `gorm:"not null;default:true"     json:"is_active"`
}

type User struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string `gorm:"unique;not null"          json:"username"`
	PasswordHash string `gorm:"not null"                 json:"-"`
	Role         string `gorm:"not null"                 json:"role"`
}

type RefreshToken struct {
	ID        uint   `gorm:"primaryKey"      json:"id"`
	Token     string `gorm:"unique;not null" json:"token"`
	UserID    uint   `gorm:"index;not null"  json:"user_id"`
	Role      string `gorm:"not null"        json:"role"`
	ExpiresAt int64  `gorm:"not null"        json:"expires_at"`
	Revoked   bool   `gorm:"default:false"   json:"revoked"`
}

// Cart is created lazily on first access and is never deleted, only emptied.
// UserID is nullable so a guest cart can exist before login.
type Cart struct {
	ID     uint  `gorm:"primaryKey"  json:"id"`
	UserID *uint `gorm:"uniqueIndex" json:"user_id,omitempty"`
}

type CartItem struct {
	ID        uint `gorm:"primaryKey"                 json:"id"`
	CartID    uint `gorm:"index;not null"             json:"cart_id"`
	ProductID uint `gorm:"not null"                   json:"product_id"`
	Quantity  uint `gorm:"default:1;check:quantity>0" json:"quantity"`
}

type Order struct {
	ID                uint        `gorm:"primaryKey"     json:"id"`
	UserID            uint        `gorm:"index;not null" json:"user_id"`
	Status            OrderStatus `gorm:"not null"       json:"status"`
	TotalAmount       int64       `gorm:"not null"       json:"total_amount"`
	Currency          string      `gorm:"not null"       json:"currency"`
	RecipientName     string      `json:"recipient_name"`
	AddressLine1      string      `json:"address_line1"`
	AddressLine2      string      `json:"address_line2"`
	City              string      `json:"city"`
	State             string      `json:"state"`
	PostalCode        string      `json:"postal_code"`
	Phone             string      `json:"phone"`
	GatewayOrderRef   string      `gorm:"index" json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string      `json:"gateway_payment_ref,omitempty"`
	GatewaySignature  string      `json:"-"`
	PaidAt            *time.Time  `json:"paid_at,omitempty"`
	CreatedAt         int64       `gorm:"not null"       json:"created_at"`
}

// OrderItem carries snapshots taken at order creation so historical orders
// stay correct when the product row later changes price or is discontinued.
type OrderItem struct {
	ID              uint   `gorm:"primaryKey"       json:"id"`
	OrderID         uint   `gorm:"index;not null"   json:"order_id"`
	ProductID       uint   `gorm:"not null"         json:"product_id"`
	ProductName     string `gorm:"not null"         json:"product_name"`
	UnitPrice       int64  `gorm:"not null"         json:"unit_price"`
	DiscountPercent int    `gorm:"not null"         json:"discount_percent"`
	FinalPrice      int64  `gorm:"not null"         json:"final_price"`
	Quantity        uint   `gorm:"check:quantity>0" json:"quantity"`
}
