package order

import (
	"errors"

	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/models"
	"github.com/nstepanov-dev/webshop/internal/payment"
)

var (
	ErrValidation = errors.New("validation")          // 400
	ErrNotFound   = errors.New("not found")           // 404
	ErrConflict   = errors.New("conflict")            // 409
	ErrExternal   = errors.New("external dependency") // 502, retryable

	// ErrReconciliation marks the one failure that cannot be rolled back
	// cleanly: the gateway captured funds but local stock re-validation
	// failed. No automatic refund is issued here; the order is parked in
	// PAYMENT_FAILED for the operations queue.
	ErrReconciliation = errors.New("requires manual reconciliation")
)

const (
	MinQuantity = 1
	MaxQuantity = 99
)

type Service struct {
	DB            *gorm.DB
	Gateway       payment.Gateway
	WebhookSecret []byte
	Currency      string
}

// discountedUnitPrice applies the percent discount in integer minor units,
// rounding half up. A nil or zero discount returns the price unchanged.
func discountedUnitPrice(price int64, discount *int) int64 {
	if discount == nil || *discount <= 0 {
		return price
	}
	return (price*int64(100-*discount) + 50) / 100
}

// EnsureCart returns the caller's cart, creating it on first access.
// Carts are never deleted afterwards, only emptied.
func EnsureCart(tx *gorm.DB, userID uint) (*models.Cart, error) {
	var cart models.Cart
	err := tx.Where("user_id = ?", userID).First(&cart).Error
	if err == nil {
		return &cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	uid := userID
	cart = models.Cart{UserID: &uid}
	if err := tx.Create(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}
