package order

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/models"
)

// Transition moves an order to the requested status if the central
// transition table allows it. When userID is non-nil the order must belong
// to that user; admin callers pass nil. Cancelling an order that holds
// deducted stock restores every item's quantity in the same transaction.
func (s *Service) Transition(ctx context.Context, orderID uint, userID *uint, next models.OrderStatus) (*models.Order, error) {
	var out models.Order

	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("id = ?", orderID)
		if userID != nil {
			q = q.Where("user_id = ?", *userID)
		}

		var o models.Order
		if err := q.First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: order", ErrNotFound)
			}
			return err
		}

		if !o.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: cannot transition order from %s to %s", ErrConflict, o.Status, next)
		}

		if next == models.OrderStatusCancelled && o.Status.StockWasDeducted() {
			var items []models.OrderItem
			if err := tx.Where("order_id = ?", o.ID).Find(&items).Error; err != nil {
				return err
			}
			for _, it := range items {
				if err := tx.Model(&models.Product{}).
					Where("id = ?", it.ProductID).
					Update("stock", gorm.Expr("stock + ?", it.Quantity)).Error; err != nil {
					return err
				}
			}
		}

		// Guarded flip: the status must still be what was read above. A
		// concurrent transition that won the race matches zero rows and
		// rolls this tx back, stock restore included.
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status = ?", o.ID, o.Status).
			Update("status", next)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: order left %s concurrently", ErrConflict, o.Status)
		}

		o.Status = next
		out = o
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &out, nil
}

// RetryPayment re-enters PAYMENT_PENDING from PAYMENT_FAILED and returns
// the gateway order reference, reusing the stored intent when one exists.
func (s *Service) RetryPayment(ctx context.Context, userID, orderID uint) (*models.Order, string, error) {
	uid := userID
	o, err := s.Transition(ctx, orderID, &uid, models.OrderStatusPaymentPending)
	if err != nil {
		return nil, "", err
	}

	ref, err := s.EnsureIntent(ctx, userID, orderID)
	if err != nil {
		// Order is back in PAYMENT_PENDING either way; the intent can be
		// retried again later.
		return o, "", err
	}
	o.GatewayOrderRef = ref
	return o, ref, nil
}

func (s *Service) GetOrder(ctx context.Context, userID, orderID uint) (*models.Order, []models.OrderItem, error) {
	var o models.Order
	if err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: order", ErrNotFound)
		}
		return nil, nil, err
	}

	var items []models.OrderItem
	if err := s.DB.WithContext(ctx).Where("order_id = ?", o.ID).Find(&items).Error; err != nil {
		return nil, nil, err
	}
	return &o, items, nil
}

func (s *Service) ListOrders(ctx context.Context, userID uint, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
