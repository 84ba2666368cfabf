package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/logging"
	"github.com/nstepanov-dev/webshop/internal/models"
	"github.com/nstepanov-dev/webshop/internal/payment"
)

type Confirmation struct {
	Order models.Order

	// AlreadyConfirmed is true when this was a duplicate callback for an
	// order that had already been confirmed; no side effects were repeated.
	AlreadyConfirmed bool
}

// ConfirmPayment runs the fail-closed verification sequence and, if every
// check passes, atomically flips the order to ORDER_CONFIRMED, decrements
// stock and purges the purchased items from the cart.
//
// The gateway payment is re-fetched from the gateway's own API even though
// the signature already proves the callback's origin: a forged client-side
// confirmation with a leaked signature must still fail the amount and
// status checks against what the gateway actually recorded.
func (s *Service) ConfirmPayment(ctx context.Context, userID, orderID uint, orderRef, paymentRef, signature string) (*Confirmation, error) {
	var o models.Order
	if err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: order", ErrNotFound)
		}
		return nil, err
	}

	if o.Status == models.OrderStatusConfirmed {
		return &Confirmation{Order: o, AlreadyConfirmed: true}, nil
	}
	if o.Status != models.OrderStatusPaymentPending {
		return nil, fmt.Errorf("%w: order is %s, payment cannot be verified", ErrConflict, o.Status)
	}

	if o.GatewayOrderRef == "" || o.GatewayOrderRef != orderRef {
		return nil, fmt.Errorf("%w: gateway order reference mismatch", ErrConflict)
	}

	if !payment.VerifySignature(s.WebhookSecret, orderRef, paymentRef, signature) {
		return nil, fmt.Errorf("%w: payment signature mismatch", ErrConflict)
	}

	p, err := s.Gateway.FetchPayment(ctx, paymentRef)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch payment: %v", ErrExternal, err)
	}
	if p.Status != payment.StatusCaptured {
		return nil, fmt.Errorf("%w: payment status is %q, not captured", ErrConflict, p.Status)
	}
	if p.OrderRef != o.GatewayOrderRef {
		return nil, fmt.Errorf("%w: payment belongs to a different gateway order", ErrConflict)
	}
	if p.Amount != o.TotalAmount {
		return nil, fmt.Errorf("%w: amount mismatch: gateway reported %d, order total is %d",
			ErrConflict, p.Amount, o.TotalAmount)
	}

	already := false
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-read under the transaction: a concurrent duplicate callback
		// may have confirmed the order between the check above and here.
		var cur models.Order
		if err := tx.First(&cur, o.ID).Error; err != nil {
			return err
		}
		if cur.Status == models.OrderStatusConfirmed {
			already = true
			o = cur
			return nil
		}
		if cur.Status != models.OrderStatusPaymentPending {
			return fmt.Errorf("%w: order is %s, payment cannot be verified", ErrConflict, cur.Status)
		}

		var items []models.OrderItem
		if err := tx.Where("order_id = ?", o.ID).Find(&items).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return fmt.Errorf("internal: order %d has no items", o.ID)
		}

		// Guarded decrement: the stock >= quantity condition and the
		// subtraction execute as one statement, so two confirmations racing
		// for the last unit cannot both pass the check.
		productIDs := make([]uint, 0, len(items))
		for _, it := range items {
			res := tx.Model(&models.Product{}).
				Where("id = ? AND stock >= ?", it.ProductID, it.Quantity).
				Update("stock", gorm.Expr("stock - ?", it.Quantity))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: payment captured but stock insufficient for %q: %w",
					ErrConflict, it.ProductName, ErrReconciliation)
			}
			productIDs = append(productIDs, it.ProductID)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":              models.OrderStatusConfirmed,
			"gateway_payment_ref": paymentRef,
			"gateway_signature":   signature,
			"paid_at":             &now,
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", o.ID).Updates(updates).Error; err != nil {
			return err
		}

		// Purge only the purchased products from the cart; unrelated
		// selections stay.
		var cart models.Cart
		err := tx.Where("user_id = ?", userID).First(&cart).Error
		if err == nil {
			if err := tx.Where("cart_id = ? AND product_id IN ?", cart.ID, productIDs).
				Delete(&models.CartItem{}).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		o.Status = models.OrderStatusConfirmed
		o.GatewayPaymentRef = paymentRef
		o.GatewaySignature = signature
		o.PaidAt = &now
		return nil
	})

	if txErr != nil {
		if errors.Is(txErr, ErrReconciliation) {
			// Funds are captured but the goods are gone. Park the order in
			// PAYMENT_FAILED for the manual reconciliation queue; the
			// status flip is guarded so a concurrent confirmation that did
			// succeed is never overwritten.
			logging.FromContext(ctx).Error("payment captured without stock, manual reconciliation required",
				"order_id", o.ID, "gateway_payment_ref", paymentRef, "error", txErr)
			if err := s.DB.WithContext(ctx).Model(&models.Order{}).
				Where("id = ? AND status = ?", o.ID, models.OrderStatusPaymentPending).
				Update("status", models.OrderStatusPaymentFailed).Error; err != nil {
				logging.FromContext(ctx).Error("failed to mark order PAYMENT_FAILED", "order_id", o.ID, "error", err)
			}
		}
		return nil, txErr
	}

	return &Confirmation{Order: o, AlreadyConfirmed: already}, nil
}
