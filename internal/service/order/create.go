package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/logging"
	"github.com/nstepanov-dev/webshop/internal/models"
)

type ShippingAddress struct {
	RecipientName string
	Line1         string
	Line2         string
	City          string
	State         string
	PostalCode    string
	Phone         string
}

type CreateResult struct {
	Order models.Order
	Items []models.OrderItem

	// IntentWarning is set when the order committed but the gateway intent
	// could not be created. The order stays valid in PAYMENT_PENDING and
	// the caller retries intent creation later.
	IntentWarning string
}

// CreateOrder turns the selected cart items into a PAYMENT_PENDING order.
// Prices, discounts and stock feasibility are re-read inside the
// transaction so a concurrent price or stock change between the client's
// last page load and this call cannot leak into the total. Stock is only
// checked here, never deducted; the cart is left untouched.
func (s *Service) CreateOrder(ctx context.Context, userID uint, itemIDs []uint, addr ShippingAddress) (*CreateResult, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: no cart items selected", ErrValidation)
	}

	var (
		order      models.Order
		orderItems []models.OrderItem
	)

	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cart models.Cart
		if err := tx.Where("user_id = ?", userID).First(&cart).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: cart is empty", ErrValidation)
			}
			return err
		}

		var items []models.CartItem
		if err := tx.Where("cart_id = ? AND id IN ?", cart.ID, itemIDs).Find(&items).Error; err != nil {
			return err
		}
		if missing := missingIDs(itemIDs, items); len(missing) > 0 {
			return fmt.Errorf("%w: cart items not found: %v", ErrValidation, missing)
		}

		var total int64
		orderItems = make([]models.OrderItem, 0, len(items))
		for _, it := range items {
			if it.Quantity < MinQuantity || it.Quantity > MaxQuantity {
				return fmt.Errorf("%w: quantity %d for product %d out of range [%d, %d]",
					ErrValidation, it.Quantity, it.ProductID, MinQuantity, MaxQuantity)
			}

			var p models.Product
			if err := tx.First(&p, it.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("%w: product %d no longer exists", ErrValidation, it.ProductID)
				}
				return err
			}
			if !p.IsActive {
				return fmt.Errorf("%w: product %q is unavailable", ErrValidation, p.Name)
			}
			if p.Stock < int(it.Quantity) {
				return fmt.Errorf("%w: not enough stock for %q", ErrConflict, p.Name)
			}

			unit := discountedUnitPrice(p.Price, p.DiscountPercent)
			final := unit * int64(it.Quantity)
			discount := 0
			if p.DiscountPercent != nil {
				discount = *p.DiscountPercent
			}

			orderItems = append(orderItems, models.OrderItem{
				ProductID:       p.ID,
				ProductName:     p.Name,
				UnitPrice:       unit,
				DiscountPercent: discount,
				FinalPrice:      final,
				Quantity:        it.Quantity,
			})
			total += final
		}

		order = models.Order{
			UserID:        userID,
			Status:        models.OrderStatusPaymentPending,
			TotalAmount:   total,
			Currency:      s.Currency,
			RecipientName: addr.RecipientName,
			AddressLine1:  addr.Line1,
			AddressLine2:  addr.Line2,
			City:          addr.City,
			State:         addr.State,
			PostalCode:    addr.PostalCode,
			Phone:         addr.Phone,
			CreatedAt:     time.Now().Unix(),
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for i := range orderItems {
			orderItems[i].OrderID = order.ID
		}
		if err := tx.Create(&orderItems).Error; err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	res := &CreateResult{Order: order, Items: orderItems}

	ref, err := s.EnsureIntent(ctx, userID, order.ID)
	if err != nil {
		logging.FromContext(ctx).Warn("payment intent creation failed",
			"order_id", order.ID, "error", err)
		res.IntentWarning = "payment intent creation failed, retry later"
		return res, nil
	}
	res.Order.GatewayOrderRef = ref
	return res, nil
}

// EnsureIntent creates the gateway payment intent for an order, or returns
// the already stored reference. Safe to call repeatedly.
func (s *Service) EnsureIntent(ctx context.Context, userID, orderID uint) (string, error) {
	var o models.Order
	if err := s.DB.WithContext(ctx).
		Where("id = ? AND user_id = ?", orderID, userID).
		First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: order", ErrNotFound)
		}
		return "", err
	}

	if o.Status != models.OrderStatusPaymentPending {
		return "", fmt.Errorf("%w: order is %s, no payment intent needed", ErrConflict, o.Status)
	}
	if o.GatewayOrderRef != "" {
		return o.GatewayOrderRef, nil
	}

	receipt := fmt.Sprintf("order-%d-%s", o.ID, uuid.NewString())
	intent, err := s.Gateway.CreateIntent(ctx, o.TotalAmount, o.Currency, receipt)
	if err != nil {
		return "", fmt.Errorf("%w: create intent: %v", ErrExternal, err)
	}

	if err := s.DB.WithContext(ctx).Model(&models.Order{}).
		Where("id = ?", o.ID).
		Update("gateway_order_ref", intent.OrderRef).Error; err != nil {
		return "", err
	}
	return intent.OrderRef, nil
}

func missingIDs(want []uint, got []models.CartItem) []uint {
	found := make(map[uint]bool, len(got))
	for _, it := range got {
		found[it.ID] = true
	}
	var missing []uint
	seen := make(map[uint]bool, len(want))
	for _, id := range want {
		if !found[id] && !seen[id] {
			missing = append(missing, id)
			seen[id] = true
		}
	}
	return missing
}
