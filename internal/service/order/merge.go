package order

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/logging"
	"github.com/nstepanov-dev/webshop/internal/models"
)

type MergeItem struct {
	ProductID uint
	Quantity  uint
}

// MergeCart folds externally supplied (product, quantity) pairs into the
// caller's cart. Existing rows are never deleted or overwritten: matching
// rows get their quantities summed, capped at MaxQuantity. Unknown,
// inactive or out-of-stock products are skipped rather than failing the
// whole merge. The cart's current contents are re-read inside the
// transaction so two concurrent merges cannot lose each other's updates.
func (s *Service) MergeCart(ctx context.Context, userID uint, incoming []MergeItem) ([]models.CartItem, error) {
	var result []models.CartItem

	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := EnsureCart(tx, userID)
		if err != nil {
			return err
		}

		var existing []models.CartItem
		if err := tx.Where("cart_id = ?", cart.ID).Find(&existing).Error; err != nil {
			return err
		}
		byProduct := make(map[uint]*models.CartItem, len(existing))
		for i := range existing {
			byProduct[existing[i].ProductID] = &existing[i]
		}

		for _, in := range incoming {
			if in.Quantity < MinQuantity {
				continue
			}

			var p models.Product
			if err := tx.First(&p, in.ProductID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					logging.FromContext(ctx).Warn("cart merge: skipping unknown product", "product_id", in.ProductID)
					continue
				}
				return err
			}
			if !p.IsActive || p.Stock <= 0 {
				logging.FromContext(ctx).Warn("cart merge: skipping unavailable product", "product_id", p.ID)
				continue
			}

			if item, ok := byProduct[in.ProductID]; ok {
				q := item.Quantity + in.Quantity
				if q > MaxQuantity {
					q = MaxQuantity
				}
				item.Quantity = q
				if err := tx.Save(item).Error; err != nil {
					return err
				}
				continue
			}

			q := in.Quantity
			if q > MaxQuantity {
				q = MaxQuantity
			}
			item := models.CartItem{CartID: cart.ID, ProductID: in.ProductID, Quantity: q}
			if err := tx.Create(&item).Error; err != nil {
				return err
			}
			byProduct[in.ProductID] = &item
		}

		return tx.Where("cart_id = ?", cart.ID).Find(&result).Error
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}
