package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/models"
	"github.com/nstepanov-dev/webshop/internal/mykafka"
	"github.com/nstepanov-dev/webshop/internal/service/order"
)

type CartHandler struct {
	DB       *gorm.DB
	Producer mykafka.Publisher
	Svc      *order.Service
}

func (h *CartHandler) GetCart(c echo.Context) error {
	userID, err := CurrentUserID(c)
	if err != nil {
		return err
	}

	var items []models.CartItem
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		cart, err := order.EnsureCart(tx, userID)
		if err != nil {
			return err
		}
		return tx.Where("cart_id = ?", cart.ID).Find(&items).Error
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	h.publish(c, userID, map[string]interface{}{
		"type":   "get_cart",
		"userID": userID,
	})

	return c.JSON(http.StatusOK, items)
}

func (h *CartHandler) AddToCart(c echo.Context) error {
	userID, err := CurrentUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		ProductID uint `json:"product_id"`
		Quantity  uint `json:"quantity"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	var item models.CartItem
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		cart, err := order.EnsureCart(tx, userID)
		if err != nil {
			return err
		}

		var p models.Product
		if err := tx.First(&p, req.ProductID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return echo.NewHTTPError(http.StatusNotFound, "product not found")
			}
			return err
		}
		if !p.IsActive {
			return echo.NewHTTPError(http.StatusConflict, "product is unavailable")
		}

		err = tx.Where("cart_id = ? AND product_id = ?", cart.ID, req.ProductID).First(&item).Error
		if err == nil {
			item.Quantity += req.Quantity
			if item.Quantity > order.MaxQuantity {
				item.Quantity = order.MaxQuantity
			}
			return tx.Save(&item).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		q := req.Quantity
		if q > order.MaxQuantity {
			q = order.MaxQuantity
		}
		item = models.CartItem{CartID: cart.ID, ProductID: req.ProductID, Quantity: q}
		return tx.Create(&item).Error
	})
	if txErr != nil {
		if he, ok := txErr.(*echo.HTTPError); ok {
			return he
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	h.publish(c, userID, map[string]interface{}{
		"type":      "add_cart_items",
		"userID":    userID,
		"productID": req.ProductID,
		"quantity":  item.Quantity,
	})
	return c.JSON(http.StatusOK, item)
}

func (h *CartHandler) DeleteOneFromCart(c echo.Context) error {
	userID, err := CurrentUserID(c)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var item models.CartItem
	if err := h.DB.
		Joins("JOIN carts ON carts.id = cart_items.cart_id").
		Where("cart_items.id = ? AND carts.user_id = ?", id, userID).
		First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "item not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	if item.Quantity > 1 {
		item.Quantity -= 1
		if err := h.DB.Save(&item).Error; err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "db error")
		}

		h.publish(c, userID, map[string]interface{}{
			"type":         "one_elem_deleted",
			"userID":       userID,
			"id":           item.ID,
			"new_quantity": item.Quantity,
		})
		return c.JSON(http.StatusOK, item)
	}

	if err := h.DB.Delete(&item).Error; err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	h.publish(c, userID, map[string]interface{}{
		"type":         "cart_item_deleted",
		"userID":       userID,
		"deleted_item": id,
	})
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted_item": id})
}

func (h *CartHandler) DeleteAllFromCart(c echo.Context) error {
	userID, err := CurrentUserID(c)
	if err != nil {
		return err
	}

	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var remaining []models.CartItem
	txErr := h.DB.Transaction(func(tx *gorm.DB) error {
		cart, err := order.EnsureCart(tx, userID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ? AND cart_id = ?", id, cart.ID).
			Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		return tx.Where("cart_id = ?", cart.ID).Find(&remaining).Error
	})
	if txErr != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "db error")
	}

	h.publish(c, userID, map[string]interface{}{
		"type":         "cart_item_deleted",
		"userID":       userID,
		"deleted_item": id,
		"remaining":    remaining,
	})

	return c.JSON(http.StatusOK, remaining)
}

// MergeCart folds a client-side cart (e.g. collected before login) into the
// persisted one. Bad items are skipped, not fatal.
func (h *CartHandler) MergeCart(c echo.Context) error {
	userID, err := CurrentUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		Items []struct {
			ProductID uint `json:"product_id"`
			Quantity  uint `json:"quantity"`
		} `json:"items"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	incoming := make([]order.MergeItem, 0, len(req.Items))
	for _, it := range req.Items {
		incoming = append(incoming, order.MergeItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	items, err := h.Svc.MergeCart(c.Request().Context(), userID, incoming)
	if err != nil {
		return ServiceError(err)
	}

	h.publish(c, userID, map[string]interface{}{
		"type":   "cart_merged",
		"userID": userID,
		"items":  len(items),
	})
	return c.JSON(http.StatusOK, items)
}
