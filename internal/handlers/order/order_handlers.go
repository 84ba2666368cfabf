package order

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/nstepanov-dev/webshop/internal/logging"
	"github.com/nstepanov-dev/webshop/internal/models"
	"github.com/nstepanov-dev/webshop/internal/mykafka"
	ordersvc "github.com/nstepanov-dev/webshop/internal/service/order"
	"github.com/nstepanov-dev/webshop/internal/util"
	"github.com/nstepanov-dev/webshop/internal/validation"
)

type OrderHandler struct {
	Svc      *ordersvc.Service
	Producer mykafka.Publisher
	Validate *validatorv10.Validate
}

type addressRequest struct {
	RecipientName string `json:"recipient_name" validate:"required"`
	Line1         string `json:"line1" validate:"required"`
	Line2         string `json:"line2"`
	City          string `json:"city" validate:"required"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code" validate:"required"`
	Phone         string `json:"phone"`
}

type createOrderRequest struct {
	CartItemIDs []uint         `json:"cart_item_ids" validate:"required,min=1,dive,gt=0"`
	Address     addressRequest `json:"address" validate:"required"`
}

type verifyPaymentRequest struct {
	GatewayOrderRef   string `json:"gateway_order_ref" validate:"required"`
	GatewayPaymentRef string `json:"gateway_payment_ref" validate:"required"`
	Signature         string `json:"signature" validate:"required"`
}

type orderResponse struct {
	Order models.Order       `json:"order"`
	Items []models.OrderItem `json:"items,omitempty"`

	Warning          string `json:"warning,omitempty"`
	AlreadyConfirmed bool   `json:"already_confirmed,omitempty"`
	// ReconciliationRequired flags the payment-captured-but-no-stock case
	// for the operations queue; it is never silently retried.
	ReconciliationRequired bool `json:"reconciliation_required,omitempty"`
}

func currentUserID(c echo.Context) (uint, error) {
	if v, ok := c.Get("userID").(uint); ok && v != 0 {
		return v, nil
	}
	return 0, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
}

func serviceError(err error) error {
	switch {
	case errors.Is(err, ordersvc.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ordersvc.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, ordersvc.ErrReconciliation):
		return echo.NewHTTPError(http.StatusConflict, map[string]interface{}{
			"message":                 err.Error(),
			"reconciliation_required": true,
		})
	case errors.Is(err, ordersvc.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ordersvc.ErrExternal):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *OrderHandler) publish(c echo.Context, userID uint, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "order_events", fmt.Sprint(userID), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "error", err)
	}
}

func orderIDParam(c echo.Context) (uint, error) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}
	return uint(id), nil
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	var req createOrderRequest
	if err := validation.BindAndValidate(c, &req, h.Validate); err != nil {
		return err
	}

	res, err := h.Svc.CreateOrder(c.Request().Context(), userID, req.CartItemIDs, ordersvc.ShippingAddress{
		RecipientName: req.Address.RecipientName,
		Line1:         req.Address.Line1,
		Line2:         req.Address.Line2,
		City:          req.Address.City,
		State:         req.Address.State,
		PostalCode:    req.Address.PostalCode,
		Phone:         req.Address.Phone,
	})
	if err != nil {
		return serviceError(err)
	}

	h.publish(c, userID, map[string]interface{}{
		"type":    "order_created",
		"userID":  userID,
		"orderID": res.Order.ID,
		"total":   res.Order.TotalAmount,
	})

	return c.JSON(http.StatusCreated, orderResponse{
		Order:   res.Order,
		Items:   res.Items,
		Warning: res.IntentWarning,
	})
}

// CreateIntent retries payment-intent creation for an order whose initial
// gateway call failed. Returns the existing reference when one is stored.
func (h *OrderHandler) CreateIntent(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	ref, err := h.Svc.EnsureIntent(c.Request().Context(), userID, orderID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"gateway_order_ref": ref})
}

func (h *OrderHandler) VerifyPayment(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	var req verifyPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.Validate); err != nil {
		return err
	}

	conf, err := h.Svc.ConfirmPayment(c.Request().Context(), userID, orderID,
		req.GatewayOrderRef, req.GatewayPaymentRef, req.Signature)
	if err != nil {
		if errors.Is(err, ordersvc.ErrReconciliation) {
			h.publish(c, userID, map[string]interface{}{
				"type":    "payment_failed",
				"userID":  userID,
				"orderID": orderID,
				"reason":  "insufficient stock after capture",
			})
		}
		return serviceError(err)
	}

	if !conf.AlreadyConfirmed {
		h.publish(c, userID, map[string]interface{}{
			"type":    "payment_confirmed",
			"userID":  userID,
			"orderID": conf.Order.ID,
			"total":   conf.Order.TotalAmount,
		})
	}

	return c.JSON(http.StatusOK, orderResponse{
		Order:            conf.Order,
		AlreadyConfirmed: conf.AlreadyConfirmed,
	})
}

// RetryPayment moves a PAYMENT_FAILED order back to PAYMENT_PENDING and
// returns a gateway reference to pay against.
func (h *OrderHandler) RetryPayment(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	o, ref, err := h.Svc.RetryPayment(c.Request().Context(), userID, orderID)
	if err != nil {
		return serviceError(err)
	}

	h.publish(c, userID, map[string]interface{}{
		"type":    "payment_retry",
		"userID":  userID,
		"orderID": o.ID,
	})
	return c.JSON(http.StatusOK, echo.Map{"order": o, "gateway_order_ref": ref})
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	o, err := h.Svc.Transition(c.Request().Context(), orderID, &userID, models.OrderStatusCancelled)
	if err != nil {
		return serviceError(err)
	}

	h.publish(c, userID, map[string]interface{}{
		"type":    "order_cancelled",
		"userID":  userID,
		"orderID": o.ID,
	})
	return c.JSON(http.StatusOK, o)
}

// AdminSetStatus drives admin transitions (ship, deliver, cancel). The
// transition table decides legality; this handler only restricts which
// target statuses an admin may request.
func (h *OrderHandler) AdminSetStatus(c echo.Context) error {
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	var req struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	switch req.Status {
	case models.OrderStatusShipped, models.OrderStatusDelivered, models.OrderStatusCancelled:
	default:
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("status %q cannot be set directly", req.Status))
	}

	o, err := h.Svc.Transition(c.Request().Context(), orderID, nil, req.Status)
	if err != nil {
		return serviceError(err)
	}

	h.publish(c, o.UserID, map[string]interface{}{
		"type":    "order_status_changed",
		"orderID": o.ID,
		"status":  o.Status,
	})
	return c.JSON(http.StatusOK, o)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}
	orderID, err := orderIDParam(c)
	if err != nil {
		return err
	}

	o, items, err := h.Svc.GetOrder(c.Request().Context(), userID, orderID)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, orderResponse{Order: *o, Items: items})
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	userID, err := currentUserID(c)
	if err != nil {
		return err
	}

	page := 1
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page = v
	}
	offset, limit := util.Calculate(page, util.DefaultPageSize)

	orders, err := h.Svc.ListOrders(c.Request().Context(), userID, limit, offset)
	if err != nil {
		return serviceError(err)
	}
	return c.JSON(http.StatusOK, orders)
}
