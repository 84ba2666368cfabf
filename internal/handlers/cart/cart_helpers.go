package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nstepanov-dev/webshop/internal/logging"
	"github.com/nstepanov-dev/webshop/internal/service/order"
)

// CurrentUserID reads the authenticated user id placed into the echo
// context by the token middleware.
func CurrentUserID(c echo.Context) (uint, error) {
	if v, ok := c.Get("userID").(uint); ok && v != 0 {
		return v, nil
	}
	return 0, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
}

// ServiceError maps the order service's sentinel errors onto HTTP statuses.
// Not-found stays generic so order/user ids cannot be enumerated; business
// conflicts keep their specific message.
func ServiceError(err error) error {
	switch {
	case errors.Is(err, order.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.Is(err, order.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrExternal):
		return echo.NewHTTPError(http.StatusBadGateway, "payment gateway unavailable, try again")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func (h *CartHandler) publish(c echo.Context, userID uint, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Producer.PublishEvent(ctx, "cart_events", fmt.Sprint(userID), event); err != nil {
		logging.FromContext(c.Request().Context()).Error("kafka publish error", "error", err)
	}
}
