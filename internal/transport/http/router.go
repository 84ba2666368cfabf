package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/handlers"
	"github.com/nstepanov-dev/webshop/internal/handlers/cart"
	orderhdl "github.com/nstepanov-dev/webshop/internal/handlers/order"
	"github.com/nstepanov-dev/webshop/internal/service/token"
)

type Deps struct {
	DB             *gorm.DB
	ProductHandler *handlers.ProductHandler
	AuthHandler    *handlers.AuthHandler
	CartHandler    *cart.CartHandler
	OrderHandler   *orderhdl.OrderHandler
	ServiceHandler *token.TokenService
	SearchHandler  *handlers.SearchHandler

	// RateLimit is requests per minute per client IP on the throttled
	// routes (login, payment verification).
	RateLimit int
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(200) })
	e.GET("/health/ready", func(c echo.Context) error { return c.NoContent(200) })

	limit := d.RateLimit
	if limit <= 0 {
		limit = 60
	}
	limiter := middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(rate.Limit(float64(limit) / 60.0)),
	})

	v1 := e.Group("/api/v1")

	v1.POST("/register", d.AuthHandler.Register)
	v1.POST("/login", d.AuthHandler.Login, limiter)
	v1.POST("/logout", d.AuthHandler.LogOut)
	v1.GET("/search", d.SearchHandler.Search)

	admin := v1.Group("/admin", d.ServiceHandler.AutoRefreshMiddlewareAdmin)

	admin.POST("/products", d.ProductHandler.CreateProduct)
	admin.PATCH("/products/:id", d.ProductHandler.PatchProduct)
	admin.DELETE("/products/:id", d.ProductHandler.DeleteProduct)
	admin.PATCH("/orders/:id/status", d.OrderHandler.AdminSetStatus)

	products := v1.Group("/products")

	products.GET("/:id", d.ProductHandler.GetProduct)
	products.GET("", d.ProductHandler.GetProducts)

	cartGroup := v1.Group("/cart", d.ServiceHandler.AutoRefreshMiddleware)

	cartGroup.GET("", d.CartHandler.GetCart)
	cartGroup.POST("", d.CartHandler.AddToCart)
	cartGroup.POST("/merge", d.CartHandler.MergeCart)
	cartGroup.DELETE("/:id", d.CartHandler.DeleteOneFromCart)
	cartGroup.DELETE("/:id/all", d.CartHandler.DeleteAllFromCart)

	orders := v1.Group("/orders", d.ServiceHandler.AutoRefreshMiddleware)

	orders.POST("", d.OrderHandler.CreateOrder)
	orders.GET("", d.OrderHandler.ListOrders)
	orders.GET("/:id", d.OrderHandler.GetOrder)
	orders.POST("/:id/payment/intent", d.OrderHandler.CreateIntent)
	orders.POST("/:id/payment/verify", d.OrderHandler.VerifyPayment, limiter)
	orders.POST("/:id/payment/retry", d.OrderHandler.RetryPayment)
	orders.POST("/:id/cancel", d.OrderHandler.CancelOrder)
}
