package order

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nstepanov-dev/webshop/internal/models"
	"github.com/nstepanov-dev/webshop/internal/payment"
	ordersvc "github.com/nstepanov-dev/webshop/internal/service/order"
	"github.com/nstepanov-dev/webshop/internal/validation"
)

var testSecret = []byte("test_webhook_secret")

type fakeGateway struct {
	intents  int
	payments map[string]*payment.Payment
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: map[string]*payment.Payment{}}
}

func (f *fakeGateway) CreateIntent(ctx context.Context, amount int64, currency, receipt string) (*payment.Intent, error) {
	f.intents++
	return &payment.Intent{
		OrderRef: fmt.Sprintf("gw_order_%d", f.intents),
		Amount:   amount,
		Currency: currency,
		Receipt:  receipt,
	}, nil
}

func (f *fakeGateway) FetchPayment(ctx context.Context, paymentRef string) (*payment.Payment, error) {
	p, ok := f.payments[paymentRef]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentRef)
	}
	return p, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Product{},
		&models.Cart{},
		&models.CartItem{},
		&models.Order{},
		&models.OrderItem{},
	))
	return db
}

func newHandler(t *testing.T) (*OrderHandler, *fakeGateway, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	gw := newFakeGateway()
	svc := &ordersvc.Service{DB: db, Gateway: gw, WebhookSecret: testSecret, Currency: "RUB"}
	return &OrderHandler{Svc: svc, Validate: validation.New()}, gw, db
}

func newContext(t *testing.T, method, path, body string, userID uint) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if userID != 0 {
		c.Set("userID", userID)
	}
	return c, rec
}

func seedCartWithProduct(t *testing.T, db *gorm.DB, userID uint, stock int, quantity uint) (models.Product, models.CartItem) {
	t.Helper()
	p := models.Product{Name: "prod", Description: "prod", Price: 1000, Stock: stock, IsActive: true}
	require.NoError(t, db.Create(&p).Error)

	cart, err := ordersvc.EnsureCart(db, userID)
	require.NoError(t, err)
	item := models.CartItem{CartID: cart.ID, ProductID: p.ID, Quantity: quantity}
	require.NoError(t, db.Create(&item).Error)
	return p, item
}

const addressJSON = `{"recipient_name":"Test User","line1":"1 Test Street","city":"Testville","postal_code":"123456"}`

func TestCreateOrderHandler(t *testing.T) {
	h, _, _ := newHandler(t)
	_, item := seedCartWithProduct(t, h.Svc.DB, 1, 5, 2)

	body := fmt.Sprintf(`{"cart_item_ids":[%d],"address":%s}`, item.ID, addressJSON)
	c, rec := newContext(t, http.MethodPost, "/orders", body, 1)
	require.NoError(t, h.CreateOrder(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var res orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, models.OrderStatusPaymentPending, res.Order.Status)
	require.Equal(t, int64(2000), res.Order.TotalAmount)
	require.Len(t, res.Items, 1)
	require.NotEmpty(t, res.Order.GatewayOrderRef)
}

func TestCreateOrderHandlerRejectsEmptySelection(t *testing.T) {
	h, _, _ := newHandler(t)

	body := fmt.Sprintf(`{"cart_item_ids":[],"address":%s}`, addressJSON)
	c, _ := newContext(t, http.MethodPost, "/orders", body, 1)
	err := h.CreateOrder(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestCreateOrderHandlerRequiresAddress(t *testing.T) {
	h, _, _ := newHandler(t)
	_, item := seedCartWithProduct(t, h.Svc.DB, 1, 5, 1)

	body := fmt.Sprintf(`{"cart_item_ids":[%d],"address":{"line2":"suite 4"}}`, item.ID)
	c, _ := newContext(t, http.MethodPost, "/orders", body, 1)
	err := h.CreateOrder(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestVerifyPaymentHandler(t *testing.T) {
	h, gw, db := newHandler(t)
	p, item := seedCartWithProduct(t, db, 1, 5, 2)

	res, err := h.Svc.CreateOrder(context.Background(), 1, []uint{item.ID}, ordersvc.ShippingAddress{
		RecipientName: "Test User", Line1: "1 Test Street", City: "Testville", PostalCode: "123456",
	})
	require.NoError(t, err)

	payRef := "pay_1"
	gw.payments[payRef] = &payment.Payment{
		Ref:      payRef,
		OrderRef: res.Order.GatewayOrderRef,
		Status:   payment.StatusCaptured,
		Amount:   res.Order.TotalAmount,
		Currency: "RUB",
	}
	sig := payment.SignConfirmation(testSecret, res.Order.GatewayOrderRef, payRef)

	body := fmt.Sprintf(`{"gateway_order_ref":%q,"gateway_payment_ref":%q,"signature":%q}`,
		res.Order.GatewayOrderRef, payRef, sig)
	c, rec := newContext(t, http.MethodPost, "/orders/1/payment/verify", body, 1)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(res.Order.ID))
	require.NoError(t, h.VerifyPayment(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var out orderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, models.OrderStatusConfirmed, out.Order.Status)
	require.False(t, out.AlreadyConfirmed)

	var got models.Product
	require.NoError(t, db.First(&got, p.ID).Error)
	require.Equal(t, 3, got.Stock)
}

func TestVerifyPaymentHandlerBadSignature(t *testing.T) {
	h, gw, db := newHandler(t)
	_, item := seedCartWithProduct(t, db, 1, 5, 1)

	res, err := h.Svc.CreateOrder(context.Background(), 1, []uint{item.ID}, ordersvc.ShippingAddress{
		RecipientName: "Test User", Line1: "1 Test Street", City: "Testville", PostalCode: "123456",
	})
	require.NoError(t, err)

	payRef := "pay_1"
	gw.payments[payRef] = &payment.Payment{
		Ref:      payRef,
		OrderRef: res.Order.GatewayOrderRef,
		Status:   payment.StatusCaptured,
		Amount:   res.Order.TotalAmount,
	}

	body := fmt.Sprintf(`{"gateway_order_ref":%q,"gateway_payment_ref":%q,"signature":"forged"}`,
		res.Order.GatewayOrderRef, payRef)
	c, _ := newContext(t, http.MethodPost, "/orders/1/payment/verify", body, 1)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(res.Order.ID))
	err = h.VerifyPayment(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusConflict, he.Code)
}

func TestCancelOrderHandler(t *testing.T) {
	h, _, db := newHandler(t)
	_, item := seedCartWithProduct(t, db, 1, 5, 1)

	res, err := h.Svc.CreateOrder(context.Background(), 1, []uint{item.ID}, ordersvc.ShippingAddress{
		RecipientName: "Test User", Line1: "1 Test Street", City: "Testville", PostalCode: "123456",
	})
	require.NoError(t, err)

	c, rec := newContext(t, http.MethodPost, "/orders/1/cancel", "", 1)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(res.Order.ID))
	require.NoError(t, h.CancelOrder(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var o models.Order
	require.NoError(t, db.First(&o, res.Order.ID).Error)
	require.Equal(t, models.OrderStatusCancelled, o.Status)
}

func TestAdminSetStatusRejectsIllegalTransition(t *testing.T) {
	h, _, db := newHandler(t)
	_, item := seedCartWithProduct(t, db, 1, 5, 1)

	res, err := h.Svc.CreateOrder(context.Background(), 1, []uint{item.ID}, ordersvc.ShippingAddress{
		RecipientName: "Test User", Line1: "1 Test Street", City: "Testville", PostalCode: "123456",
	})
	require.NoError(t, err)

	// a pending order cannot be shipped
	c, _ := newContext(t, http.MethodPatch, "/admin/orders/1/status", `{"status":"SHIPPED"}`, 1)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(res.Order.ID))
	err = h.AdminSetStatus(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusConflict, he.Code)
}

func TestAdminSetStatusRejectsReservedStatuses(t *testing.T) {
	h, _, _ := newHandler(t)

	c, _ := newContext(t, http.MethodPatch, "/admin/orders/1/status", `{"status":"ORDER_CONFIRMED"}`, 1)
	c.SetParamNames("id")
	c.SetParamValues("1")
	err := h.AdminSetStatus(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusBadRequest, he.Code)
}

func TestGetOrderHandlerScopedToOwner(t *testing.T) {
	h, _, db := newHandler(t)
	_, item := seedCartWithProduct(t, db, 1, 5, 1)

	res, err := h.Svc.CreateOrder(context.Background(), 1, []uint{item.ID}, ordersvc.ShippingAddress{
		RecipientName: "Test User", Line1: "1 Test Street", City: "Testville", PostalCode: "123456",
	})
	require.NoError(t, err)

	c, _ := newContext(t, http.MethodGet, "/orders/1", "", 2)
	c.SetParamNames("id")
	c.SetParamValues(fmt.Sprint(res.Order.ID))
	err = h.GetOrder(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	require.Equal(t, http.StatusNotFound, he.Code)
}
