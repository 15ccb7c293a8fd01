package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

func newOrderFixture(table models.TransitionTable) (*OrderService, *memDB) {
	db := newMemDB()
	return NewOrderService(memOrders{db}, memProducts{db}, table, logger.NewNop()), db
}

func requireAppError(t *testing.T, err error, kind error, status int) *apperrors.AppError {
	t.Helper()

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	assert.ErrorIs(t, err, kind)
	assert.Equal(t, status, appErr.StatusCode)
	return appErr
}

func TestCreateOrderSnapshotsCatalog(t *testing.T) {
	svc, db := newOrderFixture(nil)
	mug := db.addProduct(1, "Mug", "10.00", 5)
	mug.Discount = decimal.RequireFromString("0.1")
	mug.ImgURL = "https://cdn.example.com/mug.png"
	db.addProduct(2, "Tea", "3.33", 10)

	order, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{
		{ProductID: 1, Quantity: 2, UnitPrice: decimal.RequireFromString("0.01"), Name: "bogus"},
		{ProductID: 2, Quantity: 3},
	})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.GreaterOrEqual(t, order.ID, models.MinOrderID)
	assert.LessOrEqual(t, order.ID, models.MaxOrderID)
	assert.Equal(t, "Mug", order.Items[0].ProductName)
	assert.Equal(t, "https://cdn.example.com/mug.png", order.Items[0].ProductImg)
	assert.Equal(t, "9.00", order.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "27.99", order.TotalPrice.StringFixed(2))

	assert.Equal(t, 3, db.stock(1))
	assert.Equal(t, 7, db.stock(2))
	assert.Len(t, db.events(models.EventOrderCreated), 1)
}

func TestCreateOrderMergesDuplicateLines(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "4.00", 5)

	order, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{
		{ProductID: 1, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 2, db.stock(1))
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "4.00", 5)

	_, err := svc.CreateOrder(context.Background(), 7, nil)
	requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)

	_, err = svc.CreateOrder(context.Background(), 7, []OrderItemInput{{ProductID: 1, Quantity: 0}})
	requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)

	_, err = svc.CreateOrder(context.Background(), 7, []OrderItemInput{{ProductID: 99, Quantity: 1}})
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)

	assert.Equal(t, 5, db.stock(1))
}

func TestCreateOrderIsAllOrNothing(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "4.00", 5)
	db.addProduct(2, "Teapot", "20.00", 1)

	_, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 2},
	})

	appErr := requireAppError(t, err, apperrors.ErrInsufficientStock, http.StatusBadRequest)
	assert.Contains(t, appErr.Message, "Teapot")
	assert.Equal(t, 5, db.stock(1))
	assert.Equal(t, 1, db.stock(2))
	assert.Empty(t, db.orders)
	assert.Empty(t, db.outbox)
}

func TestCreateOrderStoreShortageRollsBack(t *testing.T) {
	db := newMemDB()
	db.addProduct(1, "Mug", "4.00", 5)
	db.addProduct(2, "Teapot", "20.00", 5)

	// The catalog read sees enough stock, the reservation does not.
	products := staleStock{memProducts{db}, map[int64]int{2: 5}}
	svc := NewOrderService(memOrders{db}, products, nil, logger.NewNop())
	db.products[2].Stock = 1

	_, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 2},
	})

	appErr := requireAppError(t, err, apperrors.ErrInsufficientStock, http.StatusBadRequest)
	assert.Contains(t, appErr.Message, "Teapot")
	assert.Equal(t, 5, db.stock(1))
	assert.Equal(t, 1, db.stock(2))
	assert.Empty(t, db.orders)
}

// staleStock reports outdated stock levels, as a read racing a concurrent order would
type staleStock struct {
	memProducts
	stock map[int64]int
}

func (s staleStock) GetByIDs(ctx context.Context, ids []int64) (map[int64]*models.Product, error) {
	out, err := s.memProducts.GetByIDs(ctx, ids)
	for id, p := range out {
		if stock, ok := s.stock[id]; ok {
			p.Stock = stock
		}
	}
	return out, err
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	const (
		stock   = 5
		buyers  = 40
		product = int64(1)
	)

	svc, db := newOrderFixture(nil)
	db.addProduct(product, "Lamp", "30.00", stock)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortages int
	)

	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()

			_, err := svc.CreateOrder(context.Background(), user, []OrderItemInput{{ProductID: product, Quantity: 1}})

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, apperrors.ErrInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}

	wg.Wait()

	assert.Equal(t, stock, succeeded)
	assert.Equal(t, buyers-stock, shortages)
	assert.Equal(t, 0, db.stock(product))
	assert.Len(t, db.orders, stock)
}

func TestOrderTotalIgnoresLaterPriceChanges(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "12.50", 5)

	order, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{{ProductID: 1, Quantity: 2}})
	require.NoError(t, err)

	db.mu.Lock()
	db.products[1].Price = decimal.RequireFromString("99.99")
	db.mu.Unlock()

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.00", stored.TotalPrice.StringFixed(2))
	assert.Equal(t, "12.50", stored.Items[0].UnitPrice.StringFixed(2))
}

func TestCreateOrderRegeneratesCollidingID(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "4.00", 5)
	db.orders[111111] = &models.Order{ID: 111111}

	ids := []int{111111, 222222}
	svc.generateID = func() (int, error) {
		id := ids[0]
		ids = ids[1:]
		return id, nil
	}

	order, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{{ProductID: 1, Quantity: 1}})
	require.NoError(t, err)

	assert.Equal(t, 222222, order.ID)
	assert.Equal(t, 222222, order.Items[0].OrderID)
	assert.Equal(t, 4, db.stock(1))
}

func TestCreateOrderGivesUpOnPersistentCollisions(t *testing.T) {
	svc, db := newOrderFixture(nil)
	db.addProduct(1, "Mug", "4.00", 5)
	db.orders[111111] = &models.Order{ID: 111111}
	svc.generateID = func() (int, error) { return 111111, nil }

	_, err := svc.CreateOrder(context.Background(), 7, []OrderItemInput{{ProductID: 1, Quantity: 1}})

	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, 5, db.stock(1))
}

func placeOrder(t *testing.T, svc *OrderService, db *memDB, userID int64) *models.Order {
	t.Helper()

	if _, ok := db.products[1]; !ok {
		db.addProduct(1, "Mug", "4.00", 10)
	}

	order, err := svc.CreateOrder(context.Background(), userID, []OrderItemInput{{ProductID: 1, Quantity: 2}})
	require.NoError(t, err)
	return order
}

func TestUpdateStatus(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)

	_, err := svc.UpdateStatus(context.Background(), order.ID, "Teleported")
	appErr := requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)
	assert.Equal(t, "invalid status", appErr.Message)

	_, err = svc.UpdateStatus(context.Background(), order.ID, "Paid")
	requireAppError(t, err, apperrors.ErrValidation, http.StatusBadRequest)

	_, err = svc.UpdateStatus(context.Background(), 999999, "Shipped")
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)

	updated, err := svc.UpdateStatus(context.Background(), order.ID, "shipped")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, updated.Status)

	events := db.events(models.EventOrderStatusChanged)
	require.Len(t, events, 1)

	var change models.OrderStatusChange
	_, err = models.DecodeEvent(events[0].Payload, &change)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, change.OldStatus)
	assert.Equal(t, models.OrderStatusShipped, change.NewStatus)

	// Unchecked policy allows moving backwards.
	updated, err = svc.UpdateStatus(context.Background(), order.ID, "2")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, updated.Status)
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)

	_, err := svc.UpdateStatus(context.Background(), order.ID, "Pending")
	require.NoError(t, err)
	assert.Empty(t, db.events(models.EventOrderStatusChanged))
}

func TestUpdateStatusStrictTransitions(t *testing.T) {
	svc, db := newOrderFixture(models.StrictTransitions())
	order := placeOrder(t, svc, db, 7)

	_, err := svc.UpdateStatus(context.Background(), order.ID, "Delivered")
	requireAppError(t, err, apperrors.ErrConflict, http.StatusConflict)

	_, err = svc.UpdateStatus(context.Background(), order.ID, "Processing")
	require.NoError(t, err)

	stored, err := svc.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, stored.Status)
}

func TestCancelOrderRestoresStock(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)
	require.Equal(t, 8, db.stock(1))

	_, err := svc.CancelOrder(context.Background(), 8, order.ID)
	requireAppError(t, err, apperrors.ErrForbidden, http.StatusForbidden)

	cancelled, err := svc.CancelOrder(context.Background(), 7, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, 10, db.stock(1))
	assert.Len(t, db.events(models.EventOrderCancelled), 1)

	_, err = svc.CancelOrder(context.Background(), 7, order.ID)
	requireAppError(t, err, apperrors.ErrConflict, http.StatusConflict)
	assert.Equal(t, 10, db.stock(1))
}

func TestMarkPaidOnlyOnce(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)

	paid, changed, err := svc.MarkPaid(context.Background(), order.ID, "pay-1")
	require.NoError(t, err)
	require.True(t, changed)
	require.NotNil(t, paid.PaymentDate)
	assert.Equal(t, models.OrderStatusPaid, paid.Status)

	again, changed, err := svc.MarkPaid(context.Background(), order.ID, "pay-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, *paid.PaymentDate, *again.PaymentDate)
	assert.Len(t, db.events(models.EventOrderPaid), 1)
}

func TestMarkPaidRespectsStrictPolicy(t *testing.T) {
	svc, db := newOrderFixture(models.StrictTransitions())
	order := placeOrder(t, svc, db, 7)

	_, err := svc.CancelOrder(context.Background(), 7, order.ID)
	require.NoError(t, err)

	stored, changed, err := svc.MarkPaid(context.Background(), order.ID, "pay-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Nil(t, stored.PaymentDate)
}

func TestMarkPaidRefusesCancelledOrderUnderAnyPolicy(t *testing.T) {
	svc, db := newOrderFixture(models.UncheckedTransitions())
	order := placeOrder(t, svc, db, 7)

	_, err := svc.CancelOrder(context.Background(), 7, order.ID)
	require.NoError(t, err)

	stored, changed, err := svc.MarkPaid(context.Background(), order.ID, "pay-1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.OrderStatusCancelled, stored.Status)
	assert.Nil(t, stored.PaymentDate)
	assert.Empty(t, db.events(models.EventOrderPaid))
}

func TestGetOrderForChecksOwnership(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)

	_, err := svc.GetOrderFor(context.Background(), 8, false, order.ID)
	requireAppError(t, err, apperrors.ErrForbidden, http.StatusForbidden)

	_, err = svc.GetOrderFor(context.Background(), 8, true, order.ID)
	assert.NoError(t, err)

	mine, err := svc.ListOrdersForUser(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func TestDeleteOrderKeepsStock(t *testing.T) {
	svc, db := newOrderFixture(nil)
	order := placeOrder(t, svc, db, 7)

	require.NoError(t, svc.DeleteOrder(context.Background(), order.ID))
	assert.Equal(t, 8, db.stock(1))

	err := svc.DeleteOrder(context.Background(), order.ID)
	requireAppError(t, err, apperrors.ErrNotFound, http.StatusNotFound)
}

func TestListAllOrdersPaginates(t *testing.T) {
	svc, db := newOrderFixture(nil)
	placeOrder(t, svc, db, 7)
	placeOrder(t, svc, db, 8)

	page, err := svc.ListAllOrders(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	all, err := svc.ListAllOrders(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
