package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/internal/repository"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

// maxOrderIDAttempts bounds how often a colliding order id is redrawn
const maxOrderIDAttempts = 5

// OrderItemInput is one requested line. UnitPrice, Name and Image are
// advisory: the stored snapshot always comes from the catalog.
type OrderItemInput struct {
	ProductID int64
	Quantity  int
	UnitPrice decimal.Decimal
	Name      string
	Image     string
}

// OrderService handles order-related operations
type OrderService struct {
	orders      OrderStore
	products    ProductStore
	transitions models.TransitionTable
	generateID  func() (int, error)
	logger      logger.Logger
}

// NewOrderService creates a new OrderService. A nil transition table permits every status change.
func NewOrderService(
	orders OrderStore,
	products ProductStore,
	transitions models.TransitionTable,
	logger logger.Logger,
) *OrderService {
	if transitions == nil {
		transitions = models.UncheckedTransitions()
	}

	return &OrderService{
		orders:      orders,
		products:    products,
		transitions: transitions,
		generateID:  models.GenerateOrderID,
		logger:      logger,
	}
}

// CreateOrder reserves stock for every line and stores the order with its
// order_created event. Either all of it commits or none of it does.
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, inputs []OrderItemInput) (*models.Order, error) {
	lines, err := mergeLines(inputs)

	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(lines))
	for i, line := range lines {
		ids[i] = line.ProductID
	}

	products, err := s.products.GetByIDs(ctx, ids)

	if err != nil {
		s.logger.Error("Failed to load products for order", "error", err, "userID", userID)
		return nil, translate(err, "product not found")
	}

	items := make([]models.OrderItem, 0, len(lines))

	for _, line := range lines {
		product, ok := products[line.ProductID]

		if !ok {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("product %d not found", line.ProductID))
		}

		if product.Stock < line.Quantity {
			return nil, apperrors.NewInsufficientStockError(product.Name)
		}

		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductImg:  product.ImgURL,
			UnitPrice:   product.FinalPrice(),
			Quantity:    line.Quantity,
		})
	}

	id, err := s.generateID()

	if err != nil {
		return nil, apperrors.NewInternalError("failed to generate order id").WithContext("cause", err.Error())
	}

	order := models.NewOrder(id, userID, items)

	for attempt := 1; ; attempt++ {
		err = s.placeOrder(ctx, order)

		if !errors.Is(err, repository.ErrDuplicate) || attempt == maxOrderIDAttempts {
			break
		}

		id, genErr := s.generateID()

		if genErr != nil {
			return nil, apperrors.NewInternalError("failed to generate order id").WithContext("cause", genErr.Error())
		}

		s.logger.Warn("Order id collision, retrying with a new id", "orderID", order.ID, "attempt", attempt)
		order.AssignID(id)
	}

	if err != nil {
		return nil, s.placementError(err, userID)
	}

	s.logger.Info("Order created",
		"orderID", order.ID,
		"userID", userID,
		"total", order.TotalPrice.StringFixed(2),
		"items", len(order.Items))

	return order, nil
}

func (s *OrderService) placeOrder(ctx context.Context, order *models.Order) error {
	event, err := models.NewOrderCreatedEvent(order)

	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}

	return s.orders.PlaceOrder(ctx, order, event)
}

func (s *OrderService) placementError(err error, userID int64) error {
	var shortage *repository.StockShortageError
	var missing *repository.ProductMissingError

	switch {
	case errors.As(err, &shortage):
		s.logger.Info("Order rejected for insufficient stock", "userID", userID, "productID", shortage.ProductID)
		return apperrors.NewInsufficientStockError(shortage.ProductName)
	case errors.As(err, &missing):
		return apperrors.NewNotFoundError(fmt.Sprintf("product %d not found", missing.ProductID))
	case errors.Is(err, repository.ErrDuplicate):
		s.logger.Error("Exhausted order id attempts", "userID", userID)
		return apperrors.NewTemporaryError("could not allocate an order id, try again")
	default:
		s.logger.Error("Failed to place order", "error", err, "userID", userID)
		return translate(err, "order not found")
	}
}

// mergeLines validates the requested lines and folds repeated products into one line
func mergeLines(inputs []OrderItemInput) ([]OrderItemInput, error) {
	if len(inputs) == 0 {
		return nil, apperrors.NewValidationError("order must contain at least one item")
	}

	merged := make([]OrderItemInput, 0, len(inputs))
	index := make(map[int64]int, len(inputs))

	for _, in := range inputs {
		if in.ProductID <= 0 {
			return nil, apperrors.NewValidationError("product id must be positive")
		}

		if in.Quantity <= 0 {
			return nil, apperrors.NewValidationError("quantity must be positive")
		}

		if i, ok := index[in.ProductID]; ok {
			merged[i].Quantity += in.Quantity
			continue
		}

		index[in.ProductID] = len(merged)
		merged = append(merged, in)
	}

	return merged, nil
}

// UpdateStatus applies an administrative status change. Paid is reserved
// for the payment callback.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int, rawStatus string) (*models.Order, error) {
	status, err := models.ParseOrderStatus(rawStatus)

	if err != nil {
		return nil, apperrors.NewValidationError("invalid status")
	}

	if status == models.OrderStatusPaid {
		return nil, apperrors.NewValidationError("Paid is set by the payment callback only")
	}

	var oldStatus models.OrderStatus

	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) (*repository.OrderChange, error) {
		oldStatus = o.Status

		if o.Status == status {
			return nil, repository.ErrNoChange
		}

		if !s.transitions.Allows(o.Status, status) {
			return nil, apperrors.NewConflictError(fmt.Sprintf("cannot move order from %s to %s", o.Status, status))
		}

		o.Status = status
		o.UpdatedAt = models.GetCurrentTime()

		event, err := models.NewOrderStatusChangedEvent(o, oldStatus)

		if err != nil {
			return nil, fmt.Errorf("failed to create outbox message: %w", err)
		}

		return &repository.OrderChange{Events: []*models.OutboxMessage{event}}, nil
	})

	if err != nil {
		return nil, translate(err, "order not found")
	}

	s.logger.Info("Order status updated",
		"orderID", orderID,
		"oldStatus", oldStatus,
		"newStatus", order.Status)

	return order, nil
}

// CancelOrder lets the owner withdraw a pending order and returns its stock
func (s *OrderService) CancelOrder(ctx context.Context, userID int64, orderID int) (*models.Order, error) {
	order, err := s.orders.Update(ctx, orderID, func(o *models.Order) (*repository.OrderChange, error) {
		if o.UserID != userID {
			return nil, apperrors.NewForbiddenError("only the owner can cancel this order")
		}

		if o.Status != models.OrderStatusPending {
			return nil, apperrors.NewConflictError(fmt.Sprintf("order is %s and can no longer be cancelled", o.Status))
		}

		oldStatus := o.Status
		o.Status = models.OrderStatusCancelled
		o.UpdatedAt = models.GetCurrentTime()

		event, err := models.NewOrderCancelledEvent(o, oldStatus)

		if err != nil {
			return nil, fmt.Errorf("failed to create outbox message: %w", err)
		}

		return &repository.OrderChange{Events: []*models.OutboxMessage{event}, Restock: true}, nil
	})

	if err != nil {
		return nil, translate(err, "order not found")
	}

	s.logger.Info("Order cancelled by owner", "orderID", orderID, "userID", userID)
	return order, nil
}

// MarkPaid settles an order exactly once. changed is false when the order
// was already paid or its status does not accept a payment. A cancelled
// order has released its stock and is never settled, whatever the policy.
func (s *OrderService) MarkPaid(ctx context.Context, orderID int, paymentID string) (order *models.Order, changed bool, err error) {
	order, err = s.orders.Update(ctx, orderID, func(o *models.Order) (*repository.OrderChange, error) {
		if o.Status == models.OrderStatusPaid {
			return nil, repository.ErrNoChange
		}

		if o.Status == models.OrderStatusCancelled {
			s.logger.Error("Payment received for a cancelled order",
				"orderID", o.ID, "paymentID", paymentID)
			return nil, repository.ErrNoChange
		}

		if !s.transitions.Allows(o.Status, models.OrderStatusPaid) {
			s.logger.Error("Payment received for an order that cannot be paid",
				"orderID", o.ID, "status", o.Status, "paymentID", paymentID)
			return nil, repository.ErrNoChange
		}

		oldStatus := o.Status
		now := models.GetCurrentTime()
		o.Status = models.OrderStatusPaid
		o.PaymentDate = &now
		o.UpdatedAt = now
		changed = true

		event, err := models.NewOrderPaidEvent(o, oldStatus, paymentID)

		if err != nil {
			return nil, fmt.Errorf("failed to create outbox message: %w", err)
		}

		return &repository.OrderChange{Events: []*models.OutboxMessage{event}}, nil
	})

	if err != nil {
		return nil, false, translate(err, "order not found")
	}

	return order, changed, nil
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, id int) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, id)

	if err != nil {
		return nil, translate(err, "order not found")
	}

	return order, nil
}

// GetOrderFor returns the order when the caller owns it or is an admin
func (s *OrderService) GetOrderFor(ctx context.Context, userID int64, isAdmin bool, id int) (*models.Order, error) {
	order, err := s.GetOrder(ctx, id)

	if err != nil {
		return nil, err
	}

	if !isAdmin && order.UserID != userID {
		return nil, apperrors.NewForbiddenError("you do not have access to this order")
	}

	return order, nil
}

func (s *OrderService) ListOrdersForUser(ctx context.Context, userID int64) ([]*models.Order, error) {
	orders, err := s.orders.ListByUser(ctx, userID)

	if err != nil {
		return nil, translate(err, "orders not found")
	}

	return orders, nil
}

// ListAllOrders retrieves all orders with pagination
func (s *OrderService) ListAllOrders(ctx context.Context, limit, offset int) ([]*models.Order, error) {
	limit, offset = normalizePage(limit, offset)
	orders, err := s.orders.List(ctx, limit, offset)

	if err != nil {
		return nil, translate(err, "orders not found")
	}

	return orders, nil
}

// DeleteOrder purges an order. Reserved stock is not returned.
func (s *OrderService) DeleteOrder(ctx context.Context, id int) error {
	if err := s.orders.Delete(ctx, id); err != nil {
		return translate(err, "order not found")
	}

	s.logger.Info("Order deleted", "orderID", id)
	return nil
}
