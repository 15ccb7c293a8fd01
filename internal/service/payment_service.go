package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/clients"
	"github.com/vaidashi/storefront-api/internal/config"
	"github.com/vaidashi/storefront-api/internal/models"
	apperrors "github.com/vaidashi/storefront-api/pkg/errors"
	"github.com/vaidashi/storefront-api/pkg/logger"
)

const (
	basketCategory1 = "Default"
	basketCategory2 = "General"
	basketItemType  = "PHYSICAL"
)

// PaymentGateway is satisfied by clients.PaymentClient
type PaymentGateway interface {
	InitializeThreeDS(ctx context.Context, request *clients.ThreeDSRequest) (*clients.ThreeDSResult, error)
}

// ConnectionBinder is satisfied by realtime.Hub
type ConnectionBinder interface {
	Bind(conversationID, connectionID string) error
}

// OutcomeNotifier is satisfied by the realtime notifiers
type OutcomeNotifier interface {
	Notify(ctx context.Context, conversationID string, payload interface{}) error
}

// PaymentService starts 3-D Secure payments for pending orders and settles
// them when the provider calls back.
type PaymentService struct {
	orders   *OrderService
	users    UserStore
	gateway  PaymentGateway
	binder   ConnectionBinder
	notifier OutcomeNotifier
	cfg      config.PaymentConfig
	logger   logger.Logger
}

func NewPaymentService(
	orders *OrderService,
	users UserStore,
	gateway PaymentGateway,
	binder ConnectionBinder,
	notifier OutcomeNotifier,
	cfg config.PaymentConfig,
	logger logger.Logger,
) *PaymentService {
	return &PaymentService{
		orders:   orders,
		users:    users,
		gateway:  gateway,
		binder:   binder,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// InitiatePayment requests the provider's 3-D Secure page for a pending order.
// A failure here never touches the order itself.
func (s *PaymentService) InitiatePayment(ctx context.Context, orderID int, clientIP, connectionID string) (*models.PaymentSession, error) {
	order, err := s.orders.GetOrder(ctx, orderID)

	if err != nil {
		return nil, err
	}

	if order.Status != models.OrderStatusPending {
		return nil, apperrors.NewConflictError(fmt.Sprintf("order is %s and cannot be paid", order.Status))
	}

	user, err := s.users.GetByID(ctx, order.UserID)

	if err != nil {
		return nil, translate(err, "user not found")
	}

	request := s.buildRequest(order, user, clientIP)

	if connectionID != "" && s.binder != nil {
		if err := s.binder.Bind(request.ConversationID, connectionID); err != nil {
			s.logger.Warn("Failed to bind payment connection",
				"error", err, "orderID", orderID, "connectionID", connectionID)
			return nil, apperrors.NewValidationError("unknown connection id")
		}
	}

	result, err := s.gateway.InitializeThreeDS(ctx, request)

	if err != nil {
		s.logger.Error("Failed to initialize payment", "error", err, "orderID", orderID)
		return nil, apperrors.NewExternalServiceError("payment-gateway", err)
	}

	s.logger.Info("Payment initialized", "orderID", orderID, "userID", user.ID)

	return &models.PaymentSession{
		ConversationID: result.ConversationID,
		HTMLContent:    result.HTMLContent,
	}, nil
}

func (s *PaymentService) buildRequest(order *models.Order, user *models.User, clientIP string) *clients.ThreeDSRequest {
	surname := orDefault(user.LastName, s.cfg.DefaultSurname)
	city := orDefault(user.City, s.cfg.DefaultCity)
	country := orDefault(user.Country, s.cfg.DefaultCountry)
	zip := orDefault(user.ZipCode, s.cfg.DefaultZipCode)
	name := orDefault(user.FirstName, user.Username)
	contact := orDefault(user.FullName(), user.Username)
	price := order.TotalPrice.StringFixed(2)

	address := clients.Address{
		ContactName: contact,
		City:        city,
		Country:     country,
		Address:     user.Address,
		ZipCode:     zip,
	}

	basket := make([]clients.BasketItem, len(order.Items))

	for i, item := range order.Items {
		basket[i] = clients.BasketItem{
			ID:        fmt.Sprintf("BI%d", i+1),
			Name:      item.ProductName,
			Category1: basketCategory1,
			Category2: basketCategory2,
			ItemType:  basketItemType,
			Price:     item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2),
		}
	}

	return &clients.ThreeDSRequest{
		Locale:         s.cfg.Locale,
		ConversationID: order.ConversationID(),
		Price:          price,
		PaidPrice:      price,
		Currency:       s.cfg.Currency,
		Installment:    s.cfg.Installment,
		PaymentChannel: s.cfg.Channel,
		PaymentGroup:   s.cfg.Group,
		CallbackURL:    s.cfg.CallbackURL,
		Buyer: clients.Buyer{
			ID:                  strconv.FormatInt(user.ID, 10),
			Name:                name,
			Surname:             surname,
			GsmNumber:           user.Phone,
			Email:               user.Email,
			IdentityNumber:      s.cfg.DefaultIdentityNumber,
			RegistrationAddress: user.Address,
			IP:                  clientIP,
			City:                city,
			Country:             country,
			ZipCode:             zip,
		},
		ShippingAddress: address,
		BillingAddress:  address,
		BasketItems:     basket,
	}
}

// CallbackSignature is the hex HMAC-SHA256 the provider proxy attaches to callbacks
func CallbackSignature(secret string, form models.CallbackForm) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(form.ConversationID + ":" + form.PaymentID + ":" + form.Status))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback checks the signature when a callback secret is configured
func (s *PaymentService) VerifyCallback(form models.CallbackForm) bool {
	if s.cfg.CallbackSecret == "" {
		return true
	}

	expected := CallbackSignature(s.cfg.CallbackSecret, form)
	return hmac.Equal([]byte(expected), []byte(form.Signature))
}

// HandleCallback settles the order on a successful payment and pushes the
// outcome to the waiting client. Failed payments leave the order untouched.
func (s *PaymentService) HandleCallback(ctx context.Context, form models.CallbackForm) error {
	if !s.VerifyCallback(form) {
		s.logger.Warn("Rejected payment callback with a bad signature", "conversationID", form.ConversationID)
		return apperrors.NewUnauthorizedError("invalid callback signature")
	}

	outcome := models.PaymentOutcome{CallbackForm: form}

	if !form.Succeeded() {
		s.logger.Info("Payment failed",
			"conversationID", form.ConversationID,
			"status", form.Status,
			"mdStatus", form.MDStatus)
		s.notify(ctx, form.ConversationID, outcome)
		return apperrors.NewPaymentFailedError()
	}

	orderID, err := strconv.Atoi(form.ConversationID)

	if err != nil {
		s.logger.Error("Payment callback carries an unparsable conversation id", "conversationID", form.ConversationID)
		s.notify(ctx, form.ConversationID, outcome)
		return nil
	}

	order, changed, err := s.orders.MarkPaid(ctx, orderID, form.PaymentID)

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		s.logger.Error("Payment callback for an unknown order", "orderID", orderID, "paymentID", form.PaymentID)
	case err != nil:
		// The 500 lets the provider redeliver the callback; the client still hears about it
		s.logger.Error("Failed to mark order paid", "error", err, "orderID", orderID, "paymentID", form.PaymentID)
		s.notify(ctx, form.ConversationID, outcome)
		return err
	default:
		outcome.OrderFound = true
		outcome.Settled = order.Status == models.OrderStatusPaid

		switch {
		case changed:
			s.logger.Info("Order paid", "orderID", orderID, "paymentID", form.PaymentID)
		case outcome.Settled:
			s.logger.Info("Duplicate payment callback ignored", "orderID", orderID)
		default:
			s.logger.Warn("Payment did not settle the order", "orderID", orderID, "status", order.Status, "paymentID", form.PaymentID)
		}

		if outcome.Settled {
			outcome.PaidAt = order.PaymentDate
		}
	}

	s.notify(ctx, form.ConversationID, outcome)
	return nil
}

func (s *PaymentService) notify(ctx context.Context, conversationID string, outcome models.PaymentOutcome) {
	if s.notifier == nil {
		return
	}

	if err := s.notifier.Notify(ctx, conversationID, outcome); err != nil {
		s.logger.Warn("Failed to push payment outcome", "error", err, "conversationID", conversationID)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
