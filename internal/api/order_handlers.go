package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/vaidashi/storefront-api/internal/service"
)

type orderItemRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Name      string          `json:"name" validate:"max=200"`
	Image     string          `json:"image" validate:"max=2048"`
}

// createOrderRequest lets an empty item list through so the order service reports it
type createOrderRequest struct {
	Items []orderItemRequest `json:"items" validate:"dive"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// createOrderHandler places an order for the calling customer
func (s *Server) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	inputs := make([]service.OrderItemInput, 0, len(req.Items))

	for _, item := range req.Items {
		inputs = append(inputs, service.OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Name:      item.Name,
			Image:     item.Image,
		})
	}

	order, err := s.deps.Orders.CreateOrder(r.Context(), principal(r).UserID, inputs)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: order})
}

func (s *Server) myOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := s.deps.Orders.ListOrdersForUser(r.Context(), principal(r).UserID)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: orders})
}

// getOrderHandler serves the owner or an admin
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")

	if !ok {
		return
	}

	caller := principal(r)
	order, err := s.deps.Orders.GetOrderFor(r.Context(), caller.UserID, caller.IsAdmin(), id)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")

	if !ok {
		return
	}

	order, err := s.deps.Orders.CancelOrder(r.Context(), principal(r).UserID, id)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")

	if !ok {
		return
	}

	var req updateOrderStatusRequest

	if !s.decodeJSON(w, r, &req) {
		return
	}

	order, err := s.deps.Orders.UpdateStatus(r.Context(), id, req.Status)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: order})
}

func (s *Server) deleteOrderHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathInt(w, r, "id")

	if !ok {
		return
	}

	if err := s.deps.Orders.DeleteOrder(r.Context(), id); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	page, pageSize, offset := pagination(r)
	orders, err := s.deps.Orders.ListAllOrders(r.Context(), pageSize, offset)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: PaginationResponse{
			Items:      orders,
			TotalCount: len(orders),
			Page:       page,
			PageSize:   pageSize,
			Offset:     offset,
		},
	})
}
