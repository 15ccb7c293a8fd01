package api

import (
	"net/http"

	"github.com/vaidashi/storefront-api/internal/models"
	"github.com/vaidashi/storefront-api/pkg/middleware"
)

// CallbackSignatureHeader carries the HMAC of a provider callback
const CallbackSignatureHeader = "X-Callback-Signature"

// payHandler starts the provider's 3-D Secure flow for a pending order. The
// optional connectionId binds the order to an open /pay-hub connection.
func (s *Server) payHandler(w http.ResponseWriter, r *http.Request) {
	orderID, ok := s.pathInt(w, r, "orderId")

	if !ok {
		return
	}

	clientIP := middleware.ClientIP(r, s.config.RateLimit.TrustForwardedFor)
	connectionID := r.URL.Query().Get("connectionId")

	session, err := s.deps.Payments.InitiatePayment(r.Context(), orderID, clientIP, connectionID)

	if err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true, Data: session})
}

// paymentCallbackHandler receives the provider's form post
func (s *Server) paymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	if err := r.ParseForm(); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	form := models.CallbackForm{
		Status:           r.PostForm.Get("status"),
		PaymentID:        r.PostForm.Get("paymentId"),
		ConversationID:   r.PostForm.Get("conversationId"),
		ConversationData: r.PostForm.Get("conversationData"),
		MDStatus:         r.PostForm.Get("mdStatus"),
		Signature:        r.Header.Get(CallbackSignatureHeader),
	}

	if form.Signature == "" {
		form.Signature = r.PostForm.Get("signature")
	}

	if err := s.deps.Payments.HandleCallback(r.Context(), form); err != nil {
		s.respondWithAppError(w, r, err)
		return
	}

	s.respondWithJSON(w, http.StatusOK, ApiResponse{Success: true})
}
