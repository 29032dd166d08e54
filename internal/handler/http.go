// Package handler exposes the HTTP surface: webhooks for the chat and
// payment collaborators, and a read/admin API for vendors.
package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/streamsell/streamsell/internal/catalog"
	"github.com/streamsell/streamsell/internal/chat"
	"github.com/streamsell/streamsell/internal/client"
	"github.com/streamsell/streamsell/internal/conversation"
	"github.com/streamsell/streamsell/internal/order"
	"github.com/streamsell/streamsell/internal/payment"
	"github.com/streamsell/streamsell/internal/trust"
)

type ChatEventRequest struct {
	VendorID        string `json:"vendor_id" validate:"required"`
	FromPhone       string `json:"from_phone" validate:"required,min=6"`
	FromDisplayName string `json:"from_display_name"`
	Kind            string `json:"kind" validate:"required,oneof=text button"`
	Text            string `json:"text"`
	ButtonID        string `json:"button_id"`
}

type PaymentCallbackRequest struct {
	OrderID     string `json:"order_id"`
	Token       string `json:"token"`
	Status      string `json:"status" validate:"required,oneof=paid failed cancelled pending"`
	ProviderRef string `json:"provider_ref"`
}

type CreateProductRequest struct {
	Keyword string `json:"keyword" validate:"required,min=2,max=32"`
	Name    string `json:"name" validate:"required,min=2"`
	Price   int64  `json:"price" validate:"required,min=1"`
	Stock   int    `json:"stock" validate:"min=0"`
}

type ClientProfileResponse struct {
	Client     *client.Client   `json:"client"`
	Assessment trust.Assessment `json:"assessment"`
}

type Handler struct {
	machine  *conversation.Machine
	payments *payment.Handler
	orders   *order.Service
	products catalog.Repository
	clients  client.Repository
	trust    *trust.Engine
	validate *validator.Validate
}

func NewHandler(machine *conversation.Machine, payments *payment.Handler, orders *order.Service,
	products catalog.Repository, clients client.Repository, trustEngine *trust.Engine) *Handler {
	return &Handler{
		machine:  machine,
		payments: payments,
		orders:   orders,
		products: products,
		clients:  clients,
		trust:    trustEngine,
		validate: validator.New(),
	}
}

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook/chat", h.handleChatEvent)
	r.Post("/webhook/payment", h.handlePaymentCallback)

	r.Get("/orders/{id}", h.handleGetOrder)
	r.Get("/orders/token/{token}", h.handleGetOrderByToken)
	r.Post("/orders/{id}/cancel", h.handleCancelOrder)
	r.Post("/orders/{id}/poll", h.handlePollOrder)

	r.Route("/vendors/{vendorID}", func(r chi.Router) {
		r.Get("/orders", h.handleListOrders)
		r.Get("/orders/stats", h.handleOrderStats)
		r.Get("/clients/{phone}", h.handleGetClient)
		r.Post("/products", h.handleCreateProduct)
		r.Get("/products", h.handleListProducts)
	})
}

func (h *Handler) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		validationErrors, ok := err.(validator.ValidationErrors)
		if ok {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}

func (h *Handler) handleChatEvent(w http.ResponseWriter, r *http.Request) {
	var req ChatEventRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	err := h.machine.HandleInbound(r.Context(), chat.Inbound{
		VendorID:        req.VendorID,
		FromPhone:       req.FromPhone,
		FromDisplayName: req.FromDisplayName,
		Kind:            chat.Kind(req.Kind),
		Text:            req.Text,
		ButtonID:        req.ButtonID,
	})
	if err != nil {
		log.Error().Err(err).Str("vendor_id", req.VendorID).Msg("Failed to handle chat event")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to handle chat event")
		return
	}

	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *Handler) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req PaymentCallbackRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}
	if req.OrderID == "" && req.Token == "" {
		respondWithError(w, http.StatusBadRequest, "order_id or token is required")
		return
	}

	o, err := h.payments.HandleCallback(r.Context(), payment.Callback{
		OrderID:     req.OrderID,
		Token:       req.Token,
		Status:      payment.Status(req.Status),
		ProviderRef: req.ProviderRef,
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("Failed to handle payment callback")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to handle payment callback")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}

	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) handleGetOrderByToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "token is required")
		return
	}

	o, err := h.orders.GetOrderByToken(r.Context(), token)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}

	o, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("Failed to cancel order")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to cancel order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) handlePollOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "id is required")
		return
	}

	o, err := h.payments.Poll(r.Context(), id)
	if err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("Failed to poll payment status")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to poll payment status")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	orders, err := h.orders.ListVendorOrders(r.Context(), vendorID, limit)
	if err != nil {
		log.Error().Err(err).Str("vendor_id", vendorID).Msg("Failed to list orders")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list orders")
		return
	}
	respondWithJSON(w, http.StatusOK, orders)
}

func (h *Handler) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")

	stats, err := h.orders.VendorStats(r.Context(), vendorID)
	if err != nil {
		log.Error().Err(err).Str("vendor_id", vendorID).Msg("Failed to compute order stats")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to compute order stats")
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")
	phone := chi.URLParam(r, "phone")

	c, err := h.clients.GetByPhone(r.Context(), vendorID, phone)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get client")
		return
	}

	respondWithJSON(w, http.StatusOK, ClientProfileResponse{
		Client:     c,
		Assessment: h.trust.Evaluate(c, time.Now().UTC()),
	})
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")

	var req CreateProductRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	p := &catalog.Product{
		ID:       uuid.Must(uuid.NewV4()).String(),
		VendorID: vendorID,
		Keyword:  req.Keyword,
		Name:     req.Name,
		Price:    req.Price,
		Stock:    req.Stock,
		Active:   true,
	}
	if err := h.products.Create(r.Context(), p); err != nil {
		log.Error().Err(err).Str("vendor_id", vendorID).Msg("Failed to create product")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to create product")
		return
	}
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	vendorID := chi.URLParam(r, "vendorID")

	products, err := h.products.ListByVendor(r.Context(), vendorID)
	if err != nil {
		log.Error().Err(err).Str("vendor_id", vendorID).Msg("Failed to list products")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to list products")
		return
	}
	respondWithJSON(w, http.StatusOK, products)
}
