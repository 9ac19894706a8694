package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/inventory-holds/internal/adapters/mongo"
	"github.com/robertarktes/inventory-holds/internal/domain"
	"github.com/robertarktes/inventory-holds/internal/observability"
	"github.com/robertarktes/inventory-holds/internal/webhook"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

type HoldService interface {
	Create(ctx context.Context, productID int64, qty int) (domain.Hold, error)
	Get(ctx context.Context, id int64) (domain.Hold, error)
}

type OrderService interface {
	CreateFromHold(ctx context.Context, holdID int64) (domain.Order, error)
	Get(ctx context.Context, id int64) (domain.Order, error)
}

type PaymentProcessor interface {
	Process(ctx context.Context, n webhook.Notification) (webhook.Result, error)
}

type ProductStore interface {
	CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error)
	GetProduct(ctx context.Context, tx pgx.Tx, id int64) (domain.Product, error)
}

type Availability interface {
	AvailableStock(ctx context.Context, productID int64) (int, error)
}

type Catalog interface {
	GetDetails(ctx context.Context, productID int64) (*mongo.ProductDetails, error)
	UpsertDetails(ctx context.Context, details mongo.ProductDetails) error
}

// CheckFunc reports whether a dependency is reachable.
type CheckFunc func(ctx context.Context) error

// Deps wires the handlers. Catalog and Checks are optional.
type Deps struct {
	Holds        HoldService
	Orders       OrderService
	Payments     PaymentProcessor
	Products     ProductStore
	Availability Availability
	Catalog      Catalog
	Checks       map[string]CheckFunc
	Logger       observability.Logger
}

type Handlers struct {
	Deps
}

func NewHandlers(deps Deps) *Handlers {
	return &Handlers{Deps: deps}
}

func (h *Handlers) log(r *http.Request) observability.Logger {
	return LoggerFrom(r.Context(), h.Logger)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidID, "invalid id")
		return 0, false
	}
	return id, true
}

type createHoldRequest struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type holdResponse struct {
	HoldID    int64  `json:"hold_id"`
	ExpiresAt string `json:"expires_at"`
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req createHoldRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ProductID <= 0 {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidInput, "product_id is required")
		return
	}

	hold, err := h.Holds.Create(r.Context(), req.ProductID, req.Qty)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, holdResponse{
		HoldID:    hold.ID,
		ExpiresAt: hold.ExpiresAt.Format(time.RFC3339),
	})
}

type holdDetailsResponse struct {
	HoldID    int64  `json:"hold_id"`
	ProductID int64  `json:"product_id"`
	Qty       int    `json:"qty"`
	ExpiresAt string `json:"expires_at"`
	Consumed  bool   `json:"consumed"`
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	hold, err := h.Holds.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, holdDetailsResponse{
		HoldID:    hold.ID,
		ProductID: hold.ProductID,
		Qty:       hold.Quantity,
		ExpiresAt: hold.ExpiresAt.Format(time.RFC3339),
		Consumed:  hold.Consumed,
	})
}

type orderResponse struct {
	OrderID    int64              `json:"order_id"`
	HoldID     *int64             `json:"hold_id,omitempty"`
	ProductID  int64              `json:"product_id"`
	Quantity   int                `json:"quantity"`
	TotalPrice decimal.Decimal    `json:"total_price"`
	Status     domain.OrderStatus `json:"status"`
	CreatedAt  string             `json:"created_at"`
}

func toOrderResponse(o domain.Order) orderResponse {
	return orderResponse{
		OrderID:    o.ID,
		HoldID:     o.HoldID,
		ProductID:  o.ProductID,
		Quantity:   o.Quantity,
		TotalPrice: o.TotalPrice,
		Status:     o.Status,
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldID int64 `json:"hold_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.HoldID <= 0 {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidInput, "hold_id is required")
		return
	}

	order, err := h.Orders.CreateFromHold(r.Context(), req.HoldID)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	order, err := h.Orders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, codeInvalidRequestBody, "invalid request body")
		return
	}
	n, err := webhook.DecodeNotification(body)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	res, err := h.Payments.Process(r.Context(), n)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type productResponse struct {
	ID             int64                 `json:"id"`
	Name           string                `json:"name"`
	Price          decimal.Decimal       `json:"price"`
	Stock          int                   `json:"stock"`
	AvailableStock int                   `json:"available_stock"`
	Details        *mongo.ProductDetails `json:"details,omitempty"`
}

func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	product, err := h.Products.GetProduct(ctx, nil, id)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}
	available, err := h.Availability.AvailableStock(ctx, id)
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	resp := productResponse{
		ID:             product.ID,
		Name:           product.Name,
		Price:          product.Price,
		Stock:          product.Stock,
		AvailableStock: available,
	}
	if h.Catalog != nil {
		details, err := h.Catalog.GetDetails(ctx, id)
		if err != nil {
			h.log(r).WithError(err).WithField("product_id", id).Warn("catalog details unavailable")
		}
		resp.Details = details
	}
	writeJSON(w, http.StatusOK, resp)
}

type createProductRequest struct {
	Name    string                `json:"name"`
	Price   decimal.Decimal       `json:"price"`
	Stock   int                   `json:"stock"`
	Details *mongo.ProductDetails `json:"details"`
}

func (h *Handlers) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	switch {
	case req.Name == "":
		writeError(w, http.StatusUnprocessableEntity, codeInvalidInput, "name is required")
		return
	case req.Price.IsNegative():
		writeError(w, http.StatusUnprocessableEntity, codeInvalidInput, "price must not be negative")
		return
	case req.Stock < 0:
		writeError(w, http.StatusUnprocessableEntity, codeInvalidInput, "stock must not be negative")
		return
	}

	product, err := h.Products.CreateProduct(r.Context(), domain.Product{
		Name:  req.Name,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		writeDomainError(w, h.log(r), err)
		return
	}

	resp := productResponse{
		ID:             product.ID,
		Name:           product.Name,
		Price:          product.Price,
		Stock:          product.Stock,
		AvailableStock: product.Stock,
	}
	if req.Details != nil && h.Catalog != nil {
		req.Details.ProductID = product.ID
		if err := h.Catalog.UpsertDetails(r.Context(), *req.Details); err != nil {
			h.log(r).WithError(err).WithField("product_id", product.ID).Warn("catalog details not saved")
		} else {
			resp.Details = req.Details
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			h.log(r).WithError(err).WithField("dependency", name).Warn("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, codeNotReady, name+" unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ready"))
}
