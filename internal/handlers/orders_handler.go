package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/medsupply-orderflow/internal/orders"
	"github.com/imrishuroy/medsupply-orderflow/internal/service"
	"github.com/imrishuroy/medsupply-orderflow/internal/validation"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
)

// OrderService is the use case layer behind the routes. *service.Service
// implements it.
type OrderService interface {
	CreateOrder(ctx context.Context, key string, rawBody []byte, in service.CreateOrderInput) (service.CreateResult, error)
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	Transition(ctx context.Context, orderID string, in service.TransitionInput) (service.TransitionResult, error)
}

// RegisterOrdersRoutes registers routes for order API.
func RegisterOrdersRoutes(r *gin.Engine, svc OrderService, log *slog.Logger) {
	h := &ordersHandler{svc: svc, v: validation.New(), log: log}
	r.POST("/orders", h.create)
	r.GET("/orders/:id", h.get)
	r.POST("/orders/:id/transitions", h.transition)
}

type ordersHandler struct {
	svc OrderService
	v   *validatorv10.Validate
	log *slog.Logger
}

func (h *ordersHandler) create(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	in := service.CreateOrderInput{
		CustomerID:      req.CustomerID,
		SellerID:        req.SellerID,
		CreatedByRole:   req.CreatedByRole,
		SourceChannel:   req.SourceChannel,
		DisplayName:     req.DisplayName,
		ShippingAddress: req.ShippingAddress,
		Items:           make([]service.LineItem, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.LineItem{SKU: it.SKU, Quantity: it.Quantity})
	}

	res, err := h.svc.CreateOrder(c.Request.Context(), c.GetHeader(idempotencyKeyHeader), validation.RawBody(c), in)
	if err != nil {
		h.fail(c, err)
		return
	}

	if res.Replayed {
		c.Header(replayedHeader, "true")
	}
	if res.OrderID != "" {
		c.Header("Location", fmt.Sprintf("/orders/%s", res.OrderID))
	}
	// stored bytes are replayed untouched
	c.Data(res.StatusCode, "application/json", res.Body)
}

func (h *ordersHandler) get(c *gin.Context) {
	o, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *ordersHandler) transition(c *gin.Context) {
	var req validation.TransitionRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status", "msg": err.Error()})
		return
	}

	res, err := h.svc.Transition(c.Request.Context(), c.Param("id"), service.TransitionInput{
		Status:          to,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": res.Order, "changed": res.Changed})
}

// fail maps service errors to responses. Unexpected errors are logged and
// answered opaquely with the request id.
func (h *ordersHandler) fail(c *gin.Context, err error) {
	var (
		conflict   *service.ConflictError
		unknown    *service.UnknownSKUError
		transition *orders.InvalidTransitionError
	)
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "idempotency_conflict",
			"request_id": conflict.KeyHash,
			"msg":        conflict.Error(),
		})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{
			"error": "invalid_transition",
			"from":  transition.From,
			"to":    transition.To,
		})
	case errors.Is(err, service.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict", "msg": err.Error()})
	case errors.As(err, &unknown):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unknown_sku", "skus": unknown.SKUs})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
	case errors.Is(err, service.ErrCatalogUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog_unavailable"})
	default:
		id := c.GetString(requestIDKey)
		h.log.Error("request failed", "path", c.FullPath(), "request_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "request_id": id})
	}
}
