// Package httpapi — HTTP API корзины поверх gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/cart/internal/domain"
	"github.com/vladislavdragonenkov/cart/internal/service/cart"
)

// SessionHeader — заголовок с идентификатором сессии (в запросе и в ответе).
const SessionHeader = "X-Session-ID"

// Handler обслуживает маршруты /cart.
type Handler struct {
	registry *cart.Registry
	logger   *log.Entry
}

// NewHandler создаёт обработчик.
func NewHandler(registry *cart.Registry, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.WithField("component", "cart-http")
	}
	return &Handler{registry: registry, logger: logger}
}

// CartResponse — тело успешного ответа.
type CartResponse struct {
	SessionID string      `json:"session_id"`
	Items     domain.Cart `json:"items"`
	Size      int         `json:"size"`
	Total     float64     `json:"total"`
}

// ErrorResponse — тело ответа с отказом. Message — текст для пользователя.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Kind    domain.FailureKind `json:"kind,omitempty"`
	Message string             `json:"message,omitempty"`
}

type amountRequest struct {
	Amount *int `json:"amount" binding:"required"`
}

// Register навешивает маршруты на router.
func (h *Handler) Register(router gin.IRouter) {
	group := router.Group("/cart")
	group.GET("", h.GetCart)
	group.POST("/items/:productId", h.AddProduct)
	group.DELETE("/items/:productId", h.RemoveProduct)
	group.PUT("/items/:productId", h.UpdateProductAmount)
}

// NewRouter собирает gin.Engine с recovery, логированием запросов и маршрутами корзины.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.logger))
	h.Register(router)
	return router
}

// GetCart — GET /cart
func (h *Handler) GetCart(c *gin.Context) {
	snapshot, sessionID, err := h.registry.View(c.Request.Context(), c.GetHeader(SessionHeader))
	if err != nil {
		respondCartError(c, err)
		return
	}
	c.Header(SessionHeader, sessionID)
	respondCart(c, sessionID, snapshot)
}

// AddProduct — POST /cart/items/:productId
func (h *Handler) AddProduct(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, store *cart.Store, productID int64) error {
		return store.AddProduct(ctx, productID)
	})
}

// RemoveProduct — DELETE /cart/items/:productId
func (h *Handler) RemoveProduct(c *gin.Context) {
	h.mutate(c, func(ctx context.Context, store *cart.Store, productID int64) error {
		return store.RemoveProduct(ctx, productID)
	})
}

// UpdateProductAmount — PUT /cart/items/:productId с телом {"amount": n}
func (h *Handler) UpdateProductAmount(c *gin.Context) {
	var payload amountRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	h.mutate(c, func(ctx context.Context, store *cart.Store, productID int64) error {
		return store.UpdateProductAmount(ctx, domain.AmountUpdate{ProductID: productID, Amount: *payload.Amount})
	})
}

func (h *Handler) mutate(c *gin.Context, op func(ctx context.Context, store *cart.Store, productID int64) error) {
	productID, ok := parseProductID(c)
	if !ok {
		return
	}
	store, ok := h.session(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), store, productID); err != nil {
		respondCartError(c, err)
		return
	}
	respondCart(c, store.SessionID(), store.Snapshot())
}

func (h *Handler) session(c *gin.Context) (*cart.Store, bool) {
	store, sessionID, err := h.registry.Session(c.Request.Context(), c.GetHeader(SessionHeader))
	if err != nil {
		respondCartError(c, err)
		return nil, false
	}
	c.Header(SessionHeader, sessionID)
	return store, true
}

func respondCart(c *gin.Context, sessionID string, snapshot domain.Cart) {
	c.JSON(http.StatusOK, CartResponse{
		SessionID: sessionID,
		Items:     snapshot,
		Size:      snapshot.Size(),
		Total:     snapshot.Total(),
	})
}

func parseProductID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "product id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func respondCartError(c *gin.Context, err error) {
	kind, status := classify(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	if kind != "" {
		resp.Message = kind.Message()
	}
	c.JSON(status, resp)
}

// classify определяет категорию отказа и HTTP статус.
func classify(err error) (domain.FailureKind, int) {
	switch {
	case errors.Is(err, domain.ErrInvalidSessionID):
		return "", http.StatusBadRequest
	case errors.Is(err, domain.ErrCartUnavailable):
		return "", http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrOutOfStock):
		return domain.FailureOutOfStock, http.StatusConflict
	case errors.Is(err, domain.ErrRemoveFailed):
		return domain.FailureRemoveFailed, http.StatusNotFound
	case errors.Is(err, domain.ErrAddFailed):
		return domain.FailureAddFailed, upstreamStatus(err)
	case errors.Is(err, domain.ErrUpdateFailed):
		return domain.FailureUpdateFailed, upstreamStatus(err)
	default:
		return "", http.StatusInternalServerError
	}
}

func upstreamStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInventoryTemporary), errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func requestLogger(logger *log.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.WithFields(log.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"session_id": c.Writer.Header().Get(SessionHeader),
		}).Debug("http request handled")
	}
}
