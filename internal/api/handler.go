package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"
	"storefront/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services are the components the HTTP surface calls into. Toasts and
// Inbox are optional; their routes are only registered when set.
type Services struct {
	Saga       *service.SagaOrchestrator
	Storefront *service.StorefrontService
	Catalog    *service.CatalogService
	Sales      *service.SalesService
	Chat       *service.ChatSessionManager
	Toasts     *worker.ToastNotifier
	Inbox      *worker.InboxPoller
}

// Handler contains HTTP handlers
type Handler struct {
	svc   Services
	ready func(context.Context) error
}

// NewHandler creates a new HTTP handler. ready may be nil.
func NewHandler(svc Services, ready func(context.Context) error) *Handler {
	return &Handler{svc: svc, ready: ready}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/checkout", h.checkout)

		v1.GET("/products", h.getProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.PUT("/products/:id", h.updateProduct)
		v1.POST("/products/:id/stock", h.adjustStock)
		v1.POST("/products/:id/description", h.generateDescription)
		v1.GET("/products/:id/reviews", h.getReviews)
		v1.POST("/products/:id/reviews", h.addReview)

		v1.POST("/users", h.registerUser)
		v1.GET("/users/:id/orders", h.getUserOrders)
		if h.svc.Toasts != nil {
			v1.GET("/users/:id/toasts", h.getToasts)
			v1.GET("/toasts", h.getOperatorToasts)
			v1.DELETE("/toasts/:id", h.dismissToast)
		}

		v1.GET("/orders/:id", h.getOrder)
		v1.PUT("/orders/:id/status", h.updateOrderStatus)

		h.setupChatRoutes(v1.Group("/chat"))
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "not ready",
				"details": err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

type checkoutRequest struct {
	PayerID string `json:"payer_id" binding:"required"`
	service.CartSnapshot
}

// checkout runs the order saga. Failure details stay in the logs; the
// shopper only sees the generic retry message.
func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	// line prices come from the client and are only trusted when the
	// catalog agrees with them
	items, err := h.svc.Catalog.PriceCart(c.Request.Context(), req.Items)
	if err != nil {
		respondError(c, err)
		return
	}
	req.Items = items

	order, err := h.svc.Saga.Checkout(c.Request.Context(), req.CartSnapshot, req.PayerID)
	if err != nil {
		var failure *service.SagaFailure
		if errors.As(err, &failure) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":       service.CheckoutFailedMessage,
				"checkout_id": failure.CheckoutID,
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) getProducts(c *gin.Context) {
	products, err := h.svc.Catalog.GetProducts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, products)
}

func (h *Handler) getProduct(c *gin.Context) {
	p, err := h.svc.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) updateProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	p.ID = c.Param("id")

	if err := h.svc.Storefront.UpdateProduct(c.Request.Context(), &p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type stockRequest struct {
	VariationID string `json:"variation_id"`
	Delta       int    `json:"delta" binding:"required"`
}

func (h *Handler) adjustStock(c *gin.Context) {
	var req stockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	p, err := h.svc.Storefront.AdjustStock(c.Request.Context(), c.Param("id"), req.VariationID, req.Delta)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) generateDescription(c *gin.Context) {
	text, err := h.svc.Storefront.GenerateDescription(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"description": text})
}

func (h *Handler) getReviews(c *gin.Context) {
	reviews, err := h.svc.Catalog.GetReviews(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

func (h *Handler) addReview(c *gin.Context) {
	var r models.Review
	if err := c.ShouldBindJSON(&r); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	r.ProductID = c.Param("id")

	if err := h.svc.Catalog.AddReview(c.Request.Context(), &r); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) registerUser(c *gin.Context) {
	var u models.User
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.svc.Storefront.RegisterUser(c.Request.Context(), &u); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

func (h *Handler) getUserOrders(c *gin.Context) {
	orders, err := h.svc.Sales.GetOrdersByUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.svc.Sales.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.svc.Storefront.UpdateOrderStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getToasts(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Toasts.Toasts(c.Param("id")))
}

func (h *Handler) getOperatorToasts(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Toasts.Toasts(""))
}

func (h *Handler) dismissToast(c *gin.Context) {
	h.svc.Toasts.Dismiss(c.Param("id"))
	c.Status(http.StatusNoContent)
}

// respondError maps service errors onto HTTP status codes
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDuplicateUser),
		errors.Is(err, service.ErrSessionClosed),
		errors.Is(err, service.ErrPriceChanged):
		status = http.StatusConflict
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrInvalidSender),
		errors.Is(err, service.ErrMissingUserID),
		errors.Is(err, service.ErrInvalidReview),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, service.ErrInvalidCart),
		errors.Is(err, service.ErrInvalidStock):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
