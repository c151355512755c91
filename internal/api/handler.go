package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"shop-service/internal/models"
	"shop-service/internal/redisclient"
	"shop-service/internal/service"
	"shop-service/internal/store"
	"shop-service/internal/ticket"
	"shop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const sessionCookie = "session_id"

// Handler contains HTTP handlers
type Handler struct {
	catalog  *service.CatalogService
	carts    *service.CartService
	accounts *service.AccountService
	checkout *service.CheckoutService
	orders   *service.OrderService
	sessions *redisclient.Client
	tickets  *ticket.Renderer
}

// NewHandler creates a new HTTP handler
func NewHandler(
	catalog *service.CatalogService,
	carts *service.CartService,
	accounts *service.AccountService,
	checkout *service.CheckoutService,
	orders *service.OrderService,
	sessions *redisclient.Client,
	tickets *ticket.Renderer,
) *Handler {
	return &Handler{
		catalog:  catalog,
		carts:    carts,
		accounts: accounts,
		checkout: checkout,
		orders:   orders,
		sessions: sessions,
		tickets:  tickets,
	}
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
	v1.Use(h.sessionMiddleware())
	{
		v1.GET("/products", h.listProducts)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:productID", h.updateCartItem)
		v1.DELETE("/cart/items/:productID", h.removeCartItem)

		v1.POST("/register", h.register)
		v1.POST("/login", h.login)
		v1.POST("/logout", h.logout)

		auth := v1.Group("")
		auth.Use(h.requireLogin())
		{
			auth.POST("/checkout", h.postCheckout)
			auth.GET("/orders", h.getHistory)
			auth.GET("/orders/:id/ticket", h.getTicket)
		}
	}
}

// sessionMiddleware assigns a session id cookie on first contact and
// loads the Redis-backed session into the request context.
func (h *Handler) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, err := c.Cookie(sessionCookie)
		if err != nil || sessionID == "" {
			sessionID = uuid.New().String()
			c.SetCookie(sessionCookie, sessionID, 86400, "/", "", false, true)
		}

		session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Session store unavailable",
			})
			return
		}

		c.Set("sessionID", sessionID)
		c.Set("session", session)
		c.Next()
	}
}

// requireLogin rejects requests whose session has no authenticated user
func (h *Handler) requireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := currentSession(c)
		if session == nil || session.User == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Login required",
			})
			return
		}
		c.Next()
	}
}

func currentSession(c *gin.Context) *models.Session {
	value, ok := c.Get("session")
	if !ok {
		return nil
	}
	session, _ := value.(*models.Session)
	return session
}

func sessionID(c *gin.Context) string {
	return c.GetString("sessionID")
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
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// listProducts returns the catalog
func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list products",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}

// getCart returns the session cart with its total
func (h *Handler) getCart(c *gin.Context) {
	cart, total, err := h.carts.GetCart(c.Request.Context(), sessionID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load cart",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": cart, "total": total})
}

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
}

// addCartItem adds one unit of a product to the cart
func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), sessionID(c), req.ProductID)
	if err != nil {
		var notFound *service.ProductNotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to add item to cart",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

// updateCartItem sets the quantity of a cart line
func (h *Handler) updateCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	cart, err := h.carts.UpdateQuantity(c.Request.Context(), sessionID(c), productID, req.Quantity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update cart",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

// removeCartItem drops a product from the cart
func (h *Handler) removeCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("productID"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}

	cart, err := h.carts.RemoveItem(c.Request.Context(), sessionID(c), productID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to update cart",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// register creates an account and logs the new user in
func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register",
		})
		return
	}

	if err := h.attachUser(c, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// login verifies credentials and binds the user to the session
func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	user, err := h.accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to log in",
		})
		return
	}

	if err := h.attachUser(c, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// logout destroys the session
func (h *Handler) logout(c *gin.Context) {
	if err := h.sessions.DeleteSession(c.Request.Context(), sessionID(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to log out"})
		return
	}
	c.SetCookie(sessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

// attachUser stores the authenticated identity in the session, keeping
// any cart built while browsing anonymously.
func (h *Handler) attachUser(c *gin.Context, user *models.SessionUser) error {
	session := currentSession(c)
	session.User = user
	return h.sessions.SaveSession(c.Request.Context(), sessionID(c), session)
}

// postCheckout commits the session cart as an order
func (h *Handler) postCheckout(c *gin.Context) {
	session := currentSession(c)

	// Snapshot the cart; the session copy is only replaced after commit.
	cart := make([]models.CartLine, len(session.Cart))
	copy(cart, session.Cart)

	orderID, err := h.checkout.Checkout(c.Request.Context(), sessionID(c), session.User.ID, cart)
	if err != nil {
		status, payload := checkoutErrorResponse(err)
		c.JSON(status, payload)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"order_id": orderID})
}

func checkoutErrorResponse(err error) (int, gin.H) {
	var notFound *service.ProductNotFoundError
	var insufficient *service.InsufficientStockError
	var partial *service.PartialCommitFailure

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusBadRequest, gin.H{"error": "Cart is empty"}

	case errors.As(err, &notFound):
		return http.StatusNotFound, gin.H{
			"error":      "Product not found",
			"product_id": notFound.ProductID,
		}

	case errors.As(err, &insufficient):
		return http.StatusConflict, gin.H{
			"error":      "Insufficient stock",
			"product_id": insufficient.ProductID,
			"product":    insufficient.Name,
			"available":  insufficient.Available,
			"requested":  insufficient.Requested,
		}

	case errors.As(err, &partial):
		return http.StatusInternalServerError, gin.H{
			"error":      "Checkout aborted, no charges applied",
			"product_id": partial.ProductID,
		}

	default:
		return http.StatusInternalServerError, gin.H{"error": "Failed to check out"}
	}
}

// getHistory returns the logged-in user's orders
func (h *Handler) getHistory(c *gin.Context) {
	session := currentSession(c)

	history, err := h.orders.GetHistory(c.Request.Context(), session.User.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load order history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": history})
}

// getTicket streams the PDF ticket for one of the user's orders
func (h *Handler) getTicket(c *gin.Context) {
	session := currentSession(c)

	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID"})
		return
	}

	order, err := h.orders.GetOrderForUser(c.Request.Context(), orderID, session.User.ID)
	if err != nil {
		if errors.Is(err, store.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to generate ticket",
		})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="ticket_order_%d.pdf"`, orderID))

	if err := h.tickets.Render(c.Writer, session.User, &order.Order, order.Lines); err != nil {
		c.Status(http.StatusInternalServerError)
	}
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
