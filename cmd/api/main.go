package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.opentelemetry.io/otel/trace"

	"farmmarket/pkg/logger"
	"farmmarket/pkg/notify"
	"farmmarket/pkg/notify/ws"
	"farmmarket/pkg/order"
	orderpg "farmmarket/pkg/order/postgres"
	"farmmarket/pkg/otel"
	"farmmarket/pkg/product"
	productpg "farmmarket/pkg/product/postgres"
)

var (
	redisClient *redis.Client
	inventory   product.Inventory
	orders      *order.Service
	hub         *ws.Hub
	log         *logger.Logger
	tracer      trace.Tracer
)

type ctxKey int

const userKey ctxKey = 1

// @title FarmMarket API
// @version 1.0
// @description Marketplace backend connecting produce sellers and buyers
// @host localhost:8443
// @BasePath /
func main() {
	log = logger.New(os.Stdout, logger.LevelInfo, "farmmarket", otel.GetTraceID)
	defer log.Sync()

	tp, shutdown, err := otel.InitTracing(log, otel.Config{ServiceName: "farmmarket", Host: os.Getenv("OTEL_HOST"), Probability: 1.0})
	if err != nil {
		log.Error(context.Background(), "init tracing", "error", err)
		os.Exit(1)
	}
	defer shutdown(context.Background())
	tracer = tp.Tracer("farmmarket")

	db, err := sql.Open("postgres", os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Error(context.Background(), "db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	for _, schema := range []string{productpg.Schema, orderpg.Schema} {
		if _, err := db.Exec(schema); err != nil {
			log.Error(context.Background(), "apply schema", "error", err)
			os.Exit(1)
		}
	}
	inventory = productpg.New(db)
	ledger := orderpg.New(db)

	redisClient = redis.NewClient(&redis.Options{Addr: os.Getenv("REDIS_ADDR")})

	hub = ws.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	sink := notify.NewDispatcher(log, 2*time.Second, hub)
	orders = order.NewService(log, inventory, ledger, order.NewNumberGenerator(), sink, nil)

	r := mux.NewRouter()
	r.Use(traceMiddleware)
	r.HandleFunc("/login", loginHandler).Methods(http.MethodPost)

	api := r.PathPrefix("/orders").Subrouter()
	api.Use(authMiddleware)
	api.HandleFunc("", createOrderHandler).Methods(http.MethodPost)
	api.HandleFunc("/my-orders", myOrdersHandler).Methods(http.MethodGet)
	api.HandleFunc("/my-sales", mySalesHandler).Methods(http.MethodGet)
	api.HandleFunc("/{id}/status", updateOrderStatusHandler).Methods(http.MethodPatch)

	r.HandleFunc("/products", listProductsHandler).Methods(http.MethodGet)
	r.Handle("/products", authMiddleware(http.HandlerFunc(createProductHandler))).Methods(http.MethodPost)
	r.Handle("/products/seller/my-products", authMiddleware(http.HandlerFunc(myProductsHandler))).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", getProductHandler).Methods(http.MethodGet)
	r.Handle("/products/{id}", authMiddleware(http.HandlerFunc(updateProductHandler))).Methods(http.MethodPut)

	r.Handle("/ws", authMiddleware(http.HandlerFunc(wsHandler))).Methods(http.MethodGet)

	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8443"
	}
	log.Info(context.Background(), "listening", "addr", addr)
	cert, key := os.Getenv("CERT_FILE"), os.Getenv("KEY_FILE")
	if cert != "" && key != "" {
		err = http.ListenAndServeTLS(addr, cert, key, r)
	} else {
		err = http.ListenAndServe(addr, r)
	}
	log.Error(context.Background(), "server closed", "error", err)
}

// loginHandler handles user login and session creation.
// @Summary Login
// @Description Authenticates user and sets session cookie
// @Accept json
// @Produce json
// @Param creds body loginRequest true "Credentials"
// @Success 200
// @Router /login [post]
func loginHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "loginHandler")
	defer span.End()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		http.Error(w, "invalid credentials", http.StatusBadRequest)
		return
	}
	sid := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := redisClient.Set(ctx, "session:"+sid, req.Username, time.Hour).Err(); err != nil {
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: sid, Path: "/", Expires: time.Now().Add(time.Hour), HttpOnly: true})
	w.WriteHeader(http.StatusOK)
}

// authMiddleware resolves the authenticated user id from the session.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("session_id")
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		user, err := redisClient.Get(r.Context(), "session:"+c.Value).Result()
		if err != nil || user == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.InjectTracing(r.Context(), tracer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userID(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// createOrderHandler places an order from the authenticated buyer's cart.
// @Summary Create order
// @Accept json
// @Produce json
// @Param order body createOrderRequest true "Cart"
// @Success 201 {object} order.Order
// @Security ApiKeyAuth
// @Router /orders [post]
func createOrderHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "createOrderHandler")
	defer span.End()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := orders.CreateOrder(ctx, order.CreateOrderInput{
		BuyerID:         userID(ctx),
		Items:           req.Items,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		DeliveryMethod:  req.DeliveryMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(ctx, w, "create order", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(o)
}

// myOrdersHandler lists the authenticated buyer's orders.
// @Summary List my orders
// @Produce json
// @Success 200 {array} order.Order
// @Security ApiKeyAuth
// @Router /orders/my-orders [get]
func myOrdersHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "myOrdersHandler")
	defer span.End()

	list, err := orders.OrdersForBuyer(ctx, userID(ctx))
	if err != nil {
		writeError(ctx, w, "list orders", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// mySalesHandler lists the authenticated seller's orders.
// @Summary List my sales
// @Produce json
// @Success 200 {array} order.Order
// @Security ApiKeyAuth
// @Router /orders/my-sales [get]
func mySalesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "mySalesHandler")
	defer span.End()

	list, err := orders.OrdersForSeller(ctx, userID(ctx))
	if err != nil {
		writeError(ctx, w, "list sales", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// updateOrderStatusHandler advances an order through its lifecycle.
// @Summary Update order status
// @Accept json
// @Produce json
// @Param id path string true "Order ID"
// @Param status body statusRequest true "New status"
// @Success 200 {object} order.Order
// @Security ApiKeyAuth
// @Router /orders/{id}/status [patch]
func updateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "updateOrderStatusHandler")
	defer span.End()

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := orders.UpdateStatus(ctx, mux.Vars(r)["id"], userID(ctx), req.Status)
	if err != nil {
		writeError(ctx, w, "update order status", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(o)
}

// createProductHandler lists a new product for the authenticated seller.
// @Summary Create product
// @Accept json
// @Produce json
// @Param product body product.Product true "Product"
// @Success 201 {object} product.Product
// @Security ApiKeyAuth
// @Router /products [post]
func createProductHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "createProductHandler")
	defer span.End()

	var p product.Product
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.ID = uuid.NewString()
	p.SellerID = userID(ctx)
	p.IsAvailable = p.Quantity > 0
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	p.Normalize()
	if err := p.Validate(); err != nil {
		writeError(ctx, w, "create product", err)
		return
	}
	if err := inventory.Create(ctx, p); err != nil {
		writeError(ctx, w, "create product", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(p)
}

// listProductsHandler lists available products.
// @Summary List products
// @Produce json
// @Success 200 {array} product.Product
// @Router /products [get]
func listProductsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "listProductsHandler")
	defer span.End()

	list, err := inventory.List(ctx)
	if err != nil {
		writeError(ctx, w, "list products", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// getProductHandler fetches one product.
// @Summary Get product
// @Produce json
// @Param id path string true "Product ID"
// @Success 200 {object} product.Product
// @Router /products/{id} [get]
func getProductHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "getProductHandler")
	defer span.End()

	p, err := inventory.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, "get product", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// updateProductHandler edits a listing owned by the authenticated seller.
// @Summary Update product
// @Accept json
// @Produce json
// @Param id path string true "Product ID"
// @Param product body product.Product true "Product"
// @Success 200 {object} product.Product
// @Security ApiKeyAuth
// @Router /products/{id} [put]
func updateProductHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "updateProductHandler")
	defer span.End()

	existing, err := inventory.Get(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(ctx, w, "update product", err)
		return
	}
	if existing.SellerID != userID(ctx) {
		http.NotFound(w, r)
		return
	}

	p := existing
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	p.ID = existing.ID
	p.SellerID = existing.SellerID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	p.Normalize()
	if err := p.Validate(); err != nil {
		writeError(ctx, w, "update product", err)
		return
	}
	if err := inventory.Update(ctx, p); err != nil {
		writeError(ctx, w, "update product", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}

// myProductsHandler lists the authenticated seller's products.
// @Summary List my products
// @Produce json
// @Success 200 {array} product.Product
// @Security ApiKeyAuth
// @Router /products/seller/my-products [get]
func myProductsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.AddSpan(r.Context(), "myProductsHandler")
	defer span.End()

	list, err := inventory.ListBySeller(ctx, userID(ctx))
	if err != nil {
		writeError(ctx, w, "list my products", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

// wsHandler attaches the authenticated user to the notification hub.
// @Summary Order lifecycle notifications
// @Description Pushes order lifecycle events over a websocket
// @Security ApiKeyAuth
// @Router /ws [get]
func wsHandler(w http.ResponseWriter, r *http.Request) {
	hub.Serve(w, r, userID(r.Context()))
}

// writeError maps domain errors to HTTP statuses. The requester cannot
// tell a foreign order from a missing one.
func writeError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		log.Error(ctx, op, "error", err)
	}
	http.Error(w, err.Error(), status)
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, product.ErrValidation),
		errors.Is(err, order.ErrMixedSeller), errors.Is(err, product.ErrInsufficientStock):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound), errors.Is(err, product.ErrNotFound),
		errors.Is(err, order.ErrUnauthorized):
		return http.StatusNotFound
	case errors.Is(err, order.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// loginRequest represents login credentials.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// createOrderRequest is the checkout payload.
type createOrderRequest struct {
	Items           []order.CartItem      `json:"items"`
	ShippingAddress order.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   order.PaymentMethod   `json:"paymentMethod"`
	DeliveryMethod  string                `json:"deliveryMethod,omitempty"`
	Notes           string                `json:"notes,omitempty"`
}

// statusRequest carries a requested status transition.
type statusRequest struct {
	Status order.Status `json:"status"`
}
