package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merchantry/wholesale-core/internal/service"
	"github.com/merchantry/wholesale-core/pkg/health"
	"github.com/merchantry/wholesale-core/pkg/middleware"
)

// AdminRole is the back-office role asserted by the upstream identity
// provider for administrative routes.
const AdminRole = "admin"

// RouterDeps bundles the services the router exposes. A RateLimitRPS of zero
// disables rate limiting, which the tests rely on.
type RouterDeps struct {
	Cart     *service.CartService
	Checkout *service.SaleService
	Coupon   *service.CouponService
	Catalog  *service.CatalogService
	Health   *health.Handler

	RateLimitRPS   int
	RateLimitBurst int
}

// NewRouter creates a chi router with all routes registered.
func NewRouter(deps RouterDeps, logger *slog.Logger, pprofCIDRs []string) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if deps.RateLimitRPS > 0 {
		r.Use(middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst, logger))
	}
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("wholesale-core"))
	r.Use(middleware.Tracing("wholesale-core"))
	r.Use(middleware.Identity())
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, pprofCIDRs, logger)

	cartHandler := NewCartHandler(deps.Cart, logger)
	checkoutHandler := NewCheckoutHandler(deps.Checkout, logger)
	couponHandler := NewCouponHandler(deps.Coupon, logger)
	catalogHandler := NewCatalogHandler(deps.Catalog, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Public catalog reads.
		r.Get("/products/{productID}", catalogHandler.GetProduct)

		// Storefront routes require an authenticated user.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser())

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Get("/minimum-order", cartHandler.MinimumOrder)

				r.Post("/items", cartHandler.AddItem)
				r.Delete("/items/{productID}", cartHandler.RemoveItem)
				r.Delete("/products/{productID}", cartHandler.RemoveProduct)
			})

			r.Post("/checkout", checkoutHandler.Checkout)
			r.Get("/orders", checkoutHandler.ListOrders)
			r.Get("/orders/{orderID}", checkoutHandler.GetOrder)

			r.Post("/coupons/validate", couponHandler.Validate)
		})

		// Back-office routes.
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireUser())
			r.Use(middleware.RequireRole(AdminRole))

			r.Post("/sales", checkoutHandler.POSSale)
			r.Put("/orders/{orderID}/status", checkoutHandler.UpdateOrderStatus)

			r.Post("/products", catalogHandler.CreateProduct)
			r.Get("/products/low-stock", catalogHandler.ListLowStock)

			r.Post("/coupons", couponHandler.Create)
			r.Get("/coupons", couponHandler.List)
		})
	})

	return r
}
