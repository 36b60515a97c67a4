package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/events"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/service"
)

var tracer = otel.Tracer("handler")

// RouterConfig carries the collaborators the router wires together.
type RouterConfig struct {
	Operations *service.OperationService
	Terminal   *service.TerminalService
	Bus        *events.Bus
	Metrics    *observability.Metrics
	JWTSecret  string
	Logger     *zap.Logger
}

// NewRouter builds the HTTP router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// 1. Catálogos
		// GET /v1/divisas
		// GET /v1/divisas/{currencyId}/denominaciones
		// =============================================
		r.Get("/divisas", listCurrenciesHandler(cfg.Operations, logger))
		r.Get("/divisas/{currencyId}/denominaciones", listDenominationsHandler(cfg.Terminal, logger))

		// =============================================
		// 2. Cliente activo
		// POST /v1/clientes/activo
		// =============================================
		r.Post("/clientes/activo", setActiveClientHandler(cfg.Bus, logger))

		// =============================================
		// 3. Operaciones (wizard, protected)
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(cfg.JWTSecret, logger))

			r.Post("/operaciones", startOperationHandler(cfg.Operations, logger))
			r.Get("/operaciones/{operationId}", getOperationHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/configurar", configureOperationHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/confirmar", confirmOperationHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/pagar", payOperationHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/aceptar-cambio", acceptDriftHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/rechazar-cambio", rejectDriftHandler(cfg.Operations, logger))
			r.Post("/operaciones/{operationId}/cancelar", cancelOperationHandler(cfg.Operations, logger))
		})

		// =============================================
		// 4. Terminal (tauser kiosk, PIN-gated per session)
		// =============================================
		r.Post("/terminal/sesiones", startTerminalHandler(cfg.Terminal, logger))
		r.Get("/terminal/sesiones/{sessionId}", getTerminalHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/configurar", terminalConfigureHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/confirmar", terminalConfirmHandler(cfg.Terminal, logger))
		r.Put("/terminal/sesiones/{sessionId}/conteo", terminalCountHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/recibir-efectivo", terminalReceiveHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/aceptar-cambio", terminalAcceptDriftHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/rechazar-cambio", terminalRejectDriftHandler(cfg.Terminal, logger))
		r.Post("/terminal/sesiones/{sessionId}/cancelar", terminalCancelHandler(cfg.Terminal, logger))
	})

	return r
}

// ============================================================
// Health & catalog
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"time":   time.Now().Format(time.RFC3339),
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func listDenominationsHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/divisas/{currencyId}/denominaciones")
		defer span.End()

		catalog, err := termSvc.Denominations(ctx, chi.URLParam(r, "currencyId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"denominaciones": catalog})
	}
}

// setActiveClientHandler publishes the client change so session owners
// can discard work started on behalf of the previous client.
func setActiveClientHandler(bus *events.Bus, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "POST /v1/clientes/activo")
		defer span.End()

		var req struct {
			ClientID string `json:"cliente"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.ClientID == "" {
			writeError(w, http.StatusBadRequest, "cliente is required")
			return
		}

		bus.Publish(req.ClientID)
		logger.Info("active client changed", zap.String("client_id", req.ClientID))
		writeJSON(w, http.StatusOK, map[string]string{"cliente": req.ClientID})
	}
}
