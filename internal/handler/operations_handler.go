package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/service"
)

// ============================================================
// Online operation wizard
// ============================================================

func startOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones")
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

		view := opSvc.Start(ctx, req.ClientID, OperatorIDFromContext(ctx))
		writeJSON(w, http.StatusCreated, view)
	}
}

func getOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/operaciones/{id}")
		defer span.End()

		op, err := opSvc.Get(chi.URLParam(r, "operationId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, op.View())
	}
}

func configureOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/configurar")
		defer span.End()

		var draft domain.OperationDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.Configure(ctx, &draft)
		})
	}
}

func confirmOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/confirmar")
		defer span.End()

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.ConfirmAndPay(ctx)
		})
	}
}

func payOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/pagar")
		defer span.End()

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.Pay(ctx)
		})
	}
}

func acceptDriftHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/aceptar-cambio")
		defer span.End()

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.AcceptDrift(ctx)
		})
	}
}

func rejectDriftHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/rechazar-cambio")
		defer span.End()

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.RejectDrift(ctx)
		})
	}
}

func cancelOperationHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operaciones/{id}/cancelar")
		defer span.End()

		withOperation(ctx, w, r, opSvc, logger, func(op *service.Orchestrator) (*service.OperationView, error) {
			return op.Cancel(ctx)
		})
	}
}

// withOperation resolves the session and renders the action's result.
func withOperation(ctx context.Context, w http.ResponseWriter, r *http.Request, opSvc *service.OperationService, logger *zap.Logger, action func(*service.Orchestrator) (*service.OperationView, error)) {
	op, err := opSvc.Get(chi.URLParam(r, "operationId"))
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}

	view, err := action(op)
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ============================================================
// Catalogs
// ============================================================

func listCurrenciesHandler(opSvc *service.OperationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/divisas")
		defer span.End()

		currencies, err := opSvc.ListCurrencies(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, currencies)
	}
}
