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
// Terminal (kiosk) cash flow
// ============================================================

func startTerminalHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones")
		defer span.End()

		var req struct {
			TerminalID string `json:"tauser"`
			PIN        string `json:"pin"`
			ClientID   string `json:"cliente"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		view, err := termSvc.Start(ctx, req.TerminalID, req.PIN, req.ClientID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, view)
	}
}

func getTerminalHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, span := tracer.Start(r.Context(), "GET /v1/terminal/sesiones/{id}")
		defer span.End()

		session, err := termSvc.Get(chi.URLParam(r, "sessionId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, session.View())
	}
}

func terminalConfigureHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/configurar")
		defer span.End()

		var draft domain.OperationDraft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.Configure(ctx, &draft)
		})
	}
}

func terminalConfirmHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/confirmar")
		defer span.End()

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.ConfirmAndPay(ctx)
		})
	}
}

func terminalCountHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/terminal/sesiones/{id}/conteo")
		defer span.End()

		var req struct {
			DenominationID string `json:"denominacion"`
			Quantity       int    `json:"cantidad"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.SetCount(req.DenominationID, req.Quantity)
		})
	}
}

func terminalReceiveHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/recibir-efectivo")
		defer span.End()

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.Confirm(ctx)
		})
	}
}

func terminalAcceptDriftHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/aceptar-cambio")
		defer span.End()

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.AcceptDrift(ctx)
		})
	}
}

func terminalRejectDriftHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/rechazar-cambio")
		defer span.End()

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.RejectDrift(ctx)
		})
	}
}

func terminalCancelHandler(termSvc *service.TerminalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/terminal/sesiones/{id}/cancelar")
		defer span.End()

		withTerminalSession(ctx, w, r, termSvc, logger, func(session *service.TerminalSession) (*service.TerminalView, error) {
			return session.Cancel(ctx)
		})
	}
}

// withTerminalSession resolves the session and renders the action's result.
func withTerminalSession(ctx context.Context, w http.ResponseWriter, r *http.Request, termSvc *service.TerminalService, logger *zap.Logger, action func(*service.TerminalSession) (*service.TerminalView, error)) {
	session, err := termSvc.Get(chi.URLParam(r, "sessionId"))
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}

	view, err := action(session)
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
