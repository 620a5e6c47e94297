package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/upb/authz-gateway/internal/observability"
	"github.com/upb/authz-gateway/services"
	"github.com/upb/authz-gateway/utils"
	"go.uber.org/zap"
)

// ErrorResponder maps failures to the error envelope. It is the single
// place where handler, middleware and binding errors become responses.
type ErrorResponder struct {
	logger     *zap.Logger
	production bool
}

// NewErrorResponder creates a new ErrorResponder. In production, details
// of non-operational errors are not sent to clients.
func NewErrorResponder(logger *zap.Logger, production bool) *ErrorResponder {
	return &ErrorResponder{logger: logger, production: production}
}

type errorView struct {
	status      int
	code        string
	message     string
	details     map[string]interface{}
	operational bool
}

// WriteError logs err and writes the matching envelope
func (e *ErrorResponder) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	v := e.classify(err)

	fields := append(observability.RequestFields(r.Context()),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", v.status),
		zap.String("code", v.code),
		zap.Error(err),
	)
	msg := fmt.Sprintf("[%d] %s: %s", v.status, v.code, v.message)
	if v.operational {
		e.logger.Warn(msg, fields...)
	} else {
		e.logger.Error(msg, fields...)
	}

	details := v.details
	if e.production && !v.operational {
		details = nil
	}

	if err := utils.WriteError(w, r, v.status, v.code, v.message, details); err != nil {
		e.logger.Error("failed to write error response", zap.Error(err))
	}
}

func (e *ErrorResponder) classify(err error) errorView {
	if domainErr, ok := services.AsDomainError(err); ok {
		v := errorView{
			status:      domainErr.Status(),
			code:        domainErr.Code(),
			message:     domainErr.Message,
			details:     domainErr.Details,
			operational: domainErr.Operational(),
		}
		if !v.operational && domainErr.Err != nil {
			v.details = withCause(v.details, domainErr.Err)
		}
		return v
	}

	if utils.IsValidationError(err) {
		fields := make(map[string]interface{})
		for k, msg := range utils.GetValidationFields(err) {
			fields[k] = msg
		}
		return errorView{
			status:      http.StatusBadRequest,
			code:        "VALIDATION_ERROR",
			message:     err.Error(),
			details:     map[string]interface{}{"fields": fields},
			operational: true,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		timeout := services.NewRequestTimeoutError("")
		return errorView{
			status:      timeout.Status(),
			code:        timeout.Code(),
			message:     timeout.Message,
			operational: true,
		}
	}

	return errorView{
		status:  http.StatusInternalServerError,
		code:    "INTERNAL_SERVER_ERROR",
		message: "Internal server error",
		details: withCause(nil, err),
	}
}

func withCause(details map[string]interface{}, cause error) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["cause"] = cause.Error()
	return out
}

// NotFound answers requests that match no route
func (e *ErrorResponder) NotFound(w http.ResponseWriter, r *http.Request) {
	e.WriteError(w, r, services.NewNotFoundError(fmt.Sprintf("Route %s %s not found", r.Method, r.URL.Path)))
}

// MethodNotAllowed answers requests whose path matches under another method
func (e *ErrorResponder) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	msg := fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path)
	e.logger.Warn(msg, observability.RequestFields(r.Context())...)
	if err := utils.WriteError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", msg, nil); err != nil {
		e.logger.Error("failed to write error response", zap.Error(err))
	}
}

// Recover answers a panic that escapes a handler with the internal error
// envelope, unless a response has already started
func (e *ErrorResponder) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			e.logger.Error("request panicked",
				append(observability.RequestFields(r.Context()),
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)...,
			)
			if ww.Status() == 0 {
				e.WriteError(ww, r, services.NewInternalError("Internal server error", fmt.Errorf("panic: %v", rec)))
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// Timeout bounds the request context by d. A request whose deadline passed
// without a response gets the request timeout envelope.
func (e *ErrorResponder) Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if ww.Status() == 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				e.WriteError(ww, r, context.DeadlineExceeded)
			}
		})
	}
}
