package errors

import (
	"net/http"

	"github.com/Eashwar-S/knowledge-map/pkg/common"

	"go.uber.org/zap"
)

// ErrorHandler handles errors and sends appropriate HTTP responses
type ErrorHandler struct {
	logger        *zap.Logger
	debug         bool
	defaultStatus int
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	return &ErrorHandler{
		logger:        logger,
		debug:         debug,
		defaultStatus: http.StatusInternalServerError,
	}
}

// Handle processes an error and sends an HTTP response. The error code in
// the envelope is the AppError type, so clients can branch on DUPLICATE_ID,
// UNKNOWN_NODE and friends.
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	requestID := common.ExtractRequestID(r)

	var status int
	info := &common.ErrorInfo{}

	if appErr := GetAppError(err); appErr != nil {
		status = appErr.HTTPStatus
		if status == 0 {
			status = h.defaultStatus
		}

		info.Code = string(appErr.Type)
		info.Message = appErr.Message
		if len(appErr.Details) > 0 {
			info.Details = make(map[string]interface{}, len(appErr.Details)+1)
			for k, v := range appErr.Details {
				info.Details[k] = v
			}
		}

		h.logError(r, appErr, status, requestID)

		if h.debug && appErr.StackTrace != "" {
			if info.Details == nil {
				info.Details = make(map[string]interface{})
			}
			info.Details["stack_trace"] = appErr.StackTrace
		}
	} else {
		status = h.defaultStatus
		info.Code = string(ErrorTypeInternal)
		info.Message = "An internal error occurred"

		h.logger.Error("Unhandled error",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", requestID),
			zap.Int("status", status),
		)

		if h.debug {
			info.Message = err.Error()
		}
	}

	common.RespondWithEnvelope(w, status, common.APIResponse{
		Success: false,
		Error:   info,
		Meta:    &common.MetaInfo{RequestID: requestID},
	})
}

// logError logs an application error with appropriate level
func (h *ErrorHandler) logError(r *http.Request, err *AppError, status int, requestID string) {
	fields := []zap.Field{
		zap.String("error_type", string(err.Type)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", requestID),
	}

	if err.Code != "" {
		fields = append(fields, zap.String("error_code", err.Code))
	}
	if err.Cause != nil {
		fields = append(fields, zap.Error(err.Cause))
	}
	if err.Details != nil {
		fields = append(fields, zap.Any("details", err.Details))
	}

	switch {
	case status >= 500:
		h.logger.Error(err.Message, fields...)
	case status >= 400:
		h.logger.Warn(err.Message, fields...)
	default:
		h.logger.Info(err.Message, fields...)
	}
}

// Middleware returns an HTTP middleware that turns panics into INTERNAL
// errors. The panic value is logged, never sent to the client.
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				h.logger.Error("Recovered from panic",
					zap.Any("panic", rec),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", common.ExtractRequestID(r)),
					zap.Stack("stack"),
				)
				h.Handle(w, r, NewInternalError("An internal error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
