package handlers

import (
	"net/http"

	"github.com/upb/tenantguard/services"
	"github.com/upb/tenantguard/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses.
// Authorization failures surface only as one of the three public rejection codes with
// their generic message, so nothing about the target record leaks.
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	var writeErr error
	switch {
	case services.IsNotFoundError(err):
		writeErr = utils.WriteNotFound(w, "Resource not found")

	case services.IsValidationError(err):
		writeErr = utils.WriteBadRequest(w, err.Error(), services.GetErrorDetails(err))

	case services.IsConflictError(err):
		writeErr = utils.WriteConflict(w, err.Error(), services.GetErrorDetails(err))

	case services.IsUnauthenticatedError(err), services.IsRateLimitError(err), services.IsForbiddenError(err):
		logger.Debug("service rejected request",
			zap.String("error_type", string(services.GetErrorType(err))),
			zap.Error(err))
		writeErr = utils.WriteRejection(w, services.ExternalCode(err), "", 0)

	case services.IsInternalError(err):
		// Log internal errors but return generic message
		logger.Error("internal server error", zap.Error(err))
		writeErr = utils.WriteInternalServerError(w, "An internal error occurred")

	default:
		logger.Error("unhandled error type",
			zap.Error(err),
			zap.String("error_type", string(services.GetErrorType(err))))
		writeErr = utils.WriteInternalServerError(w, "An unexpected error occurred")
	}

	if writeErr != nil {
		logger.Error("failed to write error response", zap.Error(writeErr))
	}
}

// HandleValidationError handles validation errors from request parsing
func HandleValidationError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if utils.IsValidationError(err) {
		fields := utils.GetValidationFields(err)
		details := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			details[k] = v
		}
		if err := utils.WriteBadRequest(w, "Validation failed", details); err != nil {
			logger.Error("failed to write validation error response", zap.Error(err))
		}
		return
	}

	if err := utils.WriteBadRequest(w, err.Error(), nil); err != nil {
		logger.Error("failed to write validation error response", zap.Error(err))
	}
}
