package handlers

import (
	"net/http"

	"loyalty-service/internal/services"
	"loyalty-service/pkg/common"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	var status int
	switch err.(type) {
	case *services.NotFoundError:
		status = http.StatusNotFound
	case *services.ValidationError:
		status = http.StatusBadRequest
	case *services.BusinessLogicError:
		status = http.StatusUnprocessableEntity
	case *services.ConflictError:
		status = http.StatusConflict
	case *services.MpesaRequestError, *services.MpesaRejectionError:
		status = http.StatusBadRequest
	case *services.MpesaRateLimitError:
		status = http.StatusTooManyRequests
	case *services.MpesaAuthError, *services.MpesaNetworkError:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}
	c.JSON(status, common.NewErrorResponse(err.Error(), nil, status))
}
