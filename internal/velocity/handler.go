package velocity

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"velo/internal/logger"
	"velo/pkg/errors"
)

const headerTenant = "X-Tenant-ID"

type Handler struct {
	Service Service
	Logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		Service: service,
		Logger:  log,
	}
}

func (h *Handler) HandleError(c *gin.Context, err error) {
	h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/velocity/calculate", h.Calculate)
	}
}

// Calculate godoc
// @Summary      Run a velocity calculation
// @Description  Selects the eligible work-item population per the request filters, computes per-item stage durations and returns paginated aggregation buckets
// @Tags         velocity
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header    string            true  "Tenant"
// @Param        request      body      CalculateRequest  true  "Calculation request"
// @Success      200  {object}   CalculateResult
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      503  {object}  errors.ErrorResponse
// @Router       /velocity/calculate [post]
func (h *Handler) Calculate(c *gin.Context) {
	tenant := c.GetHeader(headerTenant)
	if tenant == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "missing X-Tenant-ID header")))
		return
	}

	var req CalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.Service.Calculate(c.Request.Context(), tenant, &req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
