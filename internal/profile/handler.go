package profile

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"velo/internal/constants"
	"velo/internal/logger"
	"velo/pkg/errors"
)

const (
	headerTenant = "X-Tenant-ID"
	headerUser   = "X-User-ID"
)

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
		configs := v1.Group("/velocity/configs")
		{
			configs.GET("", h.ListConfigs)
			configs.POST("", h.CreateConfig)
			configs.GET("/default", h.GetDefaultConfig)
			configs.GET("/:id", h.GetConfig)
			configs.DELETE("/:id", h.DeleteConfig)
			configs.PUT("/:id/default", h.SetDefaultConfig)
			configs.PUT("/:id/associations", h.UpdateAssociations)
			configs.GET("/:id/associations", h.ListAssociations)
		}

		audit := v1.Group("/audit")
		{
			audit.GET("/logs", h.GetAuditLogs)
		}
	}
}

func tenantFrom(c *gin.Context) (string, bool) {
	tenant := c.GetHeader(headerTenant)
	if tenant == "" {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
			errors.ErrValidation.WithDetail("message", "missing X-Tenant-ID header")))
		return "", false
	}
	return tenant, true
}

// ListConfigs godoc
// @Summary      List velocity configs
// @Description  List all velocity configs of the tenant
// @Tags         velocity-configs
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header    string  true  "Tenant"
// @Success      200  {array}    VelocityConfig
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /velocity/configs [get]
func (h *Handler) ListConfigs(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	configs, err := h.Service.ListConfigs(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, configs)
}

// CreateConfig godoc
// @Summary      Create a velocity config
// @Description  Create a velocity config with stage groups and classification rules
// @Tags         velocity-configs
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header    string               true  "Tenant"
// @Param        config       body      CreateConfigRequest  true  "Velocity config"
// @Success      201  {object}   VelocityConfig
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      409  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /velocity/configs [post]
func (h *Handler) CreateConfig(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req CreateConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	cfg, err := h.Service.CreateConfig(c.Request.Context(), tenant, c.GetHeader(headerUser), req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// GetConfig godoc
// @Summary      Get a velocity config
// @Tags         velocity-configs
// @Produce      json
// @Param        X-Tenant-ID  header    string  true  "Tenant"
// @Param        id           path      string  true  "Config ID"
// @Success      200  {object}   VelocityConfig
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /velocity/configs/{id} [get]
func (h *Handler) GetConfig(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	cfg, err := h.Service.GetConfig(c.Request.Context(), tenant, c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// GetDefaultConfig godoc
// @Summary      Get the tenant's default velocity config
// @Tags         velocity-configs
// @Produce      json
// @Param        X-Tenant-ID  header    string  true  "Tenant"
// @Success      200  {object}   VelocityConfig
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /velocity/configs/default [get]
func (h *Handler) GetDefaultConfig(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	cfg, err := h.Service.GetDefaultConfig(c.Request.Context(), tenant)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// SetDefaultConfig godoc
// @Summary      Make a velocity config the tenant default
// @Description  Atomically moves the default flag; the previous default is cleared
// @Tags         velocity-configs
// @Produce      json
// @Param        X-Tenant-ID  header    string  true  "Tenant"
// @Param        id           path      string  true  "Config ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /velocity/configs/{id}/default [put]
func (h *Handler) SetDefaultConfig(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	if err := h.Service.SetDefaultConfig(c.Request.Context(), tenant, c.Param("id"), c.GetHeader(headerUser)); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteConfig godoc
// @Summary      Delete a velocity config
// @Description  Deletes the config and its stages; associations referencing it are removed
// @Tags         velocity-configs
// @Produce      json
// @Param        X-Tenant-ID  header    string  true  "Tenant"
// @Param        id           path      string  true  "Config ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /velocity/configs/{id} [delete]
func (h *Handler) DeleteConfig(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteConfig(c.Request.Context(), tenant, c.Param("id"), c.GetHeader(headerUser)); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateAssociations godoc
// @Summary      Replace the OU associations of a profile
// @Description  Replaces the full association set; order of ou_ref_ids is preserved
// @Tags         velocity-configs
// @Accept       json
// @Produce      json
// @Param        X-Tenant-ID  header    string                     true  "Tenant"
// @Param        id           path      string                     true  "Profile ID"
// @Param        body         body      UpdateAssociationsRequest  true  "Association set"
// @Success      204
// @Failure      400  {object}  errors.ErrorResponse
// @Failure      404  {object}  errors.ErrorResponse
// @Router       /velocity/configs/{id}/associations [put]
func (h *Handler) UpdateAssociations(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	var req UpdateAssociationsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if err := h.Service.UpdateAssociations(c.Request.Context(), tenant, c.Param("id"), c.GetHeader(headerUser), req); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListAssociations godoc
// @Summary      List the OU associations of a profile
// @Tags         velocity-configs
// @Produce      json
// @Param        X-Tenant-ID   header    string  true   "Tenant"
// @Param        id            path      string  true   "Profile ID"
// @Param        profile_type  query     string  false  "Profile type (default velocity)"
// @Success      200  {array}    Association
// @Router       /velocity/configs/{id}/associations [get]
func (h *Handler) ListAssociations(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}
	profileType := c.DefaultQuery("profile_type", TypeVelocity)
	associations, err := h.Service.ListAssociations(c.Request.Context(), tenant, c.Param("id"), profileType)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if associations == nil {
		associations = []Association{}
	}
	c.JSON(http.StatusOK, associations)
}

// GetAuditLogs godoc
// @Summary      List profile audit logs
// @Tags         audit
// @Produce      json
// @Param        X-Tenant-ID  header    string  true   "Tenant"
// @Param        limit        query     int     false  "Page size"
// @Param        offset       query     int     false  "Offset"
// @Success      200  {array}    AuditLog
// @Router       /audit/logs [get]
func (h *Handler) GetAuditLogs(c *gin.Context) {
	tenant, ok := tenantFrom(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(constants.DefaultAuditLimit)))
	if err != nil || limit <= 0 {
		limit = constants.DefaultAuditLimit
	}
	if limit > constants.MaxAuditLimit {
		limit = constants.MaxAuditLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := h.Service.ListAuditLogs(c.Request.Context(), tenant, limit, offset)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if entries == nil {
		entries = []AuditLog{}
	}
	c.JSON(http.StatusOK, entries)
}
