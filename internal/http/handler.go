package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"v2v-service/internal/detector"
	"v2v-service/internal/domain/v2v"
	"v2v-service/internal/relay"
	"v2v-service/internal/service"
)

const serviceName = "V2V Image Processing API"

var features = []string{
	"Image upload and processing",
	"AI hazard detection",
	"Distance calculation",
	"V2V alert generation",
	"Real-time V2V relay",
}

type Handler struct {
	hazardService *service.HazardService
	relay         *relay.Relay
	transport     http.Handler
	metrics       http.Handler
	log           zerolog.Logger
}

// NewHandler wires the REST endpoints. metricsHandler may be nil to leave
// /metrics unexposed.
func NewHandler(
	hazardService *service.HazardService,
	v2vRelay *relay.Relay,
	transport http.Handler,
	metricsHandler http.Handler,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		hazardService: hazardService,
		relay:         v2vRelay,
		transport:     transport,
		metrics:       metricsHandler,
		log:           log,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/health", h.health)
	r.GET("/ws", gin.WrapH(h.transport))
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	// Paths used by the first generation of vehicle clients
	r.POST("/process-image", h.processImage)
	r.POST("/test-detection", h.testDetection)

	public := r.Group("/api/v1")
	{
		public.POST("/hazards/process-image", h.processImage)
		public.POST("/hazards/test-detection", h.testDetection)
		public.GET("/reports", h.listReports)
	}

	protected := r.Group("/api/v1/relay")
	protected.Use(authMiddleware)
	{
		protected.GET("/vehicles", h.listVehicles)
		protected.GET("/history", h.listHistory)
		protected.POST("/vehicles/:id/alerts", h.relayAlert)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   serviceName,
		"timestamp": v2v.FormatTimestamp(time.Now()),
		"features":  features,
		"vehicles":  h.relay.Registry().Count(),
	})
}

func (h *Handler) processImage(c *gin.Context) {
	var input service.ProcessImageInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, failureResponse("No image data provided"))
		return
	}

	result, err := h.hazardService.ProcessImage(c.Request.Context(), input)
	if err != nil {
		h.handleDetectionError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) testDetection(c *gin.Context) {
	var req struct {
		Type string `json:"type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, failureResponse(err.Error()))
		return
	}

	c.JSON(http.StatusOK, h.hazardService.TestDetection(req.Type))
}

func (h *Handler) listReports(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := parseInt(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	offset := 0
	if o := c.Query("offset"); o != "" {
		if parsed, err := parseInt(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	reports, err := h.hazardService.FindReports(
		c.Request.Context(),
		strings.TrimSpace(c.Query("alert_type")),
		strings.TrimSpace(c.Query("vehicle_id")),
		limit,
		offset,
	)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(reports))
}

func (h *Handler) listVehicles(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.relay.Registry().List()))
}

func (h *Handler) listHistory(c *gin.Context) {
	history := h.relay.History()
	c.JSON(http.StatusOK, successResponse(gin.H{
		"total":    history.Total(),
		"messages": history.Snapshot(),
	}))
}

type relayAlertRequest struct {
	Message    string   `json:"message" binding:"required"`
	AlertType  string   `json:"alertType"`
	AlertIcon  string   `json:"alertIcon"`
	Distance   *float64 `json:"distance"`
	Confidence *float64 `json:"confidence"`
}

func (h *Handler) relayAlert(c *gin.Context) {
	vehicleID := strings.TrimSpace(c.Param("id"))

	var req relayAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	extra := map[string]any{}
	if req.AlertType != "" {
		extra["alertType"] = req.AlertType
	}
	if req.AlertIcon != "" {
		extra["alertIcon"] = req.AlertIcon
	}
	if req.Distance != nil {
		extra["distance"] = *req.Distance
	}
	if req.Confidence != nil {
		extra["confidence"] = *req.Confidence
	}

	msg, err := v2v.NewAlert(vehicleID, req.Message, extra)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	result, err := h.relay.Publish(c.Request.Context(), vehicleID, msg)
	if err != nil {
		h.handleError(c, err)
		return
	}

	failed := make([]string, 0, len(result.Failed))
	for _, f := range result.Failed {
		failed = append(failed, f.VehicleID)
	}
	c.JSON(http.StatusOK, successResponse(gin.H{
		"recipients": result.Recipients,
		"delivered":  result.Delivered,
		"failed":     failed,
	}))
}

func (h *Handler) handleDetectionError(c *gin.Context, err error) {
	var upstream *detector.UpstreamError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, failureResponse(strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")))
	case errors.As(err, &upstream):
		c.JSON(http.StatusBadGateway, failureResponse(upstream.Error()))
	default:
		h.log.Error().Err(err).Msg("failed to process image")
		c.JSON(http.StatusInternalServerError, failureResponse("Processing error"))
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, relay.ErrNotRegistered):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}

// failureResponse is the envelope vehicle clients expect from the detection
// endpoints.
func failureResponse(message string) gin.H {
	return gin.H{
		"success": false,
		"error":   message,
	}
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}
