package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dispatch-service/internal/http/middleware"
	"dispatch-service/internal/model"
	"dispatch-service/internal/service"
)

type Handler struct {
	emergencyService *service.EmergencyService
	unitService      *service.UnitService
	facilityService  *service.FacilityService
	reconciler       *service.Reconciler
	pollInterval     time.Duration
	log              zerolog.Logger
}

func NewHandler(
	emergencyService *service.EmergencyService,
	unitService *service.UnitService,
	facilityService *service.FacilityService,
	reconciler *service.Reconciler,
	pollInterval time.Duration,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		emergencyService: emergencyService,
		unitService:      unitService,
		facilityService:  facilityService,
		reconciler:       reconciler,
		pollInterval:     pollInterval,
		log:              log,
	}
}

type geoPointPayload struct {
	Lat *float64 `json:"lat" binding:"required"`
	Lng *float64 `json:"lng" binding:"required"`
}

func (p geoPointPayload) point() model.GeoPoint {
	return model.GeoPoint{Lat: *p.Lat, Lng: *p.Lng}
}

func (h *Handler) createEmergency(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		Location    geoPointPayload `json:"location" binding:"required"`
		Description string          `json:"description"`
		Notes       string          `json:"notes"`
		Requester   struct {
			Name  string `json:"name"`
			Phone string `json:"phone"`
			Email string `json:"email"`
		} `json:"requester"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	record, err := h.emergencyService.Create(c.Request.Context(), principal, service.CreateEmergencyInput{
		Location:    req.Location.point(),
		Description: req.Description,
		Notes:       req.Notes,
		Requester: model.RequesterSnapshot{
			Name:  req.Requester.Name,
			Phone: req.Requester.Phone,
			Email: req.Requester.Email,
		},
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse(record))
}

func (h *Handler) listActive(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	records, err := h.emergencyService.ListActive(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(h.listPayload(records)))
}

func (h *Handler) listOwn(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	records, err := h.emergencyService.ListOwn(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(h.listPayload(records)))
}

func (h *Handler) getEmergency(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	record, err := h.emergencyService.Get(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) assignEmergency(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		UnitID     string `json:"unit_id"`
		FacilityID string `json:"facility_id"`
		ETAMinutes *int   `json:"eta_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	unitID, err := parseOptionalUUID(req.UnitID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid unit_id", "invalid_input"))
		return
	}
	facilityID, err := parseOptionalUUID(req.FacilityID)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid facility_id", "invalid_input"))
		return
	}

	record, err := h.emergencyService.Assign(c.Request.Context(), principal, c.Param("id"), service.AssignInput{
		UnitID:     unitID,
		FacilityID: facilityID,
		ETAMinutes: req.ETAMinutes,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) advanceStatus(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		Status string `json:"status" binding:"required"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	target, err := service.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("unknown status", "invalid_input"))
		return
	}

	record, err := h.emergencyService.AdvanceStatus(c.Request.Context(), principal, c.Param("id"), target, req.Note)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) cancelEmergency(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
			return
		}
	}

	record, err := h.emergencyService.Cancel(c.Request.Context(), principal, c.Param("id"), req.Reason)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) confirmDirect(c *gin.Context) {
	h.confirm(c, h.emergencyService.ConfirmDirect)
}

func (h *Handler) confirmProxy(c *gin.Context) {
	h.confirm(c, h.emergencyService.ConfirmProxy)
}

type confirmFunc func(ctx context.Context, principal model.Principal, id string, gate service.Gate) (*model.Emergency, error)

func (h *Handler) confirm(c *gin.Context, fn confirmFunc) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		Gate string `json:"gate" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	gate, err := service.ParseGate(req.Gate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("gate must be arrival or completion", "invalid_input"))
		return
	}

	record, err := fn(c.Request.Context(), principal, c.Param("id"), gate)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) timeoutAdvance(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	record, err := h.emergencyService.TimeoutAdvance(c.Request.Context(), principal, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) updateUnitLocation(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req geoPointPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	unit, err := h.unitService.UpdateLocation(c.Request.Context(), principal, req.point())
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(unit))
}

func (h *Handler) getUnit(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	id, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid unit id", "invalid_input"))
		return
	}

	unit, err := h.unitService.GetUnit(c.Request.Context(), principal, id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(unit))
}

func (h *Handler) upsertFacility(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	var req struct {
		Name    string   `json:"name" binding:"required"`
		Address string   `json:"address"`
		Phone   string   `json:"phone"`
		Lat     *float64 `json:"lat"`
		Lng     *float64 `json:"lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
		return
	}

	facility, err := h.facilityService.Upsert(c.Request.Context(), principal, service.FacilityProfileInput{
		Name:    req.Name,
		Address: req.Address,
		Phone:   req.Phone,
		Lat:     req.Lat,
		Lng:     req.Lng,
	})
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(facility))
}

func (h *Handler) reconcile(c *gin.Context) {
	principal, ok := middleware.MustPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errorResponse("principal missing", "unauthorized"))
		return
	}

	report, err := h.reconciler.Run(c.Request.Context(), principal)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(report))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, errorResponse(err.Error(), "forbidden"))
	case errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error(), "invalid_input"))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error(), "not_found"))
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "invalid_transition"))
	case errors.Is(err, service.ErrWrongState):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "wrong_state"))
	case errors.Is(err, service.ErrAlreadyAssigned):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "already_assigned"))
	case errors.Is(err, service.ErrUnitBusy):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "unit_busy"))
	case errors.Is(err, service.ErrConflict):
		c.JSON(http.StatusConflict, errorResponse(err.Error(), "conflict"))
	case errors.Is(err, service.ErrTimeoutNotReached):
		c.JSON(http.StatusTooEarly, errorResponse(err.Error(), "timeout_not_reached"))
	case errors.Is(err, service.ErrStoreUnavailable):
		h.log.Error().Err(err).Msg("store unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("store unavailable", "store_unavailable"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error", "internal"))
	}
}

func (h *Handler) listPayload(records []model.Emergency) gin.H {
	return gin.H{
		"items":            records,
		"poll_interval_ms": h.pollInterval.Milliseconds(),
	}
}

func parseOptionalUUID(raw string) (*uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

type responseEnvelope struct {
	Data interface{} `json:"data"`
}

func successResponse(data interface{}) responseEnvelope {
	return responseEnvelope{Data: data}
}

func errorResponse(msg, code string) gin.H {
	return gin.H{"error": msg, "code": code}
}
