package http

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/smartcity/trafficcore/internal/domain"
	"github.com/smartcity/trafficcore/internal/service"
)

// Handler contains all HTTP handlers
type Handler struct {
	snapshots *service.SnapshotService
	control   *service.ControlService
}

// NewHandler creates a new handler
func NewHandler(snapshots *service.SnapshotService, control *service.ControlService) *Handler {
	return &Handler{
		snapshots: snapshots,
		control:   control,
	}
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "trafficcore",
		"version": "1.0.0",
	})
}

// GetStatus reports loop, cache and database health
func (h *Handler) GetStatus(c *fiber.Ctx) error {
	status := h.snapshots.Status(c.Context())
	return c.JSON(fiber.Map{
		"success": true,
		"data":    status,
	})
}

// GetSimulationTime returns the time of the last published step
func (h *Handler) GetSimulationTime(c *fiber.Ctx) error {
	t, err := h.snapshots.SimulationTime(c.Context())
	if err != nil {
		return toFiberError(err, "Failed to fetch simulation time")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"simulation_time": t},
	})
}

// GetEdge returns the last published record of one road segment
func (h *Handler) GetEdge(c *fiber.Ctx) error {
	rec, err := h.snapshots.Edge(c.Context(), c.Params("id"))
	if err != nil {
		return toFiberError(err, "Failed to fetch edge data")
	}
	return ok(c, rec)
}

// GetTrafficLight returns the last published record of one controller
func (h *Handler) GetTrafficLight(c *fiber.Ctx) error {
	rec, err := h.snapshots.Signal(c.Context(), c.Params("id"))
	if err != nil {
		return toFiberError(err, "Failed to fetch traffic light data")
	}
	return ok(c, rec)
}

// GetJunctionMetrics returns the directional metrics of one intersection
func (h *Handler) GetJunctionMetrics(c *fiber.Ctx) error {
	rec, err := h.snapshots.Junction(c.Context(), c.Params("id"))
	if err != nil {
		return toFiberError(err, "Failed to fetch junction metrics")
	}
	return ok(c, rec)
}

// GetEmergencyVehicle returns the live telemetry of a tracked emergency vehicle
func (h *Handler) GetEmergencyVehicle(c *fiber.Ctx) error {
	rec, err := h.snapshots.EmergencyVehicle(c.Context(), c.Params("id"))
	if err != nil {
		return toFiberError(err, "Failed to fetch emergency vehicle data")
	}
	return ok(c, rec)
}

// JunctionExists checks the simulation for a junction id
func (h *Handler) JunctionExists(c *fiber.Ctx) error {
	id := c.Params("id")
	exists, err := h.control.JunctionExists(c.Context(), id)
	if err != nil {
		return toFiberError(err, "Failed to check junction")
	}
	return ok(c, fiber.Map{"junction_id": id, "exists": exists})
}

// GetVehicleStatus reads a vehicle live from the simulation
func (h *Handler) GetVehicleStatus(c *fiber.Ctx) error {
	status, err := h.control.VehicleStatus(c.Context(), c.Params("id"))
	if err != nil {
		return toFiberError(err, "Failed to fetch vehicle status")
	}
	return ok(c, status)
}

// GetActiveEvents lists scenario events that have not expired
func (h *Handler) GetActiveEvents(c *fiber.Ctx) error {
	events := h.snapshots.ActiveEvents()
	if events == nil {
		events = []domain.ScenarioEvent{}
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    events,
		"count":   len(events),
	})
}

// GetEventLogs returns the newest audit log entries
func (h *Handler) GetEventLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}

	logs, err := h.snapshots.RecentEvents(c.Context(), limit)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch event logs")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
		"count":   len(logs),
	})
}

// SetDuration changes the remaining duration of a junction's current phase
func (h *Handler) SetDuration(c *fiber.Ctx) error {
	var req domain.DurationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.JunctionID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "junctionId is required")
	}

	if err := h.control.SetDuration(c.Context(), req); err != nil {
		return toFiberError(err, "Failed to set phase duration")
	}
	return ok(c, fiber.Map{"junctionId": req.JunctionID, "duration": req.Duration})
}

// SetStateDuration switches one link of a junction's controller and waits
// for the change to be verified.
func (h *Handler) SetStateDuration(c *fiber.Ctx) error {
	var req domain.StateDurationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.JunctionID == "" || req.State == "" {
		return fiber.NewError(fiber.StatusBadRequest, "junctionId and state are required")
	}

	res, err := h.control.SetStateDuration(c.Context(), req)
	if err != nil {
		log.Printf("[HTTP] set_state_duration for %s failed: %v", req.JunctionID, err)
		if res.Status != "" {
			return c.Status(statusFor(err)).JSON(fiber.Map{
				"success": false,
				"data":    res,
			})
		}
		return toFiberError(err, "Failed to set traffic light state")
	}
	return ok(c, res)
}

// TriggerEvent starts a scenario event or injects an emergency vehicle
func (h *Handler) TriggerEvent(c *fiber.Ctx) error {
	var cmd domain.EventCommand
	if err := c.BodyParser(&cmd); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	res, err := h.control.TriggerEvent(c.Context(), cmd)
	if err != nil {
		return toFiberError(err, "Failed to trigger event")
	}
	return c.JSON(fiber.Map{
		"success": res.Success,
		"data":    res,
	})
}

func ok(c *fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrIndexOutOfBounds):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSnapshotUnavailable):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrTaskInFlight):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrVerificationFailed):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrVerificationTimeout):
		return fiber.StatusGatewayTimeout
	case errors.Is(err, domain.ErrStepperFault):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// toFiberError keeps client errors' messages and hides internal ones behind fallback
func toFiberError(err error, fallback string) error {
	code := statusFor(err)
	if code == fiber.StatusInternalServerError {
		log.Printf("[HTTP] %s: %v", fallback, err)
		return fiber.NewError(code, fallback)
	}
	return fiber.NewError(code, err.Error())
}

// ErrorHandler renders every error as {"error": true, "message": ...}
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
