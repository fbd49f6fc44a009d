package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

func (h *Handler) CreateIncident(c *fiber.Ctx) error {
	ctx := c.UserContext()
	p, err := h.readPayload(c)
	if err != nil {
		return utils.SendError(c, err)
	}
	sub, err := h.Intake.Validate(ctx, intake.KindIncident, p)
	if err != nil {
		return utils.SendError(c, err)
	}
	inc, err := h.Incidents.CreateIncident(ctx, actor(c), sub)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithMessage("Incident reported").WithData(inc).Send()
}

func incidentFilter(c *fiber.Ctx) incident.IncidentFilter {
	pg, limit := utils.Pagination(c)
	return incident.IncidentFilter{
		Status:   incident.Status(c.Query("status")),
		Severity: incident.Severity(c.Query("severity")),
		Type:     c.Query("type"),
		Near:     geoQuery(c, incident.IncidentRadiusKm),
		Page:     pg,
		Limit:    limit,
	}
}

// ListIncidents shows civilians their own reports and staff everything.
func (h *Handler) ListIncidents(c *fiber.Ctx) error {
	f := incidentFilter(c)
	items, total, err := h.Incidents.ListIncidents(c.UserContext(), actor(c), f)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, f.Page, f.Limit))
}

func (h *Handler) ListPublicIncidents(c *fiber.Ctx) error {
	f := incidentFilter(c)
	items, total, err := h.Incidents.ListPublicIncidents(c.UserContext(), f)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, f.Page, f.Limit))
}

func (h *Handler) GetIncident(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	inc, err := h.Incidents.GetIncident(c.UserContext(), actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, inc)
}

// UpdateIncident applies an owner edit.
func (h *Handler) UpdateIncident(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var patch intake.IncidentPatch
	if err := utils.StrictBodyParser(c, &patch); err != nil {
		return utils.SendError(c, utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error()))
	}
	inc, err := h.Incidents.UpdateOwnerFields(c.UserContext(), actor(c), id, patch)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, inc)
}

func (h *Handler) StaffUpdateIncident(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var patch incident.StaffPatch
	if err := h.bind(c, &patch); err != nil {
		return utils.SendError(c, err)
	}
	inc, err := h.Incidents.StaffUpdate(c.UserContext(), actor(c), id, patch)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, inc)
}

func (h *Handler) DeleteIncident(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	if err := h.Incidents.DeleteIncident(c.UserContext(), actor(c), id); err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithMessage("Incident deleted").Send()
}

// TransitionIncident moves an incident along its lifecycle.
func (h *Handler) TransitionIncident(c *fiber.Ctx) error {
	type TransitionInput struct {
		Status string `json:"status" validate:"required,oneof=reported verified investigating resolved"`
		Notes  string `json:"notes" validate:"max=5000"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in TransitionInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	inc, err := h.Incidents.TransitionIncident(c.UserContext(), actor(c), id, incident.Status(in.Status), in.Notes)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, inc)
}

func (h *Handler) AttachVerification(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in incident.VerificationInput
	if err := utils.StrictBodyParser(c, &in); err != nil {
		return utils.SendError(c, utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error()))
	}
	inc, err := h.Incidents.AttachVerification(c.UserContext(), actor(c), id, in)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, inc)
}

func (h *Handler) IncidentStats(c *fiber.Ctx) error {
	stats, err := h.Incidents.Stats(c.UserContext(), actor(c))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, stats)
}
