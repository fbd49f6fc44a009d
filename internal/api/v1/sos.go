package v1

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// CreateSOS accepts an emergency request. A missing location never blocks it.
func (h *Handler) CreateSOS(c *fiber.Ctx) error {
	ctx := c.UserContext()
	p, err := h.readPayload(c)
	if err != nil {
		return utils.SendError(c, err)
	}
	sub, err := h.Intake.Validate(ctx, intake.KindSOS, p)
	if err != nil {
		return utils.SendError(c, err)
	}
	sos, err := h.Incidents.CreateSOS(ctx, actor(c), sub)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithMessage("SOS sent, responders have been alerted").WithData(sos).Send()
}

func (h *Handler) ListSOS(c *fiber.Ctx) error {
	pg, limit := utils.Pagination(c)
	f := incident.SOSFilter{
		Status:       incident.SOSStatus(c.Query("status")),
		Severity:     incident.Severity(c.Query("severity")),
		Type:         c.Query("type"),
		Near:         geoQuery(c, incident.SOSRadiusKm),
		IncludeTests: c.QueryBool("include_tests"),
		Page:         pg,
		Limit:        limit,
	}
	items, total, err := h.Incidents.ListSOS(c.UserContext(), actor(c), f)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, pg, limit))
}

func (h *Handler) ActiveQueue(c *fiber.Ctx) error {
	items, err := h.Incidents.ActiveQueue(c.UserContext(), actor(c))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, items)
}

func (h *Handler) GetSOS(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	sos, err := h.Incidents.GetSOS(c.UserContext(), actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, sos)
}

func (h *Handler) SOSStats(c *fiber.Ctx) error {
	stats, err := h.Incidents.SOSStatistics(c.UserContext(), actor(c))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, stats)
}

type sosStep func(ctx context.Context, a user.Actor, id uuid.UUID, notes string) (*incident.SOSRequest, error)

// sosAction runs one lifecycle step with optional {"notes": "..."} in the body.
func (h *Handler) sosAction(c *fiber.Ctx, step sosStep) error {
	type NotesInput struct {
		Notes string `json:"notes" validate:"max=5000"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in NotesInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	sos, err := step(c.UserContext(), actor(c), id, in.Notes)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, sos)
}

func (h *Handler) AcknowledgeSOS(c *fiber.Ctx) error {
	return h.sosAction(c, h.Incidents.AcknowledgeSOS)
}

func (h *Handler) RespondSOS(c *fiber.Ctx) error {
	return h.sosAction(c, h.Incidents.RespondSOS)
}

func (h *Handler) ResolveSOS(c *fiber.Ctx) error {
	return h.sosAction(c, h.Incidents.ResolveSOS)
}

func (h *Handler) CancelSOS(c *fiber.Ctx) error {
	return h.sosAction(c, func(ctx context.Context, a user.Actor, id uuid.UUID, _ string) (*incident.SOSRequest, error) {
		return h.Incidents.CancelSOS(ctx, a, id)
	})
}
