package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// ListNotifications returns the caller's inbox, newest first. ?unread=true hides read ones.
func (h *Handler) ListNotifications(c *fiber.Ctx) error {
	pg, limit := utils.Pagination(c)
	items, total, err := h.Inbox.List(c.UserContext(), actor(c).ID, c.QueryBool("unread"), pg, limit)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, pg, limit))
}

func (h *Handler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.Inbox.UnreadCount(c.UserContext(), actor(c).ID)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, fiber.Map{"unread": n})
}

func (h *Handler) MarkRead(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	n, err := h.Inbox.MarkRead(c.UserContext(), actor(c).ID, id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, n)
}

func (h *Handler) MarkAllRead(c *fiber.Ctx) error {
	n, err := h.Inbox.MarkAllRead(c.UserContext(), actor(c).ID)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, fiber.Map{"updated": n})
}

func (h *Handler) DeleteNotification(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	if err := h.Inbox.Delete(c.UserContext(), actor(c).ID, id); err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithMessage("Notification deleted").Send()
}
