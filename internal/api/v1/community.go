package v1

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/community"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

func (h *Handler) CreateCommunity(c *fiber.Ctx) error {
	var in community.CommunityInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	com, err := h.Community.CreateCommunity(c.UserContext(), actor(c), in)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithMessage("Community created").WithData(com).Send()
}

func (h *Handler) ListCommunities(c *fiber.Ctx) error {
	pg, limit := utils.Pagination(c)
	f := community.CommunityFilter{Type: c.Query("type"), Barangay: c.Query("barangay"), Page: pg, Limit: limit}
	items, total, err := h.Community.ListCommunities(c.UserContext(), actor(c), f)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, pg, limit))
}

func (h *Handler) GetCommunity(c *fiber.Ctx) error {
	com, err := h.Community.GetCommunity(c.UserContext(), actor(c), c.Params("slug"))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, com)
}

func (h *Handler) AddModerator(c *fiber.Ctx) error {
	type ModeratorInput struct {
		UserID string `json:"user_id" validate:"required,uuid"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in ModeratorInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	com, err := h.Community.AddModerator(c.UserContext(), actor(c), id, uuid.MustParse(in.UserID))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, com)
}

// CreatePost accepts JSON, or multipart/form-data when images are attached.
// Posting under /communities/:id targets that community; /posts creates a general post.
func (h *Handler) CreatePost(c *fiber.Ctx) error {
	var communityID *uuid.UUID
	if c.Params("id") != "" {
		id, err := paramID(c, "id")
		if err != nil {
			return utils.SendError(c, err)
		}
		communityID = &id
	}

	var in community.PostInput
	if isMultipart(c) {
		var err error
		if in, err = postFromForm(c); err != nil {
			return utils.SendError(c, err)
		}
	} else if err := utils.StrictBodyParser(c, &in); err != nil {
		return utils.SendError(c, utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error()))
	}

	p, err := h.Community.CreatePost(c.UserContext(), actor(c), communityID, in)
	if err != nil {
		return utils.SendError(c, err)
	}
	msg := "Post published"
	if p.Status == community.PostPending {
		msg = "Post submitted for approval"
	}
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithMessage(msg).WithData(p).Send()
}

func postFromForm(c *fiber.Ctx) (community.PostInput, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return community.PostInput{}, utils.NewError(fiber.StatusBadRequest, "Invalid multipart form", err.Error())
	}
	in := community.PostInput{
		Content:         c.FormValue("content"),
		PostType:        c.FormValue("post_type"),
		LinkURL:         c.FormValue("link_url"),
		LinkTitle:       c.FormValue("link_title"),
		LinkDescription: c.FormValue("link_description"),
		LocationName:    c.FormValue("location_name"),
	}
	in.IsAnnouncement, _ = strconv.ParseBool(c.FormValue("is_announcement"))
	if v, err := strconv.ParseBool(c.FormValue("allow_comments")); err == nil {
		in.AllowComments = &v
	}
	if v, err := strconv.ParseBool(c.FormValue("is_public")); err == nil {
		in.IsPublic = &v
	}
	if v, err := strconv.ParseFloat(c.FormValue("latitude"), 64); err == nil {
		in.Latitude = &v
	}
	if v, err := strconv.ParseFloat(c.FormValue("longitude"), 64); err == nil {
		in.Longitude = &v
	}
	if in.Images, err = readFiles(form.File["images"]); err != nil {
		return in, err
	}
	return in, nil
}

func (h *Handler) Feed(c *fiber.Ctx) error {
	pg, limit := utils.Pagination(c)
	f := community.FeedFilter{PostType: c.Query("post_type"), Page: pg, Limit: limit}
	if raw := c.Query("community_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return utils.SendError(c, utils.NewError(fiber.StatusBadRequest, "Invalid community_id", raw))
		}
		f.CommunityID = &id
	}
	items, total, err := h.Community.Feed(c.UserContext(), actor(c), f)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, page(items, total, pg, limit))
}

// GetPost returns a visible post and counts the view.
func (h *Handler) GetPost(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	p, err := h.Community.GetPost(ctx, actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	if err := h.Community.RecordView(ctx, id); err != nil {
		h.Logger.Warn(ctx).WithError(err).WithMeta(utils.Map{"post_id": id.String()}).Logs("Failed to record post view")
	}
	return utils.SendSuccess(c, p)
}

func (h *Handler) DeletePost(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	if err := h.Community.DeletePost(c.UserContext(), actor(c), id); err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithMessage("Post deleted").Send()
}

func (h *Handler) ModeratePost(c *fiber.Ctx) error {
	type ModerationInput struct {
		Action string `json:"action" validate:"required,oneof=approve hide restore delete"`
		Notes  string `json:"notes" validate:"max=2000"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in ModerationInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	p, err := h.Community.ModeratePost(c.UserContext(), actor(c), id, community.ModerationAction(in.Action), in.Notes)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, p)
}

func (h *Handler) PinPost(c *fiber.Ctx) error {
	type PinInput struct {
		Pinned bool `json:"pinned"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	in := PinInput{Pinned: true}
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	p, err := h.Community.SetPinned(c.UserContext(), actor(c), id, in.Pinned)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, p)
}

// React toggles the caller's reaction; sending the current type again removes it.
func (h *Handler) React(c *fiber.Ctx) error {
	type ReactInput struct {
		Type string `json:"type" validate:"required"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in ReactInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	res, err := h.Community.React(c.UserContext(), actor(c), id, community.ReactionType(in.Type))
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, res)
}

func (h *Handler) ReactionCounts(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	counts, err := h.Community.ReactionCounts(ctx, actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	data := fiber.Map{"counts": counts}
	if a := actor(c); a.ID != uuid.Nil {
		mine, err := h.Community.UserReaction(ctx, a, id)
		if err != nil {
			return utils.SendError(c, err)
		}
		data["mine"] = mine
	}
	return utils.SendSuccess(c, data)
}

func (h *Handler) AddComment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in community.CommentInput
	if err := utils.StrictBodyParser(c, &in); err != nil {
		return utils.SendError(c, utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error()))
	}
	cm, err := h.Community.AddComment(c.UserContext(), actor(c), id, in)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithStatus(fiber.StatusCreated).WithData(cm).Send()
}

func (h *Handler) ListComments(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	comments, err := h.Community.ListComments(c.UserContext(), actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, comments)
}

func (h *Handler) EditComment(c *fiber.Ctx) error {
	type EditInput struct {
		Content string `json:"content"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in EditInput
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	cm, err := h.Community.EditComment(c.UserContext(), actor(c), id, in.Content)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, cm)
}

func (h *Handler) DeleteComment(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	if err := h.Community.DeleteComment(c.UserContext(), actor(c), id); err != nil {
		return utils.SendError(c, err)
	}
	return utils.Success(c).WithMessage("Comment deleted").Send()
}

func (h *Handler) ModerateComment(c *fiber.Ctx) error {
	type CommentModeration struct {
		Hide   bool   `json:"hide"`
		Reason string `json:"reason" validate:"max=500"`
	}
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	var in CommentModeration
	if err := h.bind(c, &in); err != nil {
		return utils.SendError(c, err)
	}
	cm, err := h.Community.ModerateComment(c.UserContext(), actor(c), id, in.Hide, in.Reason)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, cm)
}

func (h *Handler) CheckCounters(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	rep, err := h.Community.CheckCounters(c.UserContext(), actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, rep)
}

func (h *Handler) RepairCounters(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return utils.SendError(c, err)
	}
	rep, err := h.Community.RepairCounters(c.UserContext(), actor(c), id)
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, rep)
}

// SearchCommunity finds posts by content or author and people by name, username or email.
func (h *Handler) SearchCommunity(c *fiber.Ctx) error {
	pg, limit := utils.Pagination(c)
	res, err := h.Community.Search(c.UserContext(), actor(c), community.SearchFilter{Query: c.Query("q"), Page: pg, Limit: limit})
	if err != nil {
		return utils.SendError(c, err)
	}
	return utils.SendSuccess(c, res)
}
