package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mnuddindev/disasterlink/internal/auth"
	storage "github.com/mnuddindev/disasterlink/internal/db"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/community"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// Handler carries what the v1 endpoints need.
type Handler struct {
	DB        *gorm.DB
	Redis     *storage.RedisClient
	Logger    *logger.Logger
	Auth      auth.Options
	Intake    *intake.Validator
	Incidents *incident.Service
	Community *community.Service
	Inbox     *notify.Store
	Verifier  *verify.Client
	Validator *utils.Validator
}

// NewHandler fills the defaults a handler cannot run without.
func NewHandler(h Handler) *Handler {
	if h.Validator == nil {
		h.Validator = utils.NewValidator()
	}
	if h.Intake == nil {
		h.Intake = intake.NewValidator(intake.WithLogger(h.Logger))
	}
	return &h
}

// Mount registers every v1 route under r.
func (h *Handler) Mount(r fiber.Router) {
	opt := h.Auth
	authed := auth.RequireAuth(opt)
	optional := auth.OptionalAuth(opt)
	perm := func(obj, act string) fiber.Handler { return auth.CheckPerm(opt, obj, act) }

	a := r.Group("/auth")
	a.Post("/register", h.Register)
	a.Post("/login", h.Login)
	a.Post("/refresh", h.Refresh)
	a.Post("/logout", authed, h.Logout)
	a.Get("/me", authed, h.Me)
	r.Patch("/users/:id/role", authed, perm(auth.ResUser, auth.ActAssign), h.UpdateRole)

	inc := r.Group("/incidents")
	inc.Get("/public", h.ListPublicIncidents)
	inc.Get("/stats", authed, perm(auth.ResIncident, auth.ActTriage), h.IncidentStats)
	inc.Post("/", authed, perm(auth.ResIncident, auth.ActCreate), h.CreateIncident)
	inc.Get("/", authed, perm(auth.ResIncident, auth.ActRead), h.ListIncidents)
	inc.Get("/:id", authed, perm(auth.ResIncident, auth.ActRead), h.GetIncident)
	inc.Patch("/:id", authed, perm(auth.ResIncident, auth.ActUpdate), h.UpdateIncident)
	inc.Delete("/:id", authed, perm(auth.ResIncident, auth.ActDelete), h.DeleteIncident)
	inc.Post("/:id/status", authed, perm(auth.ResIncident, auth.ActTriage), h.TransitionIncident)
	inc.Post("/:id/verification", authed, perm(auth.ResIncident, auth.ActTriage), h.AttachVerification)
	inc.Patch("/:id/staff", authed, perm(auth.ResIncident, auth.ActTriage), h.StaffUpdateIncident)

	sos := r.Group("/sos")
	sos.Get("/queue", authed, perm(auth.ResSOS, auth.ActTriage), h.ActiveQueue)
	sos.Get("/stats", authed, perm(auth.ResSOS, auth.ActTriage), h.SOSStats)
	sos.Post("/", authed, perm(auth.ResSOS, auth.ActCreate), h.CreateSOS)
	sos.Get("/", authed, perm(auth.ResSOS, auth.ActRead), h.ListSOS)
	sos.Get("/:id", authed, perm(auth.ResSOS, auth.ActRead), h.GetSOS)
	sos.Post("/:id/cancel", authed, perm(auth.ResSOS, auth.ActCancel), h.CancelSOS)
	sos.Post("/:id/acknowledge", authed, perm(auth.ResSOS, auth.ActTriage), h.AcknowledgeSOS)
	sos.Post("/:id/respond", authed, perm(auth.ResSOS, auth.ActTriage), h.RespondSOS)
	sos.Post("/:id/resolve", authed, perm(auth.ResSOS, auth.ActTriage), h.ResolveSOS)

	com := r.Group("/communities")
	com.Post("/", authed, perm(auth.ResCommunity, auth.ActCreate), h.CreateCommunity)
	com.Get("/", optional, h.ListCommunities)
	com.Get("/:slug", optional, h.GetCommunity)
	com.Post("/:id/moderators", authed, h.AddModerator)
	com.Post("/:id/posts", authed, perm(auth.ResPost, auth.ActCreate), h.CreatePost)

	r.Get("/community/search", optional, h.SearchCommunity)
	r.Get("/feed", optional, h.Feed)
	posts := r.Group("/posts")
	posts.Post("/", authed, perm(auth.ResPost, auth.ActCreate), h.CreatePost)
	posts.Get("/:id", optional, h.GetPost)
	posts.Delete("/:id", authed, perm(auth.ResPost, auth.ActDelete), h.DeletePost)
	posts.Post("/:id/react", authed, perm(auth.ResPost, auth.ActReact), h.React)
	posts.Get("/:id/reactions", optional, h.ReactionCounts)
	posts.Post("/:id/comments", authed, perm(auth.ResComment, auth.ActCreate), h.AddComment)
	posts.Get("/:id/comments", optional, h.ListComments)
	posts.Post("/:id/moderate", authed, h.ModeratePost)
	posts.Post("/:id/pin", authed, h.PinPost)
	posts.Get("/:id/counters", authed, perm(auth.ResPost, auth.ActAudit), h.CheckCounters)
	posts.Post("/:id/counters", authed, perm(auth.ResPost, auth.ActAudit), h.RepairCounters)

	comments := r.Group("/comments")
	comments.Patch("/:id", authed, h.EditComment)
	comments.Delete("/:id", authed, perm(auth.ResComment, auth.ActDelete), h.DeleteComment)
	comments.Post("/:id/moderate", authed, h.ModerateComment)

	n := r.Group("/notifications", authed)
	n.Get("/", perm(auth.ResNotification, auth.ActRead), h.ListNotifications)
	n.Get("/unread", perm(auth.ResNotification, auth.ActRead), h.UnreadCount)
	n.Post("/read-all", perm(auth.ResNotification, auth.ActUpdate), h.MarkAllRead)
	n.Post("/:id/read", perm(auth.ResNotification, auth.ActUpdate), h.MarkRead)
	n.Delete("/:id", perm(auth.ResNotification, auth.ActDelete), h.DeleteNotification)
}
