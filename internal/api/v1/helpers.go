package v1

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/auth"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// actor is the caller, or the zero actor on anonymous routes.
func actor(c *fiber.Ctx) user.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, utils.NewError(fiber.StatusBadRequest, "Invalid id", c.Params(name))
	}
	return id, nil
}

// bind decodes a strict JSON body into out and validates it. An empty body leaves out untouched.
func (h *Handler) bind(c *fiber.Ctx, out interface{}) error {
	if len(c.Body()) > 0 {
		if err := utils.StrictBodyParser(c, out); err != nil {
			h.Logger.Warn(c.UserContext()).WithError(err).Logs("Failed to parse request body")
			return utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error())
		}
	}
	if resp := h.Validator.Validate(out); resp != nil {
		return utils.ValidationFailed(resp.Errors)
	}
	return nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm)
}

// readPayload decodes an incident or SOS submission from JSON or multipart/form-data
// and stamps the request context into its metadata.
func (h *Handler) readPayload(c *fiber.Ctx) (intake.Payload, error) {
	var p intake.Payload
	if isMultipart(c) {
		form, err := c.MultipartForm()
		if err != nil {
			return p, utils.NewError(fiber.StatusBadRequest, "Invalid multipart form", err.Error())
		}
		if p, err = payloadFromForm(form); err != nil {
			return p, err
		}
	} else if len(c.Body()) > 0 {
		if err := utils.StrictBodyParser(c, &p); err != nil {
			return p, utils.NewError(fiber.StatusBadRequest, "Invalid request format", err.Error())
		}
	}

	if p.Metadata == nil {
		p.Metadata = intake.Metadata{}
	}
	p.Metadata[intake.MetaClientIP] = c.IP()
	if ua := c.Get(fiber.HeaderUserAgent); ua != "" {
		p.Metadata[intake.MetaUserAgent] = clip(ua, 255)
	}
	if p.Metadata[intake.MetaSource] == "" {
		p.Metadata[intake.MetaSource] = "api"
	}
	return p, nil
}

func payloadFromForm(form *multipart.Form) (intake.Payload, error) {
	val := func(k string) string {
		if v := form.Value[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	p := intake.Payload{
		Type:             val("type"),
		Title:            val("title"),
		Description:      val("description"),
		Message:          val("message"),
		Severity:         val("severity"),
		LocationAddress:  val("location_address"),
		NearestLandmark:  val("nearest_landmark"),
		ContactNumber:    val("contact_number"),
		AlternateContact: val("alternate_contact"),
	}

	var violations []utils.CError
	for _, f := range []struct {
		name string
		dst  **float64
	}{{"latitude", &p.Latitude}, {"longitude", &p.Longitude}} {
		raw := val(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			violations = append(violations, utils.CError{Field: f.name, Msg: f.name + " must be a number"})
			continue
		}
		*f.dst = &v
	}
	if raw := val("people_affected"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			violations = append(violations, utils.CError{Field: "people_affected", Msg: "people_affected must be a whole number"})
		}
		p.PeopleAffected = n
	}
	if raw := val("is_test"); raw != "" {
		p.IsTest, _ = strconv.ParseBool(raw)
	}
	for _, m := range []struct {
		name string
		dst  *intake.Metadata
	}{{"metadata", &p.Metadata}, {"device_info", &p.DeviceInfo}} {
		if raw := val(m.name); raw != "" {
			if err := json.Unmarshal([]byte(raw), m.dst); err != nil {
				violations = append(violations, utils.CError{Field: m.name, Msg: m.name + " must be a JSON object of strings"})
			}
		}
	}
	if len(violations) > 0 {
		return p, utils.ValidationFailed(violations)
	}

	images, err := readFiles(form.File["images"])
	if err != nil {
		return p, err
	}
	p.Images = images
	if audio := form.File["audio"]; len(audio) > 0 {
		files, err := readFiles(audio[:1])
		if err != nil {
			return p, err
		}
		p.Audio = &files[0]
	}
	return p, nil
}

// readFiles loads uploads into memory. The intake validator enforces the size limits.
func readFiles(headers []*multipart.FileHeader) ([]intake.Attachment, error) {
	out := make([]intake.Attachment, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, utils.NewError(fiber.StatusBadRequest, "Failed to read upload", err.Error())
		}
		content, err := io.ReadAll(io.LimitReader(f, intake.DefaultMaxAudioBytes+1))
		f.Close()
		if err != nil {
			return nil, utils.NewError(fiber.StatusBadRequest, "Failed to read upload", err.Error())
		}
		out = append(out, intake.Attachment{Filename: fh.Filename, Size: fh.Size, Content: content})
	}
	return out, nil
}

// geoQuery reads ?lat=&lng=&radius_km= into a filter. Both coordinates are needed.
// A missing or non-positive radius falls back to defaultKm.
func geoQuery(c *fiber.Ctx, defaultKm float64) *incident.GeoFilter {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		return nil
	}
	radius, err := strconv.ParseFloat(c.Query("radius_km"), 64)
	if err != nil || radius <= 0 {
		radius = defaultKm
	}
	return &incident.GeoFilter{Latitude: lat, Longitude: lng, RadiusKm: radius}
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// page wraps a paginated listing.
func page(items interface{}, total int64, pg, limit int) fiber.Map {
	return fiber.Map{"items": items, "total": total, "page": pg, "limit": limit}
}
