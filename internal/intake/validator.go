package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

const (
	DefaultMaxImageBytes int64 = 5 * 1024 * 1024
	DefaultMaxAudioBytes int64 = 10 * 1024 * 1024
	maxIncidentImages          = 10
	maxSOSImages               = 1
	maxMetadataKeys            = 32
	maxMetadataValue           = 500
)

var imageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

type incidentRules struct {
	Type            string   `json:"type" validate:"required,oneof=fire flood earthquake accident medical other"`
	Title           string   `json:"title" validate:"max=255"`
	Description     string   `json:"description" validate:"required,max=2000"`
	Severity        string   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Latitude        *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	LocationAddress string   `json:"location_address" validate:"max=255"`
}

type sosRules struct {
	Type             string   `json:"type" validate:"required,oneof=fire flood earthquake accident medical other"`
	Message          string   `json:"message" validate:"required,max=1000"`
	Severity         string   `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	Latitude         *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude        *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	LocationAddress  string   `json:"location_address" validate:"max=255"`
	NearestLandmark  string   `json:"nearest_landmark" validate:"max=255"`
	ContactNumber    string   `json:"contact_number" validate:"omitempty,phone"`
	AlternateContact string   `json:"alternate_contact" validate:"omitempty,phone"`
	PeopleAffected   int      `json:"people_affected" validate:"gte=0,lte=100000"`
}

// Validator checks submissions. It has no side effects besides logging.
type Validator struct {
	rules         *utils.Validator
	maxImageBytes int64
	maxAudioBytes int64
	log           *logger.Logger
}

// Option configures a Validator.
type Option func(*Validator)

func WithMaxImageBytes(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxImageBytes = n
		}
	}
}

func WithMaxAudioBytes(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxAudioBytes = n
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// NewValidator returns a Validator with the default 5 MB image ceiling.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{
		rules:         utils.NewValidator(),
		maxImageBytes: DefaultMaxImageBytes,
		maxAudioBytes: DefaultMaxAudioBytes,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns a Submission, or a validation error listing every violated field.
func (v *Validator) Validate(ctx context.Context, kind Kind, p Payload) (*Submission, error) {
	p = normalize(p)

	var violations []utils.CError
	switch kind {
	case KindIncident:
		violations = v.check(incidentRules{
			Type:            p.Type,
			Title:           p.Title,
			Description:     p.Description,
			Severity:        p.Severity,
			Latitude:        p.Latitude,
			Longitude:       p.Longitude,
			LocationAddress: p.LocationAddress,
		})
		violations = append(violations, v.checkImages(p.Images, maxIncidentImages)...)
		if p.Audio != nil {
			violations = append(violations, utils.CError{Field: "audio", Msg: "audio is only accepted on SOS requests"})
		}
	case KindSOS:
		violations = v.check(sosRules{
			Type:             p.Type,
			Message:          p.Message,
			Severity:         p.Severity,
			Latitude:         p.Latitude,
			Longitude:        p.Longitude,
			LocationAddress:  p.LocationAddress,
			NearestLandmark:  p.NearestLandmark,
			ContactNumber:    p.ContactNumber,
			AlternateContact: p.AlternateContact,
			PeopleAffected:   p.PeopleAffected,
		})
		violations = append(violations, v.checkImages(p.Images, maxSOSImages)...)
		violations = append(violations, v.checkAudio(p.Audio)...)
	default:
		return nil, utils.ValidationFailed([]utils.CError{{Field: "kind", Msg: fmt.Sprintf("unknown submission kind %q", kind)}})
	}

	violations = append(violations, checkCoordinatePair(p.Latitude, p.Longitude)...)
	violations = append(violations, checkMetadata("metadata", p.Metadata)...)
	violations = append(violations, checkMetadata("device_info", p.DeviceInfo)...)

	if len(violations) > 0 {
		v.log.Warn(ctx).WithMeta(utils.Map{"kind": string(kind), "violations": fmt.Sprintf("%d", len(violations))}).Logs("Submission rejected")
		return nil, utils.ValidationFailed(violations)
	}

	s := &Submission{
		Kind:             kind,
		Type:             p.Type,
		Title:            p.Title,
		Severity:         p.Severity,
		Latitude:         p.Latitude,
		Longitude:        p.Longitude,
		LocationAddress:  p.LocationAddress,
		NearestLandmark:  p.NearestLandmark,
		ContactNumber:    p.ContactNumber,
		AlternateContact: p.AlternateContact,
		PeopleAffected:   p.PeopleAffected,
		Metadata:         p.Metadata.Clone(),
		DeviceInfo:       p.DeviceInfo.Clone(),
		IsTest:           p.IsTest,
		Images:           p.Images,
		Audio:            p.Audio,
	}
	if kind == KindIncident {
		s.Text = p.Description
	} else {
		s.Text = p.Message
		if s.PeopleAffected == 0 {
			s.PeopleAffected = 1
		}
	}

	if p.Latitude == nil {
		s.LocationUnknown = true
		s.Metadata[MetaLocationStatus] = "unknown"
		if kind == KindSOS {
			v.log.Warn(ctx).WithMeta(utils.Map{"type": p.Type}).Logs("SOS submitted without location")
		}
	} else {
		s.Metadata[MetaLocationStatus] = "provided"
	}

	return s, nil
}

// ValidateIncidentPatch checks an owner edit with the same bounds as creation.
func (v *Validator) ValidateIncidentPatch(p IncidentPatch) error {
	var violations []utils.CError
	if resp := v.rules.Validate(p); resp != nil {
		violations = append(violations, resp.Errors...)
	}
	if p.Description != nil && strings.TrimSpace(*p.Description) == "" {
		violations = append(violations, utils.CError{Field: "description", Msg: "description is required"})
	}
	violations = append(violations, checkCoordinatePair(p.Latitude, p.Longitude)...)
	if len(violations) > 0 {
		return utils.ValidationFailed(violations)
	}
	return nil
}

// ValidateImages applies the attachment rules to images outside an incident or SOS payload.
func (v *Validator) ValidateImages(images []Attachment, limit int) error {
	if violations := v.checkImages(images, limit); len(violations) > 0 {
		return utils.ValidationFailed(violations)
	}
	return nil
}

func (v *Validator) check(rules interface{}) []utils.CError {
	if resp := v.rules.Validate(rules); resp != nil {
		return resp.Errors
	}
	return nil
}

func (v *Validator) checkImages(images []Attachment, limit int) []utils.CError {
	var violations []utils.CError
	if len(images) > limit {
		violations = append(violations, utils.CError{Field: "images", Msg: fmt.Sprintf("images must contain at most %d files", limit)})
	}
	for i := range images {
		field := fmt.Sprintf("images[%d]", i)
		if size := attachmentSize(images[i]); size == 0 {
			violations = append(violations, utils.CError{Field: field, Msg: field + " is empty"})
			continue
		} else if size > v.maxImageBytes {
			violations = append(violations, utils.CError{Field: field, Msg: fmt.Sprintf("%s exceeds the %d byte limit", field, v.maxImageBytes)})
			continue
		}
		m := mimetype.Detect(images[i].Content)
		if !isOneOf(m, imageTypes) {
			violations = append(violations, utils.CError{Field: field, Msg: fmt.Sprintf("%s must be a jpeg, png, gif or webp image, got %s", field, m.String())})
			continue
		}
		images[i].MIME = m.String()
	}
	return violations
}

func (v *Validator) checkAudio(a *Attachment) []utils.CError {
	if a == nil {
		return nil
	}
	size := attachmentSize(*a)
	switch {
	case size == 0:
		return []utils.CError{{Field: "audio", Msg: "audio is empty"}}
	case size > v.maxAudioBytes:
		return []utils.CError{{Field: "audio", Msg: fmt.Sprintf("audio exceeds the %d byte limit", v.maxAudioBytes)}}
	}
	m := mimetype.Detect(a.Content)
	// browsers record voice notes as webm
	if !strings.HasPrefix(m.String(), "audio/") && !m.Is("video/webm") {
		return []utils.CError{{Field: "audio", Msg: fmt.Sprintf("audio must be an audio recording, got %s", m.String())}}
	}
	a.MIME = m.String()
	return nil
}

func checkCoordinatePair(lat, lng *float64) []utils.CError {
	switch {
	case lat != nil && lng == nil:
		return []utils.CError{{Field: "longitude", Msg: "longitude is required when latitude is present"}}
	case lat == nil && lng != nil:
		return []utils.CError{{Field: "latitude", Msg: "latitude is required when longitude is present"}}
	}
	return nil
}

func checkMetadata(field string, m Metadata) []utils.CError {
	if len(m) > maxMetadataKeys {
		return []utils.CError{{Field: field, Msg: fmt.Sprintf("%s must have at most %d keys", field, maxMetadataKeys)}}
	}
	var violations []utils.CError
	for k, val := range m {
		if len(val) > maxMetadataValue {
			violations = append(violations, utils.CError{Field: field + "." + k, Msg: fmt.Sprintf("%s.%s must be at most %d characters long", field, k, maxMetadataValue)})
		}
	}
	return violations
}

func attachmentSize(a Attachment) int64 {
	if n := int64(len(a.Content)); n > a.Size {
		return n
	}
	return a.Size
}

func isOneOf(m *mimetype.MIME, types []string) bool {
	for _, t := range types {
		if m.Is(t) {
			return true
		}
	}
	return false
}

func normalize(p Payload) Payload {
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	p.Title = strings.TrimSpace(p.Title)
	p.Description = strings.TrimSpace(p.Description)
	p.Message = strings.TrimSpace(p.Message)
	p.Severity = strings.ToLower(strings.TrimSpace(p.Severity))
	p.LocationAddress = strings.TrimSpace(p.LocationAddress)
	p.NearestLandmark = strings.TrimSpace(p.NearestLandmark)
	p.ContactNumber = strings.TrimSpace(p.ContactNumber)
	p.AlternateContact = strings.TrimSpace(p.AlternateContact)
	return p
}
