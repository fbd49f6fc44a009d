// Package incident owns incident reports and SOS requests and the state machines that move them.
package incident

import (
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/verify"
	"gorm.io/gorm"
)

// Status of an incident report.
type Status string

const (
	StatusReported      Status = "reported"
	StatusVerified      Status = "verified"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"
)

// Valid reports whether s is a known incident status.
func (s Status) Valid() bool {
	switch s {
	case StatusReported, StatusVerified, StatusInvestigating, StatusResolved:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool { return s == StatusResolved }

// SOSStatus of an SOS request.
type SOSStatus string

const (
	SOSActive     SOSStatus = "active"
	SOSResponding SOSStatus = "responding"
	SOSResolved   SOSStatus = "resolved"
	SOSCancelled  SOSStatus = "cancelled"
)

// Terminal reports whether no transition leaves s.
func (s SOSStatus) Terminal() bool { return s == SOSResolved || s == SOSCancelled }

// Severity shared by incidents and SOS requests.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities, low = 1.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Incident is a civilian report of a disaster situation.
type Incident struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_incidents_status_created,priority:2" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Title       string   `gorm:"size:255" json:"title"`
	Description string   `gorm:"type:text;not null" json:"description"`
	Type        string   `gorm:"size:30;not null;index:idx_incidents_type_severity" json:"type"`
	Severity    Severity `gorm:"size:10;not null;index:idx_incidents_type_severity" json:"severity"`
	Status      Status   `gorm:"size:20;not null;index:idx_incidents_status_created,priority:1" json:"status"`

	Latitude        *float64        `gorm:"index:idx_incidents_location" json:"latitude"`
	Longitude       *float64        `gorm:"index:idx_incidents_location" json:"longitude"`
	LocationAddress string          `gorm:"size:255" json:"location_address"`
	Images          []string        `gorm:"serializer:json" json:"images"`
	Metadata        intake.Metadata `gorm:"serializer:json" json:"metadata"`

	IsVerified          bool       `gorm:"not null;default:false" json:"is_verified"`
	VerificationScore   *float64   `json:"verification_score"`
	VerificationDetails string     `gorm:"type:text" json:"verification_details"`
	VerifiedAt          *time.Time `json:"verified_at"`
	VerifiedBy          *uuid.UUID `gorm:"type:uuid" json:"verified_by"`

	RespondedAt   *time.Time `json:"responded_at"`
	RespondedBy   *uuid.UUID `gorm:"type:uuid" json:"responded_by"`
	ResponseNotes string     `gorm:"type:text" json:"response_notes"`
	ResolvedAt    *time.Time `json:"resolved_at"`

	IsPublic bool `gorm:"not null" json:"is_public"`

	VerificationLabel string `gorm:"-" json:"verification_label"`
	ImageAuthentic    bool   `gorm:"-" json:"image_authentic"`
}

func (Incident) TableName() string { return "incidents" }

func (i *Incident) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// AfterFind fills the derived verification fields.
func (i *Incident) AfterFind(tx *gorm.DB) error {
	i.derive()
	return nil
}

func (i *Incident) derive() {
	i.VerificationLabel = verify.Label(i.VerificationScore)
	i.ImageAuthentic = i.IsVerified && i.VerificationScore != nil && verify.IsAuthentic(*i.VerificationScore)
	if i.Images == nil {
		i.Images = []string{}
	}
}

// SOSRequest is an emergency alert implying immediate danger.
type SOSRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index:idx_sos_user_status,priority:1" json:"user_id"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_sos_queue,priority:3" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	EmergencyType string    `gorm:"size:30;not null" json:"emergency_type"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	Severity      Severity  `gorm:"size:10;not null;index:idx_sos_queue,priority:2" json:"severity"`
	Status        SOSStatus `gorm:"size:20;not null;index:idx_sos_queue,priority:1;index:idx_sos_user_status,priority:2" json:"status"`

	Latitude         *float64 `gorm:"index:idx_sos_location" json:"latitude"`
	Longitude        *float64 `gorm:"index:idx_sos_location" json:"longitude"`
	LocationUnknown  bool     `gorm:"not null;default:false" json:"location_unknown"`
	LocationAddress  string   `gorm:"size:255" json:"location_address"`
	NearestLandmark  string   `gorm:"size:255" json:"nearest_landmark"`
	ContactNumber    string   `gorm:"size:30" json:"contact_number"`
	AlternateContact string   `gorm:"size:30" json:"alternate_contact"`
	PeopleAffected   int      `gorm:"not null;default:1" json:"people_affected"`

	AcknowledgedAt *time.Time `json:"acknowledged_at"`
	AcknowledgedBy *uuid.UUID `gorm:"type:uuid" json:"acknowledged_by"`
	RespondedAt    *time.Time `json:"responded_at"`
	RespondedBy    *uuid.UUID `gorm:"type:uuid" json:"responded_by"`
	ResolvedAt     *time.Time `json:"resolved_at"`
	ResolvedBy     *uuid.UUID `gorm:"type:uuid" json:"resolved_by"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	ResponseNotes  string     `gorm:"type:text" json:"response_notes"`

	NotifiedContacts     []string   `gorm:"serializer:json" json:"notified_contacts"`
	LastNotificationSent *time.Time `json:"last_notification_sent"`
	NotificationCount    int        `gorm:"not null;default:0" json:"notification_count"`

	ImagePath  string          `gorm:"size:255" json:"image_path"`
	AudioPath  string          `gorm:"size:255" json:"audio_path"`
	DeviceInfo intake.Metadata `gorm:"serializer:json" json:"device_info"`
	Metadata   intake.Metadata `gorm:"serializer:json" json:"metadata"`
	IsTest     bool            `gorm:"not null;default:false" json:"is_test"`

	Urgency         int  `gorm:"-" json:"urgency_score"`
	ResponseMinutes *int `gorm:"-" json:"response_time_minutes"`
}

func (SOSRequest) TableName() string { return "sos_requests" }

func (s *SOSRequest) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// AfterFind recomputes urgency on every read; it is never stored.
func (s *SOSRequest) AfterFind(tx *gorm.DB) error {
	s.derive(time.Now())
	return nil
}

func (s *SOSRequest) derive(now time.Time) {
	s.Urgency = Urgency(s.Severity, now.Sub(s.CreatedAt))
	s.ResponseMinutes = nil
	if s.RespondedAt != nil {
		m := int(s.RespondedAt.Sub(s.CreatedAt).Minutes())
		s.ResponseMinutes = &m
	}
}

// Media lists the stored files referenced by the request.
func (s *SOSRequest) Media() []string {
	var out []string
	if s.ImagePath != "" {
		out = append(out, s.ImagePath)
	}
	if s.AudioPath != "" {
		out = append(out, s.AudioPath)
	}
	return out
}

// GeoFilter restricts a listing to a radius around a point.
type GeoFilter struct {
	Latitude  float64
	Longitude float64
	RadiusKm  float64
}

// IncidentFilter narrows ListIncidents.
type IncidentFilter struct {
	Status   Status
	Severity Severity
	Type     string
	UserID   *uuid.UUID
	Near     *GeoFilter
	Page     int
	Limit    int
}

// SOSFilter narrows ListSOS.
type SOSFilter struct {
	Status       SOSStatus
	Severity     Severity
	Type         string
	UserID       *uuid.UUID
	Near         *GeoFilter
	IncludeTests bool
	Page         int
	Limit        int
}

// StaffPatch is a responder/admin override, allowed in any state.
type StaffPatch struct {
	Severity      *string `json:"severity" validate:"omitempty,oneof=low medium high critical"`
	ResponseNotes *string `json:"response_notes" validate:"omitempty,max=5000"`
	IsPublic      *bool   `json:"is_public"`
}

// VerificationInput is a manual verification by staff.
type VerificationInput struct {
	Score   float64 `json:"score" validate:"gte=0,lte=1"`
	Details string  `json:"details" validate:"max=5000"`
}

func pageBounds(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}
