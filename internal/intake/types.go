// Package intake validates raw incident and SOS submissions before anything is persisted.
package intake

// Kind is the submission kind.
type Kind string

const (
	KindIncident Kind = "incident"
	KindSOS      Kind = "sos"
)

// Emergency types accepted for both incidents and SOS requests.
var Types = []string{"fire", "flood", "earthquake", "accident", "medical", "other"}

// Severities in ascending order.
var Severities = []string{"low", "medium", "high", "critical"}

// Recognized metadata keys. Unknown keys are kept as-is.
const (
	MetaClientIP       = "client_ip"
	MetaUserAgent      = "user_agent"
	MetaSubmittedAt    = "submitted_at"
	MetaSource         = "source"
	MetaLocationStatus = "location_status"
	MetaBatteryLevel   = "battery_level"
	MetaDeviceType     = "device_type"
)

// Metadata is the free-form submission context.
type Metadata map[string]string

// Get returns the value for key, or "".
func (m Metadata) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Clone returns a copy that is safe to mutate.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Attachment is an uploaded file held in memory until it is stored.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Content  []byte `json:"-"`
	MIME     string `json:"mime"`
}

// Payload is the raw submission as decoded from the request.
type Payload struct {
	Type             string       `json:"type"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Message          string       `json:"message"`
	Severity         string       `json:"severity"`
	Latitude         *float64     `json:"latitude"`
	Longitude        *float64     `json:"longitude"`
	LocationAddress  string       `json:"location_address"`
	NearestLandmark  string       `json:"nearest_landmark"`
	ContactNumber    string       `json:"contact_number"`
	AlternateContact string       `json:"alternate_contact"`
	PeopleAffected   int          `json:"people_affected"`
	Metadata         Metadata     `json:"metadata"`
	DeviceInfo       Metadata     `json:"device_info"`
	IsTest           bool         `json:"is_test"`
	Images           []Attachment `json:"-"`
	Audio            *Attachment  `json:"-"`
}

// Submission is a payload that passed every check.
type Submission struct {
	Kind             Kind
	Type             string
	Title            string
	Text             string // incident description or SOS message
	Severity         string // empty when the submitter did not choose one
	Latitude         *float64
	Longitude        *float64
	LocationUnknown  bool
	LocationAddress  string
	NearestLandmark  string
	ContactNumber    string
	AlternateContact string
	PeopleAffected   int
	Metadata         Metadata
	DeviceInfo       Metadata
	IsTest           bool
	Images           []Attachment
	Audio            *Attachment
}

// IncidentPatch is an owner edit. Nil fields are left untouched.
type IncidentPatch struct {
	Type            *string  `json:"type" validate:"omitempty,oneof=fire flood earthquake accident medical other"`
	Title           *string  `json:"title" validate:"omitempty,max=255"`
	Description     *string  `json:"description" validate:"omitempty,max=2000"`
	Latitude        *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	LocationAddress *string  `json:"location_address" validate:"omitempty,max=255"`
	IsPublic        *bool    `json:"is_public"`
}

// Empty reports whether the patch changes nothing.
func (p IncidentPatch) Empty() bool {
	return p.Type == nil && p.Title == nil && p.Description == nil && p.Latitude == nil &&
		p.Longitude == nil && p.LocationAddress == nil && p.IsPublic == nil
}
