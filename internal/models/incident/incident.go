package incident

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

const (
	publicFeedTTL        = 30 * time.Second
	publicFeedVersionKey = "incidents:public:version"
)

// CreateIncident persists a validated incident submission for actor.
// Media is written before the row; if either fails nothing is left behind.
func (s *Service) CreateIncident(ctx context.Context, actor user.Actor, sub *intake.Submission) (*Incident, error) {
	if sub == nil || sub.Kind != intake.KindIncident {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "kind", Msg: "submission is not an incident"}})
	}
	if actor.ID == uuid.Nil {
		return nil, utils.NewError(401, "Authentication required")
	}

	severity := Severity(sub.Severity)
	if severity == "" {
		severity = SeverityMedium
	}

	inc := &Incident{
		ID:              uuid.New(),
		UserID:          actor.ID,
		Title:           sub.Title,
		Description:     sub.Text,
		Type:            sub.Type,
		Severity:        severity,
		Status:          StatusReported,
		Latitude:        sub.Latitude,
		Longitude:       sub.Longitude,
		LocationAddress: sub.LocationAddress,
		Metadata:        sub.Metadata.Clone(),
		IsPublic:        true,
	}
	if _, ok := inc.Metadata[intake.MetaSubmittedAt]; !ok {
		inc.Metadata[intake.MetaSubmittedAt] = s.timestamp().Format(time.RFC3339)
	}

	images, err := s.storeAll(ctx, "incidents/"+inc.ID.String(), sub.Images)
	if err != nil {
		s.log.Error(ctx).WithError(err).WithMeta(utils.Map{"incident_id": inc.ID.String()}).Logs("Failed to store incident media")
		return nil, err
	}
	inc.Images = images

	if err := s.db.WithContext(ctx).Create(inc).Error; err != nil {
		s.removeMedia(ctx, images)
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to create incident")
	}

	s.log.Info(ctx).WithMeta(utils.Map{
		"incident_id": inc.ID.String(),
		"type":        inc.Type,
		"severity":    string(inc.Severity),
		"images":      strconv.Itoa(len(images)),
	}).Logs("Incident reported")

	if len(sub.Images) > 0 {
		s.scoreImage(ctx, inc.ID, sub.Images[0].Content, captureMetadata(sub.Metadata, inc.Latitude, inc.Longitude))
	}
	s.bumpPublicFeed(ctx)

	if staff, err := s.staffRecipients(ctx, actor.ID); err != nil {
		s.log.Warn(ctx).WithError(err).Logs("Failed to resolve staff for incident fan-out")
	} else {
		priority := notify.PriorityNormal
		if severity.Rank() >= SeverityHigh.Rank() {
			priority = notify.PriorityHigh
		}
		s.emit(ctx, staff, notify.Event{
			Type:     notify.EventIncidentCreated,
			Title:    "New incident reported",
			Message:  fmt.Sprintf("A %s %s incident was reported", severity, inc.Type),
			Subject:  notify.Subject{Kind: notify.SubjectIncident, ID: inc.ID},
			Priority: priority,
			SenderID: &actor.ID,
			Data:     map[string]string{"severity": string(severity), "type": inc.Type},
		})
	}

	return s.loadIncident(ctx, inc.ID)
}

// captureMetadata is the submission metadata plus the reported coordinates, which the verifier
// compares against the image's own location data.
func captureMetadata(meta intake.Metadata, lat, lng *float64) intake.Metadata {
	out := meta.Clone()
	if lat != nil && lng != nil {
		out["latitude"] = strconv.FormatFloat(*lat, 'f', -1, 64)
		out["longitude"] = strconv.FormatFloat(*lng, 'f', -1, 64)
	}
	return out
}

// scoreImage asks the verifier about the first image. Any failure leaves the score unset.
func (s *Service) scoreImage(ctx context.Context, id uuid.UUID, image []byte, meta intake.Metadata) {
	if s.verifier == nil || !s.verifier.Enabled() {
		return
	}
	res, err := s.verifier.Verify(ctx, image, meta)
	if err != nil {
		s.log.Warn(ctx).WithError(err).WithMeta(utils.Map{"incident_id": id.String()}).Logs("Image verification skipped")
		return
	}
	details, _ := json.Marshal(res)
	updates := map[string]interface{}{"verification_details": string(details)}
	if res.Scored {
		updates["verification_score"] = res.Score
	}
	if err := s.db.WithContext(ctx).Model(&Incident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		s.log.Warn(ctx).WithError(err).WithMeta(utils.Map{"incident_id": id.String()}).Logs("Failed to record verification score")
	}
}

// GetIncident returns an incident to its owner, to staff, or to anyone when it is on the public feed.
func (s *Service) GetIncident(ctx context.Context, actor user.Actor, id uuid.UUID) (*Incident, error) {
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsStaff() || actor.Owns(inc.UserID) || publiclyListed(inc) {
		return inc, nil
	}
	return nil, utils.Forbidden("You cannot view this incident")
}

func publiclyListed(inc *Incident) bool {
	return inc.IsPublic && (inc.Status == StatusVerified || inc.Status == StatusInvestigating)
}

// ListIncidents returns the actor's own reports, or for staff every report matching f.
func (s *Service) ListIncidents(ctx context.Context, actor user.Actor, f IncidentFilter) ([]Incident, int64, error) {
	if !actor.IsStaff() {
		f.UserID = &actor.ID
	}
	page, limit := pageBounds(f.Page, f.Limit)

	q := s.db.WithContext(ctx).Model(&Incident{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	return s.findIncidents(q, f.Near, page, limit)
}

// ListPublicIncidents is the unauthenticated feed: public reports that staff have picked up.
func (s *Service) ListPublicIncidents(ctx context.Context, f IncidentFilter) ([]Incident, int64, error) {
	page, limit := pageBounds(f.Page, f.Limit)

	cacheKey := ""
	if hasRedis(s) && f.Near == nil {
		version, _ := s.rclient.Get(ctx, publicFeedVersionKey).Result()
		cacheKey = fmt.Sprintf("incidents:public:%s:%s:%s:%d:%d", version, f.Type, f.Severity, page, limit)
		if cached, err := s.rclient.Get(ctx, cacheKey).Bytes(); err == nil {
			var feed publicFeed
			if json.Unmarshal(cached, &feed) == nil {
				for i := range feed.Items {
					feed.Items[i].derive()
				}
				return feed.Items, feed.Total, nil
			}
		}
	}

	q := s.db.WithContext(ctx).Model(&Incident{}).
		Where("is_public = ? AND status IN ?", true, []Status{StatusVerified, StatusInvestigating})
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	items, total, err := s.findIncidents(q, f.Near, page, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Metadata = nil
		items[i].ResponseNotes = ""
	}

	if cacheKey != "" {
		if data, err := json.Marshal(publicFeed{Items: items, Total: total}); err == nil {
			s.rclient.Set(ctx, cacheKey, data, publicFeedTTL)
		}
	}
	return items, total, nil
}

type publicFeed struct {
	Items []Incident `json:"items"`
	Total int64      `json:"total"`
}

// findIncidents pages q newest first. With a radius, the box narrows the scan in SQL and the
// exact distance check runs before counting and paging.
func (s *Service) findIncidents(q *gorm.DB, near *GeoFilter, page, limit int) ([]Incident, int64, error) {
	if near != nil {
		var candidates []Incident
		if err := boundingBox(q, near).Order("created_at DESC").Find(&candidates).Error; err != nil {
			return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list incidents")
		}
		items, total := nearPage(candidates, near, func(i *Incident) (*float64, *float64) { return i.Latitude, i.Longitude }, page, limit)
		return items, total, nil
	}
	q = q.Session(&gorm.Session{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count incidents")
	}
	var items []Incident
	err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&items).Error
	if err != nil {
		return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list incidents")
	}
	return items, total, nil
}

// UpdateOwnerFields applies a reporter's edit. Resolved incidents are frozen for owners.
func (s *Service) UpdateOwnerFields(ctx context.Context, actor user.Actor, id uuid.UUID, patch intake.IncidentPatch) (*Incident, error) {
	if err := s.validator.ValidateIncidentPatch(patch); err != nil {
		return nil, err
	}
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.Owns(inc.UserID) {
		return nil, utils.Forbidden("Only the reporter can edit this incident")
	}
	if inc.Status == StatusResolved {
		return nil, utils.InvalidState(string(inc.Status), "edit")
	}
	if patch.Empty() {
		return inc, nil
	}

	updates := map[string]interface{}{}
	if patch.Type != nil {
		updates["type"] = *patch.Type
	}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Latitude != nil && patch.Longitude != nil {
		updates["latitude"] = *patch.Latitude
		updates["longitude"] = *patch.Longitude
	}
	if patch.LocationAddress != nil {
		updates["location_address"] = *patch.LocationAddress
	}
	if patch.IsPublic != nil {
		updates["is_public"] = *patch.IsPublic
	}

	// the status guard loses to a concurrent resolve instead of overwriting it
	res := s.db.WithContext(ctx).Model(&Incident{}).
		Where("id = ? AND status <> ?", id, StatusResolved).
		Updates(updates)
	if res.Error != nil {
		return nil, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to update incident")
	}
	if res.RowsAffected == 0 {
		current, err := s.loadIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, utils.InvalidState(string(current.Status), "edit")
	}
	s.bumpPublicFeed(ctx)
	return s.loadIncident(ctx, id)
}

// StaffUpdate lets responders and admins change severity, notes and visibility in any state.
func (s *Service) StaffUpdate(ctx context.Context, actor user.Actor, id uuid.UUID, patch StaffPatch) (*Incident, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can update incidents")
	}
	if patch.Severity != nil && !Severity(*patch.Severity).Valid() {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "severity", Msg: "severity must be one of the following values: low medium high critical"}})
	}
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{}
	if patch.Severity != nil {
		updates["severity"] = *patch.Severity
	}
	if patch.ResponseNotes != nil {
		updates["response_notes"] = *patch.ResponseNotes
	}
	if patch.IsPublic != nil {
		updates["is_public"] = *patch.IsPublic
	}
	if len(updates) == 0 {
		return inc, nil
	}
	if err := s.db.WithContext(ctx).Model(&Incident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to update incident")
	}
	s.bumpPublicFeed(ctx)
	return s.loadIncident(ctx, id)
}

// TransitionIncident moves an incident along the state machine. Staff only.
func (s *Service) TransitionIncident(ctx context.Context, actor user.Actor, id uuid.UUID, to Status, notes string) (*Incident, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can change incident status")
	}
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inc.Status
	if !CanTransition(from, to) {
		return nil, utils.InvalidTransition(string(from), string(to))
	}

	now := s.timestamp()
	updates := map[string]interface{}{"status": to}
	switch to {
	case StatusVerified:
		updates["is_verified"] = true
		updates["verified_at"] = now
		updates["verified_by"] = actor.ID
	case StatusInvestigating:
		if inc.RespondedAt == nil {
			updates["responded_at"] = now
			updates["responded_by"] = actor.ID
		}
	case StatusResolved:
		updates["resolved_at"] = now
		if inc.RespondedAt == nil {
			updates["responded_at"] = now
			updates["responded_by"] = actor.ID
		}
	}
	if notes != "" {
		updates["response_notes"] = appendNotes(inc.ResponseNotes, notes)
	}

	res := s.db.WithContext(ctx).Model(&Incident{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return nil, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to update incident status")
	}
	if res.RowsAffected == 0 {
		current, err := s.loadIncident(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, utils.InvalidTransition(string(current.Status), string(to))
	}

	s.log.Info(ctx).WithMeta(utils.Map{
		"incident_id": id.String(),
		"from":        string(from),
		"to":          string(to),
		"actor":       actor.ID.String(),
	}).Logs("Incident status changed")
	s.bumpPublicFeed(ctx)

	evType := notify.EventIncidentStatusChanged
	if to == StatusVerified {
		evType = notify.EventIncidentVerified
	}
	s.emit(ctx, []uuid.UUID{inc.UserID}, notify.Event{
		Type:     evType,
		Title:    "Incident update",
		Message:  fmt.Sprintf("Your incident report is now %s", to),
		Subject:  notify.Subject{Kind: notify.SubjectIncident, ID: id},
		Priority: notify.PriorityNormal,
		SenderID: &actor.ID,
		Data:     map[string]string{"from": string(from), "to": string(to)},
	})

	return s.loadIncident(ctx, id)
}

// AttachVerification records a staff verification score without moving the status.
func (s *Service) AttachVerification(ctx context.Context, actor user.Actor, id uuid.UUID, in VerificationInput) (*Incident, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can verify incidents")
	}
	if in.Score < 0 || in.Score > 1 {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "score", Msg: "score out of range"}})
	}
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	updates := map[string]interface{}{
		"is_verified":        true,
		"verification_score": in.Score,
		"verified_at":        s.timestamp(),
		"verified_by":        actor.ID,
	}
	if in.Details != "" {
		updates["verification_details"] = in.Details
	}
	if err := s.db.WithContext(ctx).Model(&Incident{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to record verification")
	}
	s.bumpPublicFeed(ctx)

	s.emit(ctx, []uuid.UUID{inc.UserID}, notify.Event{
		Type:     notify.EventIncidentVerified,
		Title:    "Incident verified",
		Message:  "A responder reviewed your incident report",
		Subject:  notify.Subject{Kind: notify.SubjectIncident, ID: id},
		Priority: notify.PriorityNormal,
		SenderID: &actor.ID,
		Data:     map[string]string{"score": strconv.FormatFloat(in.Score, 'f', 2, 64)},
	})
	return s.loadIncident(ctx, id)
}

// DeleteIncident removes the owner's incident, then its media best-effort.
func (s *Service) DeleteIncident(ctx context.Context, actor user.Actor, id uuid.UUID) error {
	inc, err := s.loadIncident(ctx, id)
	if err != nil {
		return err
	}
	if !actor.Owns(inc.UserID) {
		return utils.Forbidden("Only the reporter can delete this incident")
	}
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, actor.ID).Delete(&Incident{})
	if res.Error != nil {
		return utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to delete incident")
	}
	if res.RowsAffected == 0 {
		return utils.NotFound("Incident not found")
	}

	s.removeMedia(ctx, inc.Images)
	s.bumpPublicFeed(ctx)
	s.log.Info(ctx).WithMeta(utils.Map{"incident_id": id.String(), "media": strconv.Itoa(len(inc.Images))}).Logs("Incident deleted")
	return nil
}

// IncidentStats summarizes reports for the staff dashboard.
type IncidentStats struct {
	Total      int64              `json:"total"`
	ByStatus   map[Status]int64   `json:"by_status"`
	BySeverity map[Severity]int64 `json:"by_severity"`
	Verified   int64              `json:"verified"`
}

// Stats counts incidents by status and severity. Staff only.
func (s *Service) Stats(ctx context.Context, actor user.Actor) (*IncidentStats, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can view statistics")
	}
	type row struct {
		Bucket string
		Count  int64
	}
	stats := &IncidentStats{ByStatus: map[Status]int64{}, BySeverity: map[Severity]int64{}}

	var byStatus []row
	if err := s.db.WithContext(ctx).Model(&Incident{}).Select("status AS bucket, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to compute statistics")
	}
	for _, r := range byStatus {
		stats.ByStatus[Status(r.Bucket)] = r.Count
		stats.Total += r.Count
	}
	var bySeverity []row
	if err := s.db.WithContext(ctx).Model(&Incident{}).Select("severity AS bucket, COUNT(*) AS count").Group("severity").Scan(&bySeverity).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to compute statistics")
	}
	for _, r := range bySeverity {
		stats.BySeverity[Severity(r.Bucket)] = r.Count
	}
	if err := s.db.WithContext(ctx).Model(&Incident{}).Where("is_verified = ?", true).Count(&stats.Verified).Error; err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to compute statistics")
	}
	return stats, nil
}

func (s *Service) loadIncident(ctx context.Context, id uuid.UUID) (*Incident, error) {
	var inc Incident
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&inc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("Incident not found")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get incident")
	}
	return &inc, nil
}

// bumpPublicFeed invalidates every cached public feed page.
func (s *Service) bumpPublicFeed(ctx context.Context) {
	if hasRedis(s) {
		s.rclient.Incr(ctx, publicFeedVersionKey)
	}
}

func hasRedis(s *Service) bool {
	return s.rclient != nil && s.rclient.Client != nil
}
