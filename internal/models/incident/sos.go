package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/intake"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
	"github.com/mnuddindev/disasterlink/pkg/utils"
	"gorm.io/gorm"
)

// sosSeverity applies the SOS floor: unset means critical, anything below high is raised to high.
func sosSeverity(requested string) Severity {
	sev := Severity(requested)
	switch {
	case sev == "":
		return SeverityCritical
	case sev.Rank() < SeverityHigh.Rank():
		return SeverityHigh
	}
	return sev
}

// CreateSOS persists an emergency alert and fans it out to every responder and admin.
func (s *Service) CreateSOS(ctx context.Context, actor user.Actor, sub *intake.Submission) (*SOSRequest, error) {
	if sub == nil || sub.Kind != intake.KindSOS {
		return nil, utils.ValidationFailed([]utils.CError{{Field: "kind", Msg: "submission is not an SOS request"}})
	}
	if actor.ID == uuid.Nil {
		return nil, utils.NewError(401, "Authentication required")
	}

	sos := &SOSRequest{
		ID:               uuid.New(),
		UserID:           actor.ID,
		EmergencyType:    sub.Type,
		Message:          sub.Text,
		Severity:         sosSeverity(sub.Severity),
		Status:           SOSActive,
		Latitude:         sub.Latitude,
		Longitude:        sub.Longitude,
		LocationUnknown:  sub.LocationUnknown,
		LocationAddress:  sub.LocationAddress,
		NearestLandmark:  sub.NearestLandmark,
		ContactNumber:    sub.ContactNumber,
		AlternateContact: sub.AlternateContact,
		PeopleAffected:   sub.PeopleAffected,
		DeviceInfo:       sub.DeviceInfo.Clone(),
		Metadata:         sub.Metadata.Clone(),
		IsTest:           sub.IsTest,
		NotifiedContacts: []string{},
	}
	if sos.PeopleAffected < 1 {
		sos.PeopleAffected = 1
	}

	files := append([]intake.Attachment(nil), sub.Images...)
	if sub.Audio != nil {
		files = append(files, *sub.Audio)
	}
	stored, err := s.storeAll(ctx, "sos/"+sos.ID.String(), files)
	if err != nil {
		s.log.Error(ctx).WithError(err).WithMeta(utils.Map{"sos_id": sos.ID.String()}).Logs("Failed to store SOS media")
		return nil, err
	}
	if len(sub.Images) > 0 {
		sos.ImagePath = stored[0]
	}
	if sub.Audio != nil {
		sos.AudioPath = stored[len(stored)-1]
	}

	if err := s.db.WithContext(ctx).Create(sos).Error; err != nil {
		s.removeMedia(ctx, stored)
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to create SOS request")
	}

	s.log.Error(ctx).WithMeta(utils.Map{
		"sos_id":          sos.ID.String(),
		"type":            sos.EmergencyType,
		"severity":        string(sos.Severity),
		"location":        locationLabel(sos),
		"people_affected": strconv.Itoa(sos.PeopleAffected),
		"is_test":         strconv.FormatBool(sos.IsTest),
	}).Logs("SOS emergency received")

	s.fanOutSOS(ctx, actor, sos)
	return s.loadSOS(ctx, sos.ID)
}

func locationLabel(sos *SOSRequest) string {
	if sos.Latitude == nil || sos.Longitude == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.6f,%.6f", *sos.Latitude, *sos.Longitude)
}

// fanOutSOS alerts staff and records who was told. Failures are logged only.
func (s *Service) fanOutSOS(ctx context.Context, actor user.Actor, sos *SOSRequest) {
	staff, err := s.staffRecipients(ctx, actor.ID)
	if err != nil {
		s.log.Warn(ctx).WithError(utils.DependencyFailure("staff directory", err)).
			WithMeta(utils.Map{"sos_id": sos.ID.String()}).
			Logs("Failed to resolve staff for SOS fan-out")
		return
	}
	delivered := s.emit(ctx, staff, notify.Event{
		Type:     notify.EventSOSCreated,
		Title:    "SOS emergency",
		Message:  fmt.Sprintf("%s emergency, %d affected. %s", sos.EmergencyType, sos.PeopleAffected, sos.Message),
		Subject:  notify.Subject{Kind: notify.SubjectSOS, ID: sos.ID},
		Priority: notify.PriorityUrgent,
		SenderID: &actor.ID,
		Data: map[string]string{
			"severity": string(sos.Severity),
			"location": locationLabel(sos),
			"contact":  sos.ContactNumber,
		},
	})
	if !delivered {
		return
	}

	contacts := make([]string, 0, len(staff))
	for _, id := range staff {
		contacts = append(contacts, id.String())
	}
	sent := s.timestamp()
	db := s.db.WithContext(ctx)
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&SOSRequest{ID: sos.ID}).
			Select("notified_contacts", "last_notification_sent").
			Updates(&SOSRequest{NotifiedContacts: contacts, LastNotificationSent: &sent}).Error; err != nil {
			return err
		}
		return tx.Model(&SOSRequest{ID: sos.ID}).
			UpdateColumn("notification_count", gorm.Expr("notification_count + ?", 1)).Error
	})
	if err != nil {
		s.log.Warn(ctx).WithError(err).WithMeta(utils.Map{"sos_id": sos.ID.String()}).Logs("Failed to record SOS notification")
	}
}

// GetSOS returns a request to its owner or to staff.
func (s *Service) GetSOS(ctx context.Context, actor user.Actor, id uuid.UUID) (*SOSRequest, error) {
	sos, err := s.loadSOS(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaff() && !actor.Owns(sos.UserID) {
		return nil, utils.Forbidden("You cannot view this SOS request")
	}
	return sos, nil
}

// ListSOS returns the actor's own requests, or for staff every request matching f.
func (s *Service) ListSOS(ctx context.Context, actor user.Actor, f SOSFilter) ([]SOSRequest, int64, error) {
	if !actor.IsStaff() {
		f.UserID = &actor.ID
		f.IncludeTests = true
	}
	page, limit := pageBounds(f.Page, f.Limit)

	q := s.db.WithContext(ctx).Model(&SOSRequest{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.Type != "" {
		q = q.Where("emergency_type = ?", f.Type)
	}
	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if !f.IncludeTests {
		q = q.Where("is_test = ?", false)
	}

	var (
		items []SOSRequest
		total int64
	)
	if f.Near != nil {
		var candidates []SOSRequest
		if err := boundingBox(q, f.Near).Order("created_at DESC").Find(&candidates).Error; err != nil {
			return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list SOS requests")
		}
		items, total = nearPage(candidates, f.Near, func(r *SOSRequest) (*float64, *float64) { return r.Latitude, r.Longitude }, page, limit)
	} else {
		q = q.Session(&gorm.Session{})
		if err := q.Count(&total).Error; err != nil {
			return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to count SOS requests")
		}
		if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&items).Error; err != nil {
			return nil, 0, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to list SOS requests")
		}
	}
	now := s.now()
	for i := range items {
		items[i].derive(now)
	}
	return items, total, nil
}

// ActiveQueue is the staff work queue: open requests, most urgent first, oldest first on ties.
func (s *Service) ActiveQueue(ctx context.Context, actor user.Actor) ([]SOSRequest, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can view the SOS queue")
	}
	var items []SOSRequest
	err := s.db.WithContext(ctx).
		Where("status IN ? AND is_test = ?", []SOSStatus{SOSActive, SOSResponding}, false).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to load SOS queue")
	}
	now := s.now()
	for i := range items {
		items[i].derive(now)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Urgency > items[j].Urgency
	})
	return items, nil
}

// AcknowledgeSOS marks an active request as taken by a responder.
func (s *Service) AcknowledgeSOS(ctx context.Context, actor user.Actor, id uuid.UUID, notes string) (*SOSRequest, error) {
	return s.transitionSOS(ctx, actor, id, ActionAcknowledge, notes)
}

// RespondSOS records that a responder is on the way.
func (s *Service) RespondSOS(ctx context.Context, actor user.Actor, id uuid.UUID, notes string) (*SOSRequest, error) {
	return s.transitionSOS(ctx, actor, id, ActionRespond, notes)
}

// ResolveSOS closes a request.
func (s *Service) ResolveSOS(ctx context.Context, actor user.Actor, id uuid.UUID, notes string) (*SOSRequest, error) {
	return s.transitionSOS(ctx, actor, id, ActionResolve, notes)
}

// CancelSOS lets the requester withdraw a request nobody has picked up yet.
func (s *Service) CancelSOS(ctx context.Context, actor user.Actor, id uuid.UUID) (*SOSRequest, error) {
	return s.transitionSOS(ctx, actor, id, ActionCancel, "")
}

func (s *Service) transitionSOS(ctx context.Context, actor user.Actor, id uuid.UUID, action SOSAction, notes string) (*SOSRequest, error) {
	sos, err := s.loadSOS(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeSOS(actor, action, sos.UserID); err != nil {
		return nil, err
	}
	rule := sosTransitions[action]
	if !rule.allows(sos.Status) {
		return nil, sosStateError(action, sos.Status)
	}

	now := s.timestamp()
	updates := map[string]interface{}{"status": rule.to}
	switch action {
	case ActionAcknowledge:
		updates["acknowledged_at"] = now
		updates["acknowledged_by"] = actor.ID
	case ActionRespond:
		if sos.AcknowledgedAt == nil {
			updates["acknowledged_at"] = now
			updates["acknowledged_by"] = actor.ID
		}
		if sos.RespondedAt == nil {
			updates["responded_at"] = now
			updates["responded_by"] = actor.ID
		}
	case ActionResolve:
		updates["resolved_at"] = now
		updates["resolved_by"] = actor.ID
		if sos.RespondedAt == nil {
			updates["responded_at"] = now
			updates["responded_by"] = actor.ID
		}
	case ActionCancel:
		updates["cancelled_at"] = now
	}
	if notes != "" {
		updates["response_notes"] = appendNotes(sos.ResponseNotes, notes)
	}

	res := s.db.WithContext(ctx).Model(&SOSRequest{}).
		Where("id = ? AND status = ?", id, sos.Status).
		Updates(updates)
	if res.Error != nil {
		return nil, utils.WrapError(res.Error, utils.ErrInternalServerError.Code, "Failed to update SOS request")
	}
	if res.RowsAffected == 0 {
		current, err := s.loadSOS(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, sosStateError(action, current.Status)
	}

	s.log.Info(ctx).WithMeta(utils.Map{
		"sos_id": id.String(),
		"action": string(action),
		"from":   string(sos.Status),
		"to":     string(rule.to),
		"actor":  actor.ID.String(),
	}).Logs("SOS status changed")

	ev := notify.Event{
		Type:     notify.EventSOSStatusChanged,
		Subject:  notify.Subject{Kind: notify.SubjectSOS, ID: id},
		SenderID: &actor.ID,
		Data:     map[string]string{"from": string(sos.Status), "to": string(rule.to), "action": string(action)},
	}
	if action == ActionCancel {
		ev.Title = "SOS cancelled"
		ev.Message = "The requester cancelled an SOS request"
		ev.Priority = notify.PriorityNormal
		if staff, err := s.staffRecipients(ctx, actor.ID); err == nil {
			s.emit(ctx, staff, ev)
		}
	} else {
		ev.Title = "SOS update"
		ev.Message = fmt.Sprintf("Your SOS request is now %s", rule.to)
		ev.Priority = notify.PriorityHigh
		s.emit(ctx, []uuid.UUID{sos.UserID}, ev)
	}

	return s.loadSOS(ctx, id)
}

// SOSStats summarizes open and closed requests for the staff dashboard.
type SOSStats struct {
	Active             int64    `json:"active"`
	Responding         int64    `json:"responding"`
	Resolved           int64    `json:"resolved"`
	Cancelled          int64    `json:"cancelled"`
	AvgResponseMinutes *float64 `json:"avg_response_minutes"`
}

// SOSStatistics counts requests by status and averages response time. Staff only.
func (s *Service) SOSStatistics(ctx context.Context, actor user.Actor) (*SOSStats, error) {
	if !actor.IsStaff() {
		return nil, utils.Forbidden("Only responders and admins can view statistics")
	}
	var rows []struct {
		Status SOSStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&SOSRequest{}).
		Where("is_test = ?", false).
		Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to compute statistics")
	}
	stats := &SOSStats{}
	for _, r := range rows {
		switch r.Status {
		case SOSActive:
			stats.Active = r.Count
		case SOSResponding:
			stats.Responding = r.Count
		case SOSResolved:
			stats.Resolved = r.Count
		case SOSCancelled:
			stats.Cancelled = r.Count
		}
	}

	var responded []SOSRequest
	err = s.db.WithContext(ctx).Select("id, created_at, responded_at, severity").
		Where("responded_at IS NOT NULL AND is_test = ?", false).
		Find(&responded).Error
	if err != nil {
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to compute statistics")
	}
	if len(responded) > 0 {
		var sum float64
		for _, r := range responded {
			sum += r.RespondedAt.Sub(r.CreatedAt).Minutes()
		}
		avg := sum / float64(len(responded))
		stats.AvgResponseMinutes = &avg
	}
	return stats, nil
}

func (s *Service) loadSOS(ctx context.Context, id uuid.UUID) (*SOSRequest, error) {
	var sos SOSRequest
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sos).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NotFound("SOS request not found")
		}
		return nil, utils.WrapError(err, utils.ErrInternalServerError.Code, "Failed to get SOS request")
	}
	sos.derive(s.now())
	return &sos, nil
}
