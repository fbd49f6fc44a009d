package incident

import (
	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// incidentTransitions is the incident state machine. resolved has no exits.
var incidentTransitions = map[Status][]Status{
	StatusReported:      {StatusVerified, StatusInvestigating, StatusResolved},
	StatusVerified:      {StatusInvestigating, StatusResolved},
	StatusInvestigating: {StatusVerified, StatusResolved},
	StatusResolved:      {},
}

// CanTransition reports whether from -> to is defined.
func CanTransition(from, to Status) bool {
	for _, s := range incidentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SOSAction is a guarded SOS operation.
type SOSAction string

const (
	ActionAcknowledge SOSAction = "acknowledge"
	ActionRespond     SOSAction = "respond"
	ActionResolve     SOSAction = "resolve"
	ActionCancel      SOSAction = "cancel"
)

type sosRule struct {
	from      []SOSStatus
	to        SOSStatus
	ownerOnly bool
}

// sosTransitions is the SOS state machine: active -> {responding, resolved, cancelled}, responding -> resolved.
var sosTransitions = map[SOSAction]sosRule{
	ActionAcknowledge: {from: []SOSStatus{SOSActive}, to: SOSResponding},
	ActionRespond:     {from: []SOSStatus{SOSActive, SOSResponding}, to: SOSResponding},
	ActionResolve:     {from: []SOSStatus{SOSActive, SOSResponding}, to: SOSResolved},
	ActionCancel:      {from: []SOSStatus{SOSActive}, to: SOSCancelled, ownerOnly: true},
}

func (r sosRule) allows(from SOSStatus) bool {
	for _, s := range r.from {
		if s == from {
			return true
		}
	}
	return false
}

// authorizeSOS applies the role half of the guard; the state half runs against the stored row.
func authorizeSOS(actor user.Actor, action SOSAction, ownerID uuid.UUID) error {
	rule, ok := sosTransitions[action]
	if !ok {
		return utils.InvalidTransition("", string(action))
	}
	if rule.ownerOnly {
		if !actor.Owns(ownerID) {
			return utils.Forbidden("Only the reporter can " + string(action) + " this SOS request")
		}
		return nil
	}
	if !actor.IsStaff() {
		return utils.Forbidden("Only responders and admins can " + string(action) + " SOS requests")
	}
	return nil
}

// sosStateError names the current state and the attempted action. Owner cancellation reports
// InvalidState; staff actions outside the forward path report InvalidTransition.
func sosStateError(action SOSAction, current SOSStatus) error {
	rule := sosTransitions[action]
	if rule.ownerOnly {
		return utils.InvalidState(string(current), string(action))
	}
	return utils.InvalidTransition(string(current), string(rule.to))
}
