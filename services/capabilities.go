package services

import (
	"fieldservice-server/models"
)

// Role is the caller's role as asserted by the auth token.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleTechnician Role = "technician"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// Actor identifies who is calling a lifecycle operation. For technicians the
// actor id is the technician id.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used by background paths (repair job, webhooks).
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Action is a guarded lifecycle operation.
type Action string

const (
	ActionAssign         Action = "assign"
	ActionAdvance        Action = "advance"
	ActionCapture        Action = "capture"
	ActionReportLocation Action = "report_location"
	ActionCancel         Action = "cancel"
	ActionView           Action = "view"
	ActionRetryHold      Action = "retry_hold"
	ActionRepair         Action = "repair"
)

// Relationship is how an actor relates to the entity being acted on.
type Relationship string

const (
	RelTargetTechnician   Relationship = "target_technician"
	RelAssignedTechnician Relationship = "assigned_technician"
	RelBookingCustomer    Relationship = "booking_customer"
	RelAdmin              Relationship = "admin"
	RelSystem             Relationship = "system"
)

// capabilities maps each action to the relationships that permit it.
var capabilities = map[Action][]Relationship{
	ActionAssign:         {RelTargetTechnician, RelAdmin},
	ActionAdvance:        {RelAssignedTechnician},
	ActionCapture:        {RelAssignedTechnician},
	ActionReportLocation: {RelAssignedTechnician},
	ActionCancel:         {RelBookingCustomer},
	ActionView:           {RelBookingCustomer, RelAssignedTechnician, RelAdmin},
	ActionRetryHold:      {RelBookingCustomer, RelAdmin},
	ActionRepair:         {RelAdmin, RelSystem},
}

// Subject describes the entity an action targets.
type Subject struct {
	CustomerID           string
	AssignedTechnicianID string
	TargetTechnicianID   string
}

// SubjectForBooking builds the subject of a booking level action.
func SubjectForBooking(b *models.Booking) Subject {
	s := Subject{CustomerID: b.CustomerID}
	if b.TechnicianID != nil {
		s.AssignedTechnicianID = *b.TechnicianID
	}
	return s
}

// SubjectForJob builds the subject of a job level action.
func SubjectForJob(j *models.Job) Subject {
	return Subject{CustomerID: j.CustomerID, AssignedTechnicianID: j.TechnicianID}
}

func relationships(actor Actor, s Subject) map[Relationship]bool {
	rels := make(map[Relationship]bool)
	switch actor.Role {
	case RoleAdmin:
		rels[RelAdmin] = true
	case RoleSystem:
		rels[RelSystem] = true
	case RoleTechnician:
		if actor.ID != "" && actor.ID == s.AssignedTechnicianID {
			rels[RelAssignedTechnician] = true
		}
		if actor.ID != "" && actor.ID == s.TargetTechnicianID {
			rels[RelTargetTechnician] = true
		}
	case RoleCustomer:
		if actor.ID != "" && actor.ID == s.CustomerID {
			rels[RelBookingCustomer] = true
		}
	}
	return rels
}

// Allowed reports whether actor may perform action on s.
func Allowed(action Action, actor Actor, s Subject) bool {
	rels := relationships(actor, s)
	for _, need := range capabilities[action] {
		if rels[need] {
			return true
		}
	}
	return false
}

func authorize(op string, action Action, actor Actor, s Subject) error {
	if Allowed(action, actor, s) {
		return nil
	}
	return opErr(op, ErrForbidden, "%s %q may not %s", actor.Role, actor.ID, action)
}
