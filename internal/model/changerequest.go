package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RequestType enumerates the actions a ChangeRequest can record.
// RELATED is used for associated collections that have a 1-N or M-N
// relation with the main entity history is being kept for.
type RequestType int16

const (
	TypeAdd     RequestType = 1
	TypeModify  RequestType = 2
	TypeDelete  RequestType = 3
	TypeRelated RequestType = 4
)

var requestTypeLabels = map[RequestType]string{
	TypeAdd:     "Add",
	TypeModify:  "Modify",
	TypeDelete:  "Delete",
	TypeRelated: "Related",
}

func (t RequestType) String() string {
	if label, ok := requestTypeLabels[t]; ok {
		return label
	}
	return fmt.Sprintf("Type(%d)", int16(t))
}

// Status enumerates the lifecycle states of a ChangeRequest.
//
//	Pending    — awaiting moderation; entity data not yet committed
//	Approved   — (automatically) approved; entity data committed
//	Denied     — a moderator denied the request
//	Withdrawn  — the submitting user withdrew the request themselves
//	Reverted   — a moderator undid the approval and restored prior data
type Status int16

const (
	StatusPending   Status = 1
	StatusApproved  Status = 2
	StatusDenied    Status = 3
	StatusWithdrawn Status = 4
	StatusReverted  Status = 5
)

var statusLabels = map[Status]string{
	StatusPending:   "Pending",
	StatusApproved:  "Approved",
	StatusDenied:    "Denied",
	StatusWithdrawn: "Withdrawn",
	StatusReverted:  "Reverted",
}

func (s Status) String() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return fmt.Sprintf("Status(%d)", int16(s))
}

// StatusFromLabel resolves a case-insensitive status label ("pending",
// "Approved", ...) as used in list-view query strings.
func StatusFromLabel(label string) (Status, bool) {
	for s, l := range statusLabels {
		if strings.EqualFold(l, label) {
			return s, true
		}
	}
	return 0, false
}

// ChangeRequest is the durable audit record for one proposed or applied
// mutation. Records are never deleted; they are the permanent audit trail.
type ChangeRequest struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	// The partial unique index enforces at most one PENDING record per target
	// even if two submission transactions race past the in-flight count.
	ObjectType string     `gorm:"type:varchar(50);not null;index:idx_change_requests_object;uniqueIndex:uidx_change_requests_in_flight,where:status = 1" json:"object_type"`
	ObjectID   *uuid.UUID `gorm:"type:uuid;index:idx_change_requests_object;uniqueIndex:uidx_change_requests_in_flight,where:status = 1" json:"object_id"` // nil for ADD until approved
	// ObjectStr snapshots the target's display label at request time, so the
	// record stays readable after the target is renamed or deleted.
	ObjectStr   string         `gorm:"type:varchar(250)" json:"object_str"`
	RelatedType string         `gorm:"type:varchar(50)" json:"related_type,omitempty"` // set only for RELATED
	RequestType RequestType    `gorm:"not null;index" json:"request_type"`
	Status      Status         `gorm:"not null;default:1;index" json:"status"`
	DataRevert  datatypes.JSON `gorm:"type:jsonb" json:"data_revert,omitempty"`
	DataChanged datatypes.JSON `gorm:"type:jsonb" json:"data_changed,omitempty"`
	Comment     string         `gorm:"type:text" json:"comment"`
	UserID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	User        *User          `gorm:"foreignKey:UserID" json:"user,omitempty"`
	UserIP      string         `gorm:"type:varchar(45)" json:"user_ip"`
	ModID       *uuid.UUID     `gorm:"type:uuid" json:"mod_id"`
	Mod         *User          `gorm:"foreignKey:ModID" json:"mod,omitempty"`
	ModIP       string         `gorm:"type:varchar(45)" json:"mod_ip"`
	// RevertedByID links a REVERTED record to the record that reverted it.
	// Stored as a plain id, not an association, to avoid ownership cycles.
	RevertedByID *uuid.UUID `gorm:"type:uuid" json:"reverted_by_id,omitempty"`
	DateCreated  time.Time  `gorm:"autoCreateTime;index" json:"date_created"`
	DateModified time.Time  `gorm:"autoUpdateTime;index" json:"date_modified"`
}

func (cr *ChangeRequest) BeforeCreate(tx *gorm.DB) error {
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}
	return nil
}

func (cr *ChangeRequest) String() string {
	return FormatObjectStr(cr.ObjectType, cr.ObjectStr, cr.ObjectID)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusWithdrawn || s == StatusReverted
}

// FormatObjectStr renders an object reference like `book "The Title" (id)`,
// degrading gracefully when the label or id is absent.
func FormatObjectStr(objectType, objectStr string, id *uuid.UUID) string {
	s := objectType
	if objectStr != "" {
		s += fmt.Sprintf(" %q", objectStr)
	}
	if id != nil {
		s += fmt.Sprintf(" (%s)", id)
	}
	return s
}
