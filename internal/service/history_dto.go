package service

import (
	"encoding/json"
	"time"

	"changerequest/internal/model"
)

// ChangeRequestResponse is the API shape of a change request record.
type ChangeRequestResponse struct {
	ID           string          `json:"id"`
	ObjectType   string          `json:"object_type"`
	ObjectID     *string         `json:"object_id"`
	ObjectStr    string          `json:"object_str"`
	Object       string          `json:"object"` // formatted display reference
	RelatedType  string          `json:"related_type,omitempty"`
	RequestType  string          `json:"request_type"`
	Status       string          `json:"status"`
	DataChanged  json.RawMessage `json:"data_changed,omitempty"`
	DataRevert   json.RawMessage `json:"data_revert,omitempty"`
	Comment      string          `json:"comment"`
	UserID       string          `json:"user_id"`
	Username     string          `json:"username,omitempty"`
	ModID        *string         `json:"mod_id"`
	ModName      string          `json:"mod_name,omitempty"`
	RevertedByID *string         `json:"reverted_by_id,omitempty"`
	DateCreated  string          `json:"date_created"`
	DateModified string          `json:"date_modified"`
}

func ToChangeRequestResponse(cr *model.ChangeRequest) ChangeRequestResponse {
	resp := ChangeRequestResponse{
		ID:           cr.ID.String(),
		ObjectType:   cr.ObjectType,
		ObjectStr:    cr.ObjectStr,
		Object:       cr.String(),
		RelatedType:  cr.RelatedType,
		RequestType:  cr.RequestType.String(),
		Status:       cr.Status.String(),
		DataChanged:  json.RawMessage(cr.DataChanged),
		DataRevert:   json.RawMessage(cr.DataRevert),
		Comment:      cr.Comment,
		UserID:       cr.UserID.String(),
		DateCreated:  cr.DateCreated.Format(time.RFC3339),
		DateModified: cr.DateModified.Format(time.RFC3339),
	}
	if cr.ObjectID != nil {
		s := cr.ObjectID.String()
		resp.ObjectID = &s
	}
	if cr.User != nil {
		resp.Username = cr.User.Username
	}
	if cr.ModID != nil {
		s := cr.ModID.String()
		resp.ModID = &s
	}
	if cr.Mod != nil {
		resp.ModName = cr.Mod.Username
	}
	if cr.RevertedByID != nil {
		s := cr.RevertedByID.String()
		resp.RevertedByID = &s
	}
	return resp
}

func ToChangeRequestResponses(records []model.ChangeRequest) []ChangeRequestResponse {
	out := make([]ChangeRequestResponse, 0, len(records))
	for i := range records {
		out = append(out, ToChangeRequestResponse(&records[i]))
	}
	return out
}
