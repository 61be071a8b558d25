package service

import (
	"context"
	"errors"

	"changerequest/internal/model"
	"changerequest/pkg/diff"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// applyEngine executes a change request's diff against the live entity and
// computes inverse mutations for reverts. Callers run it inside a
// transaction: the entity mutation and the record's status update commit or
// roll back together.
type applyEngine struct {
	registry *Registry
}

// Apply mutates the live entity from cr's diff payload. It updates cr in
// place (revert snapshot, object id for ADD, refreshed object label); the
// caller persists the record.
func (e *applyEngine) Apply(ctx context.Context, cr *model.ChangeRequest) error {
	adapter, err := e.registry.Get(cr.ObjectType)
	if err != nil {
		return &ApplyError{Op: "lookup", Err: err}
	}

	switch cr.RequestType {
	case model.TypeAdd:
		fields, err := diff.Decode(cr.DataChanged)
		if err != nil {
			return &ApplyError{Op: "decode", Err: err}
		}
		id, err := adapter.Create(ctx, fields)
		if err != nil {
			return &ApplyError{Op: "create", Err: err}
		}
		cr.ObjectID = &id
		cr.ObjectStr = adapter.ObjectStr(fields)
		return nil

	case model.TypeModify:
		fields, err := diff.Decode(cr.DataChanged)
		if err != nil {
			return &ApplyError{Op: "decode", Err: err}
		}
		prior, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			return &ApplyError{Op: "read", Err: err}
		}
		// Re-capture the revert snapshot at apply time: last applied wins,
		// and the snapshot must reflect what the write actually replaced.
		revert := make(map[string]any, len(fields))
		for name := range fields {
			revert[name] = prior[name]
		}
		if cr.DataRevert, err = diff.Encode(revert); err != nil {
			return &ApplyError{Op: "encode", Err: err}
		}
		if err := adapter.Update(ctx, *cr.ObjectID, fields); err != nil {
			return &ApplyError{Op: "update", Err: err}
		}
		return nil

	case model.TypeDelete:
		prior, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			return &ApplyError{Op: "read", Err: err}
		}
		if cr.DataRevert, err = diff.Encode(prior); err != nil {
			return &ApplyError{Op: "encode", Err: err}
		}
		cr.ObjectStr = adapter.ObjectStr(prior)
		if err := adapter.Delete(ctx, *cr.ObjectID); err != nil {
			return &ApplyError{Op: "delete", Err: err}
		}
		return nil

	case model.TypeRelated:
		related, err := e.registry.GetRelated(cr.ObjectType, cr.RelatedType)
		if err != nil {
			return &ApplyError{Op: "lookup", Err: err}
		}
		d, err := diff.DecodeRelated(cr.DataChanged)
		if err != nil {
			return &ApplyError{Op: "decode", Err: err}
		}
		prior, err := related.RelatedMembers(ctx, *cr.ObjectID, cr.RelatedType)
		if err != nil {
			return &ApplyError{Op: "read", Err: err}
		}
		if cr.DataRevert, err = diff.EncodeMembers(prior); err != nil {
			return &ApplyError{Op: "encode", Err: err}
		}
		if err := related.ApplyRelated(ctx, *cr.ObjectID, cr.RelatedType, d); err != nil {
			return &ApplyError{Op: "apply related", Err: err}
		}
		return nil
	}
	return &ApplyError{Op: "apply", Err: validationErrorf("unknown request type %d", cr.RequestType)}
}

// Revert applies the inverse mutation of an approved record and returns the
// new linked change request describing it (status APPROVED, mod = reverting
// actor). The caller marks the original REVERTED and persists both.
func (e *applyEngine) Revert(ctx context.Context, cr *model.ChangeRequest, actorID uuid.UUID, actorIP string) (*model.ChangeRequest, error) {
	adapter, err := e.registry.Get(cr.ObjectType)
	if err != nil {
		return nil, err
	}

	spawned := &model.ChangeRequest{
		ObjectType: cr.ObjectType,
		ObjectID:   cr.ObjectID,
		ObjectStr:  cr.ObjectStr,
		Status:     model.StatusApproved,
		UserID:     actorID,
		UserIP:     actorIP,
		ModID:      &actorID,
		ModIP:      actorIP,
		Comment:    "Reverted: " + cr.String(),
	}

	switch cr.RequestType {
	case model.TypeAdd:
		// Inverse of ADD is DELETE of the created entity.
		state, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &RevertError{Reason: RevertTargetGone}
			}
			return nil, &ApplyError{Op: "read", Err: err}
		}
		spawned.RequestType = model.TypeDelete
		if spawned.DataRevert, err = diff.Encode(state); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}
		if err := adapter.Delete(ctx, *cr.ObjectID); err != nil {
			return nil, &ApplyError{Op: "delete", Err: err}
		}

	case model.TypeModify:
		fields, err := diff.Decode(cr.DataRevert)
		if err != nil {
			return nil, &ApplyError{Op: "decode", Err: err}
		}
		current, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &RevertError{Reason: RevertTargetGone}
			}
			return nil, &ApplyError{Op: "read", Err: err}
		}
		revert := make(map[string]any, len(fields))
		for name := range fields {
			revert[name] = current[name]
		}
		spawned.RequestType = model.TypeModify
		if spawned.DataChanged, err = diff.Encode(fields); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}
		if spawned.DataRevert, err = diff.Encode(revert); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}
		if err := adapter.Update(ctx, *cr.ObjectID, fields); err != nil {
			return nil, &ApplyError{Op: "update", Err: err}
		}

	case model.TypeDelete:
		// Inverse of DELETE recreates the entity from the snapshot. The
		// recreated entity gets a fresh id, bound to the spawned record.
		fields, err := diff.Decode(cr.DataRevert)
		if err != nil {
			return nil, &ApplyError{Op: "decode", Err: err}
		}
		id, err := adapter.Create(ctx, fields)
		if err != nil {
			return nil, &ApplyError{Op: "create", Err: err}
		}
		spawned.RequestType = model.TypeAdd
		spawned.ObjectID = &id
		spawned.ObjectStr = adapter.ObjectStr(fields)
		if spawned.DataChanged, err = diff.Encode(fields); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}

	case model.TypeRelated:
		related, err := e.registry.GetRelated(cr.ObjectType, cr.RelatedType)
		if err != nil {
			return nil, err
		}
		members, err := diff.DecodeMembers(cr.DataRevert)
		if err != nil {
			return nil, &ApplyError{Op: "decode", Err: err}
		}
		if _, err := adapter.CurrentState(ctx, *cr.ObjectID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, &RevertError{Reason: RevertTargetGone}
			}
			return nil, &ApplyError{Op: "read", Err: err}
		}
		current, err := related.RelatedMembers(ctx, *cr.ObjectID, cr.RelatedType)
		if err != nil {
			return nil, &ApplyError{Op: "read", Err: err}
		}
		inverse, err := diff.ComputeRelated(current, members, related.RelatedKey(cr.RelatedType))
		if err != nil {
			return nil, &ApplyError{Op: "diff", Err: err}
		}
		spawned.RequestType = model.TypeRelated
		spawned.RelatedType = cr.RelatedType
		if spawned.DataChanged, err = diff.EncodeRelated(inverse); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}
		if spawned.DataRevert, err = diff.EncodeMembers(current); err != nil {
			return nil, &ApplyError{Op: "encode", Err: err}
		}
		if err := related.SetRelated(ctx, *cr.ObjectID, cr.RelatedType, members); err != nil {
			return nil, &ApplyError{Op: "set related", Err: err}
		}

	default:
		return nil, validationErrorf("unknown request type %d", cr.RequestType)
	}

	return spawned, nil
}
