package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"changerequest/internal/model"
	"changerequest/internal/repository"
	"changerequest/pkg/diff"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Capability is what the engine needs to know about an actor: may they
// moderate, and do their own edits skip moderation.
type Capability struct {
	Moderator   bool
	AutoApprove bool
}

// CapabilityResolver answers the "is this actor authorized" question. The
// engine never inspects roles itself.
type CapabilityResolver interface {
	Resolve(ctx context.Context, actorID uuid.UUID) (Capability, error)
}

type roleCapabilityResolver struct {
	users repository.UserRepository
}

// NewRoleCapabilityResolver maps stored user roles onto engine capabilities.
func NewRoleCapabilityResolver(users repository.UserRepository) CapabilityResolver {
	return &roleCapabilityResolver{users: users}
}

func (r *roleCapabilityResolver) Resolve(ctx context.Context, actorID uuid.UUID) (Capability, error) {
	user, err := r.users.GetByID(ctx, actorID)
	if err != nil {
		return Capability{}, err
	}
	switch user.Role {
	case model.RoleAdmin:
		return Capability{Moderator: true, AutoApprove: true}, nil
	case model.RoleModerator:
		return Capability{Moderator: true}, nil
	default:
		return Capability{}, nil
	}
}

// Action is a workflow transition requested on an existing change request.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionDeny     Action = "deny"
	ActionWithdraw Action = "withdraw"
	ActionRevert   Action = "revert"
)

func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionApprove, ActionDeny, ActionWithdraw, ActionRevert:
		return Action(s), true
	}
	return "", false
}

// SubmitRequest describes one proposed mutation.
type SubmitRequest struct {
	ObjectType  string
	ObjectID    *uuid.UUID       // nil means ADD
	Delete      bool             // DELETE of ObjectID
	RelatedType string           // non-empty means RELATED
	Fields      map[string]any   // proposed scalar values (ADD/MODIFY)
	Members     []map[string]any // proposed related members (RELATED)
	Comment     string
	ActorID     uuid.UUID
	ActorIP     string
}

type HistoryService interface {
	Submit(ctx context.Context, req SubmitRequest) (*model.ChangeRequest, error)
	Transition(ctx context.Context, id uuid.UUID, action Action, actorID uuid.UUID, actorIP, comment string) (*model.ChangeRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
	List(ctx context.Context, filter repository.HistoryFilter) ([]model.ChangeRequest, int64, error)
	ObjectHistory(ctx context.Context, objectType string, objectID uuid.UUID, page, limit int) ([]model.ChangeRequest, int64, error)
}

type historyService struct {
	repo     repository.ChangeRequestRepository
	txm      repository.TransactionManager
	registry *Registry
	caps     CapabilityResolver
	limiter  *RateLimiter
	engine   *applyEngine
	hub      interface{ GetBroadcast() chan []byte } // optional websocket hub
}

func NewHistoryService(
	repo repository.ChangeRequestRepository,
	txm repository.TransactionManager,
	registry *Registry,
	caps CapabilityResolver,
	limiter *RateLimiter,
	hub interface{ GetBroadcast() chan []byte },
) HistoryService {
	return &historyService{
		repo:     repo,
		txm:      txm,
		registry: registry,
		caps:     caps,
		limiter:  limiter,
		engine:   &applyEngine{registry: registry},
		hub:      hub,
	}
}

func (s *historyService) Submit(ctx context.Context, req SubmitRequest) (*model.ChangeRequest, error) {
	cr, err := s.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	cap, err := s.caps.Resolve(ctx, req.ActorID)
	if err != nil {
		return nil, validationErrorf("unknown actor: %v", err)
	}

	// Check-and-reserve: the actor lock is held across the pending count and
	// the record creation so concurrent submissions cannot over-admit.
	release := s.limiter.Acquire(req.ActorID)
	defer release()

	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.LockActor(txCtx, req.ActorID); err != nil {
			return err
		}
		if err := s.limiter.Check(txCtx, req.ActorID, cap.AutoApprove); err != nil {
			return err
		}
		if cr.ObjectID != nil {
			// One request in flight per target: two approvals must never
			// double-apply conflicting diffs. The target lock serializes this
			// check across actors; the actor lock alone does not.
			if err := s.repo.LockTarget(txCtx, cr.ObjectType, *cr.ObjectID); err != nil {
				return err
			}
			inFlight, err := s.repo.CountInFlight(txCtx, cr.ObjectType, *cr.ObjectID)
			if err != nil {
				return err
			}
			if inFlight > 0 {
				return validationErrorf("a pending change request already exists for %s",
					model.FormatObjectStr(cr.ObjectType, cr.ObjectStr, cr.ObjectID))
			}
		}
		if err := s.fillDiff(txCtx, cr, req); err != nil {
			return err
		}

		if cap.AutoApprove {
			cr.Status = model.StatusApproved
			cr.ModID = &req.ActorID
			cr.ModIP = req.ActorIP
			if err := s.engine.Apply(txCtx, cr); err != nil {
				return err
			}
		}
		return s.repo.Create(txCtx, cr)
	})
	if err != nil {
		return nil, err
	}

	s.log(cr, cr.RequestType.String())
	s.broadcast("submitted", cr)

	return s.reload(ctx, cr.ID)
}

// buildRequest validates the submission shape against the registered adapter
// and normalizes all values. Everything here fails before any record exists.
func (s *historyService) buildRequest(ctx context.Context, req SubmitRequest) (*model.ChangeRequest, error) {
	cr := &model.ChangeRequest{
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		Status:     model.StatusPending,
		Comment:    req.Comment,
		UserID:     req.ActorID,
		UserIP:     req.ActorIP,
	}

	switch {
	case req.RelatedType != "":
		if req.ObjectID == nil {
			return nil, validationErrorf("related changes require an existing object")
		}
		related, err := s.registry.GetRelated(req.ObjectType, req.RelatedType)
		if err != nil {
			return nil, err
		}
		declared := related.RelatedFields(req.RelatedType)
		for i, member := range req.Members {
			normalized, err := diff.NormalizeAll(member, declared)
			if err != nil {
				return nil, validationErrorf("member %d: %v", i, err)
			}
			req.Members[i] = normalized
		}
		cr.RequestType = model.TypeRelated
		cr.RelatedType = req.RelatedType

	case req.Delete:
		if req.ObjectID == nil {
			return nil, validationErrorf("delete requires an existing object")
		}
		if _, err := s.registry.Get(req.ObjectType); err != nil {
			return nil, err
		}
		cr.RequestType = model.TypeDelete

	default:
		adapter, err := s.registry.Get(req.ObjectType)
		if err != nil {
			return nil, err
		}
		if len(req.Fields) == 0 {
			return nil, validationErrorf("no fields submitted")
		}
		normalized, err := diff.NormalizeAll(req.Fields, adapter.Fields())
		if err != nil {
			return nil, &ValidationError{Msg: err.Error()}
		}
		req.Fields = normalized
		if req.ObjectID == nil {
			cr.RequestType = model.TypeAdd
		} else {
			cr.RequestType = model.TypeModify
		}
	}
	return cr, nil
}

// fillDiff reads the target's current state and stores the diff payloads.
// Runs inside the submission transaction.
func (s *historyService) fillDiff(ctx context.Context, cr *model.ChangeRequest, req SubmitRequest) error {
	adapter, err := s.registry.Get(cr.ObjectType)
	if err != nil {
		return err
	}

	switch cr.RequestType {
	case model.TypeAdd:
		changed, _ := diff.Compute(nil, req.Fields, fieldNames(adapter.Fields()))
		if cr.DataChanged, err = diff.Encode(changed); err != nil {
			return err
		}
		cr.ObjectStr = adapter.ObjectStr(changed)
		return nil

	case model.TypeModify:
		prior, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErrorf("%s not found", cr.ObjectType)
			}
			return err
		}
		changed, revert := diff.Compute(prior, req.Fields, fieldNames(adapter.Fields()))
		if len(changed) == 0 {
			// Duplicate suppression: a request that changes nothing is never
			// recorded.
			return validationErrorf("no changes detected")
		}
		if cr.DataChanged, err = diff.Encode(changed); err != nil {
			return err
		}
		if cr.DataRevert, err = diff.Encode(revert); err != nil {
			return err
		}
		cr.ObjectStr = adapter.ObjectStr(prior)
		return nil

	case model.TypeDelete:
		prior, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErrorf("%s not found", cr.ObjectType)
			}
			return err
		}
		_, revert := diff.Compute(prior, nil, fieldNames(adapter.Fields()))
		if cr.DataRevert, err = diff.Encode(revert); err != nil {
			return err
		}
		cr.ObjectStr = adapter.ObjectStr(prior)
		return nil

	case model.TypeRelated:
		related, _ := s.registry.GetRelated(cr.ObjectType, cr.RelatedType)
		state, err := adapter.CurrentState(ctx, *cr.ObjectID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return validationErrorf("%s not found", cr.ObjectType)
			}
			return err
		}
		prior, err := related.RelatedMembers(ctx, *cr.ObjectID, cr.RelatedType)
		if err != nil {
			return err
		}
		d, err := diff.ComputeRelated(prior, req.Members, related.RelatedKey(cr.RelatedType))
		if err != nil {
			return &ValidationError{Msg: err.Error()}
		}
		if d.Empty() {
			return validationErrorf("no changes detected")
		}
		if cr.DataChanged, err = diff.EncodeRelated(d); err != nil {
			return err
		}
		if cr.DataRevert, err = diff.EncodeMembers(prior); err != nil {
			return err
		}
		cr.ObjectStr = adapter.ObjectStr(state)
		return nil
	}
	return validationErrorf("unknown request type %d", cr.RequestType)
}

func (s *historyService) Transition(ctx context.Context, id uuid.UUID, action Action, actorID uuid.UUID, actorIP, comment string) (*model.ChangeRequest, error) {
	cap, err := s.caps.Resolve(ctx, actorID)
	if err != nil {
		return nil, validationErrorf("unknown actor: %v", err)
	}

	var result *model.ChangeRequest
	err = s.txm.RunInTx(ctx, func(txCtx context.Context) error {
		cr, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			return err
		}

		updates := map[string]any{
			"mod_id": actorID,
			"mod_ip": actorIP,
		}
		if comment != "" {
			updates["comment"] = comment
		}

		switch action {
		case ActionApprove:
			if !cap.Moderator || cr.Status != model.StatusPending {
				return ErrInvalidTransition
			}
			ok, err := s.repo.UpdateStatusCAS(txCtx, cr.ID, model.StatusPending, model.StatusApproved, updates)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidTransition
			}
			cr.Status = model.StatusApproved
			cr.ModID = &actorID
			cr.ModIP = actorIP
			if comment != "" {
				cr.Comment = comment
			}
			if err := s.engine.Apply(txCtx, cr); err != nil {
				return err
			}
			// Persist what Apply filled in: revert snapshot, and for ADD the
			// freshly bound object id and label.
			if err := s.repo.Save(txCtx, cr); err != nil {
				return err
			}

		case ActionDeny:
			if !cap.Moderator || cr.Status != model.StatusPending {
				return ErrInvalidTransition
			}
			ok, err := s.repo.UpdateStatusCAS(txCtx, cr.ID, model.StatusPending, model.StatusDenied, updates)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidTransition
			}

		case ActionWithdraw:
			// Only the original submitter may withdraw.
			if actorID != cr.UserID || cr.Status != model.StatusPending {
				return ErrInvalidTransition
			}
			delete(updates, "mod_id")
			delete(updates, "mod_ip")
			ok, err := s.repo.UpdateStatusCAS(txCtx, cr.ID, model.StatusPending, model.StatusWithdrawn, updates)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidTransition
			}

		case ActionRevert:
			if !cap.Moderator {
				return ErrInvalidTransition
			}
			if cr.Status == model.StatusReverted || cr.RevertedByID != nil {
				return &RevertError{Reason: RevertAlreadyReverted}
			}
			if cr.Status != model.StatusApproved {
				return ErrInvalidTransition
			}
			spawned, err := s.engine.Revert(txCtx, cr, actorID, actorIP)
			if err != nil {
				return err
			}
			if err := s.repo.Create(txCtx, spawned); err != nil {
				return err
			}
			updates["reverted_by_id"] = spawned.ID
			ok, err := s.repo.UpdateStatusCAS(txCtx, cr.ID, model.StatusApproved, model.StatusReverted, updates)
			if err != nil {
				return err
			}
			if !ok {
				return ErrInvalidTransition
			}
			s.log(spawned, "Revert")

		default:
			return ErrInvalidTransition
		}

		result = cr
		return nil
	})
	if err != nil {
		return nil, err
	}

	reloaded, err := s.reload(ctx, result.ID)
	if err != nil {
		return nil, err
	}
	s.log(reloaded, string(action))
	s.broadcast(string(action), reloaded)
	return reloaded, nil
}

func (s *historyService) Get(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return s.repo.GetByIDWithUsers(ctx, id)
}

func (s *historyService) List(ctx context.Context, filter repository.HistoryFilter) ([]model.ChangeRequest, int64, error) {
	return s.repo.List(ctx, filter)
}

func (s *historyService) ObjectHistory(ctx context.Context, objectType string, objectID uuid.UUID, page, limit int) ([]model.ChangeRequest, int64, error) {
	return s.repo.List(ctx, repository.HistoryFilter{
		ObjectType: objectType,
		ObjectID:   &objectID,
		Page:       page,
		Limit:      limit,
	})
}

func (s *historyService) reload(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return s.repo.GetByIDWithUsers(ctx, id)
}

func (s *historyService) log(cr *model.ChangeRequest, action string) {
	fields := logrus.Fields{
		"action": action,
		"status": cr.Status.String(),
		"object": cr.String(),
		"user":   cr.UserID,
	}
	if cr.ModID != nil {
		fields["mod"] = *cr.ModID
	}
	logrus.WithFields(fields).Info("change request")
}

type changeEvent struct {
	Event      string    `json:"event"`
	ID         uuid.UUID `json:"id"`
	ObjectType string    `json:"object_type"`
	ObjectStr  string    `json:"object_str"`
	Status     string    `json:"status"`
	Time       time.Time `json:"time"`
}

func (s *historyService) broadcast(event string, cr *model.ChangeRequest) {
	if s.hub == nil {
		return
	}
	payload, err := json.Marshal(changeEvent{
		Event:      event,
		ID:         cr.ID,
		ObjectType: cr.ObjectType,
		ObjectStr:  cr.ObjectStr,
		Status:     cr.Status.String(),
		Time:       time.Now(),
	})
	if err != nil {
		return
	}
	select {
	case s.hub.GetBroadcast() <- payload:
	default: // never block an action on slow websocket consumers
	}
}
