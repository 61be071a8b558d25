package repository

import (
	"context"
	"strings"
	"time"

	"changerequest/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryFilter narrows and orders change request listings.
type HistoryFilter struct {
	ObjectType string
	ObjectID   *uuid.UUID
	Status     *model.Status
	Username   string // substring match on the submitting user
	OrderAsc   bool   // default newest first
	Page       int
	Limit      int
}

type ChangeRequestRepository interface {
	Create(ctx context.Context, cr *model.ChangeRequest) error
	Save(ctx context.Context, cr *model.ChangeRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
	GetByIDWithUsers(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
	List(ctx context.Context, filter HistoryFilter) ([]model.ChangeRequest, int64, error)
	CountPending(ctx context.Context, userID uuid.UUID) (int64, error)
	CountCreatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error)
	CountInFlight(ctx context.Context, objectType string, objectID uuid.UUID) (int64, error)
	// UpdateStatusCAS flips status only when the current value still matches
	// from, returning false when a concurrent transition won. The updates map
	// carries mod_id, mod_ip and any other columns set atomically with the flip.
	UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to model.Status, updates map[string]any) (bool, error)
	// LockActor serializes submissions per actor across processes. No-op on
	// dialects without advisory locks; in-process serialization still applies.
	LockActor(ctx context.Context, actorID uuid.UUID) error
	// LockTarget serializes submissions per target entity across processes.
	// The actor lock alone cannot guard the one-in-flight-per-target check:
	// two different actors hold different actor locks and neither sees the
	// other's uncommitted record. No-op on dialects without advisory locks;
	// the partial unique index on (object_type, object_id) backstops those.
	LockTarget(ctx context.Context, objectType string, objectID uuid.UUID) error
}

type changeRequestRepository struct {
	db *gorm.DB
}

func NewChangeRequestRepository(db *gorm.DB) ChangeRequestRepository {
	return &changeRequestRepository{db: db}
}

func (r *changeRequestRepository) Create(ctx context.Context, cr *model.ChangeRequest) error {
	return GetDB(ctx, r.db).Create(cr).Error
}

func (r *changeRequestRepository) Save(ctx context.Context, cr *model.ChangeRequest) error {
	return GetDB(ctx, r.db).Save(cr).Error
}

func (r *changeRequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	if err := GetDB(ctx, r.db).First(&cr, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *changeRequestRepository) GetByIDWithUsers(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	if err := GetDB(ctx, r.db).Preload("User").Preload("Mod").First(&cr, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &cr, nil
}

func (r *changeRequestRepository) List(ctx context.Context, filter HistoryFilter) ([]model.ChangeRequest, int64, error) {
	db := GetDB(ctx, r.db)

	base := db.Model(&model.ChangeRequest{})
	base = applyHistoryFilter(base, filter)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "date_modified DESC, date_created DESC"
	if filter.OrderAsc {
		order = "date_modified ASC, date_created ASC"
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 25
	}
	offset := (filter.Page - 1) * filter.Limit

	var records []model.ChangeRequest
	query := applyHistoryFilter(db.Model(&model.ChangeRequest{}), filter).
		Preload("User").Preload("Mod").
		Order(order).Offset(offset).Limit(filter.Limit)
	if err := query.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func applyHistoryFilter(db *gorm.DB, filter HistoryFilter) *gorm.DB {
	if filter.ObjectType != "" {
		db = db.Where("object_type = ?", filter.ObjectType)
	}
	if filter.ObjectID != nil {
		db = db.Where("object_id = ?", *filter.ObjectID)
	}
	if filter.Status != nil {
		db = db.Where("status = ?", *filter.Status)
	}
	if filter.Username != "" {
		// LOWER(...) LIKE instead of ILIKE so the match parses on every dialect.
		db = db.Where("user_id IN (?)",
			db.Session(&gorm.Session{NewDB: true}).Model(&model.User{}).
				Select("id").Where("LOWER(username) LIKE ?", "%"+strings.ToLower(filter.Username)+"%"))
	}
	return db
}

func (r *changeRequestRepository) CountPending(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ChangeRequest{}).
		Where("user_id = ? AND status = ?", userID, model.StatusPending).
		Count(&count).Error
	return count, err
}

func (r *changeRequestRepository) CountCreatedSince(ctx context.Context, userID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ChangeRequest{}).
		Where("user_id = ? AND date_created >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *changeRequestRepository) CountInFlight(ctx context.Context, objectType string, objectID uuid.UUID) (int64, error) {
	var count int64
	err := GetDB(ctx, r.db).Model(&model.ChangeRequest{}).
		Where("object_type = ? AND object_id = ? AND status = ?", objectType, objectID, model.StatusPending).
		Count(&count).Error
	return count, err
}

func (r *changeRequestRepository) UpdateStatusCAS(ctx context.Context, id uuid.UUID, from, to model.Status, updates map[string]any) (bool, error) {
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	updates["date_modified"] = time.Now()
	res := GetDB(ctx, r.db).Model(&model.ChangeRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *changeRequestRepository) LockActor(ctx context.Context, actorID uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	// Transaction-scoped advisory lock keyed by actor; released on commit/rollback.
	return db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", actorID.String()).Error
}

func (r *changeRequestRepository) LockTarget(ctx context.Context, objectType string, objectID uuid.UUID) error {
	db := GetDB(ctx, r.db)
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	// Always taken after the actor lock, never the other way round, so the
	// two lock classes cannot deadlock.
	return db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", objectType+":"+objectID.String()).Error
}
