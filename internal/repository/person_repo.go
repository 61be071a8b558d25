package repository

import (
	"context"

	"changerequest/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PersonRepository is the entity store for persons.
type PersonRepository interface {
	Create(ctx context.Context, person *model.Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Person, error)
	List(ctx context.Context, page, limit int) ([]model.Person, int64, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type personRepository struct {
	db *gorm.DB
}

func NewPersonRepository(db *gorm.DB) PersonRepository {
	return &personRepository{db: db}
}

func (r *personRepository) Create(ctx context.Context, person *model.Person) error {
	return GetDB(ctx, r.db).Create(person).Error
}

func (r *personRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Person, error) {
	var person model.Person
	if err := GetDB(ctx, r.db).First(&person, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &person, nil
}

func (r *personRepository) List(ctx context.Context, page, limit int) ([]model.Person, int64, error) {
	var persons []model.Person
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Person{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Order("name ASC").Offset(offset).Limit(limit).Find(&persons).Error; err != nil {
		return nil, 0, err
	}
	return persons, total, nil
}

func (r *personRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return GetDB(ctx, r.db).Model(&model.Person{}).Where("id = ?", id).Updates(fields).Error
}

func (r *personRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Person{}).Error
}
