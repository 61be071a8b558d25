package repository

import (
	"context"

	"changerequest/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BookRepository is the entity store for books and their chapter collection.
type BookRepository interface {
	Create(ctx context.Context, book *model.Book) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Book, error)
	GetByIDWithChapters(ctx context.Context, id uuid.UUID) (*model.Book, error)
	List(ctx context.Context, page, limit int) ([]model.Book, int64, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error

	Chapters(ctx context.Context, bookID uuid.UUID) ([]model.BookChapter, error)
	CreateChapter(ctx context.Context, chapter *model.BookChapter) error
	UpdateChapter(ctx context.Context, id uuid.UUID, fields map[string]any) error
	DeleteChapter(ctx context.Context, id uuid.UUID) error
	DeleteChaptersByBook(ctx context.Context, bookID uuid.UUID) error
}

type bookRepository struct {
	db *gorm.DB
}

func NewBookRepository(db *gorm.DB) BookRepository {
	return &bookRepository{db: db}
}

func (r *bookRepository) Create(ctx context.Context, book *model.Book) error {
	return GetDB(ctx, r.db).Create(book).Error
}

func (r *bookRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := GetDB(ctx, r.db).First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) GetByIDWithChapters(ctx context.Context, id uuid.UUID) (*model.Book, error) {
	var book model.Book
	if err := GetDB(ctx, r.db).Preload("Author").
		Preload("Chapters", func(db *gorm.DB) *gorm.DB { return db.Order("number ASC") }).
		First(&book, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &book, nil
}

func (r *bookRepository) List(ctx context.Context, page, limit int) ([]model.Book, int64, error) {
	var books []model.Book
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Book{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("Author").Order("title ASC").
		Offset(offset).Limit(limit).Find(&books).Error; err != nil {
		return nil, 0, err
	}
	return books, total, nil
}

func (r *bookRepository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return GetDB(ctx, r.db).Model(&model.Book{}).Where("id = ?", id).Updates(fields).Error
}

func (r *bookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.Book{}).Error
}

func (r *bookRepository) Chapters(ctx context.Context, bookID uuid.UUID) ([]model.BookChapter, error) {
	var chapters []model.BookChapter
	err := GetDB(ctx, r.db).Where("book_id = ?", bookID).Order("number ASC").Find(&chapters).Error
	return chapters, err
}

func (r *bookRepository) CreateChapter(ctx context.Context, chapter *model.BookChapter) error {
	return GetDB(ctx, r.db).Create(chapter).Error
}

func (r *bookRepository) UpdateChapter(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return GetDB(ctx, r.db).Model(&model.BookChapter{}).Where("id = ?", id).Updates(fields).Error
}

func (r *bookRepository) DeleteChapter(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Where("id = ?", id).Delete(&model.BookChapter{}).Error
}

func (r *bookRepository) DeleteChaptersByBook(ctx context.Context, bookID uuid.UUID) error {
	return GetDB(ctx, r.db).Where("book_id = ?", bookID).Delete(&model.BookChapter{}).Error
}
