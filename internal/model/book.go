package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Person is a tracked entity: every mutation goes through the change
// request engine.
type Person struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Country   string    `gorm:"type:varchar(100)" json:"country"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Person) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Book is a tracked entity with scalar fields covering every supported diff
// kind plus a related chapter collection.
type Book struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string          `gorm:"type:varchar(200);not null" json:"title"`
	Synopsis  string          `gorm:"type:text" json:"synopsis"`
	AuthorID  uuid.UUID       `gorm:"type:uuid;not null;index" json:"author_id"`
	Author    *Person         `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2)" json:"price"`
	Pages     int             `gorm:"not null;default:0" json:"pages"`
	InPrint   bool            `gorm:"not null;default:true" json:"in_print"`
	Published time.Time       `gorm:"type:date" json:"published"`
	Chapters  []BookChapter   `gorm:"foreignKey:BookID;constraint:OnDelete:CASCADE" json:"chapters,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Book) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// BookChapter is the related collection of Book, edited through RELATED
// change requests.
type BookChapter struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BookID    uuid.UUID `gorm:"type:uuid;not null;index" json:"book_id"`
	Number    int       `gorm:"not null" json:"number"`
	Title     string    `gorm:"type:varchar(200);not null" json:"title"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *BookChapter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
