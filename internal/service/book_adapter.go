package service

import (
	"context"
	"time"

	"changerequest/internal/model"
	"changerequest/internal/repository"
	"changerequest/pkg/diff"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ObjectTypeBook     = "book"
	RelatedTypeChapter = "chapter"
)

var bookFields = []diff.Field{
	{Name: "title", Kind: diff.KindString},
	{Name: "synopsis", Kind: diff.KindString},
	{Name: "author_id", Kind: diff.KindRef},
	{Name: "price", Kind: diff.KindDecimal},
	{Name: "pages", Kind: diff.KindInt},
	{Name: "in_print", Kind: diff.KindBool},
	{Name: "published", Kind: diff.KindDate},
}

var chapterFields = []diff.Field{
	{Name: "id", Kind: diff.KindRef},
	{Name: "number", Kind: diff.KindInt},
	{Name: "title", Kind: diff.KindString},
}

// bookAdapter makes Book (and its chapter collection) trackable.
type bookAdapter struct {
	books repository.BookRepository
}

func NewBookAdapter(books repository.BookRepository) RelatedEntityAdapter {
	return &bookAdapter{books: books}
}

func (a *bookAdapter) ObjectType() string { return ObjectTypeBook }

func (a *bookAdapter) Fields() []diff.Field { return bookFields }

func (a *bookAdapter) ObjectStr(state map[string]any) string {
	if title, ok := state["title"].(string); ok {
		return title
	}
	return ""
}

func (a *bookAdapter) CurrentState(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	book, err := a.books.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":     book.Title,
		"synopsis":  book.Synopsis,
		"author_id": book.AuthorID.String(),
		"price":     book.Price.String(),
		"pages":     float64(book.Pages),
		"in_print":  book.InPrint,
		"published": book.Published.Format("2006-01-02"),
	}, nil
}

func (a *bookAdapter) Create(ctx context.Context, fields map[string]any) (uuid.UUID, error) {
	book := &model.Book{}
	if err := a.assign(book, fields); err != nil {
		return uuid.Nil, err
	}
	if book.Title == "" {
		return uuid.Nil, validationErrorf("title is required")
	}
	if book.AuthorID == uuid.Nil {
		return uuid.Nil, validationErrorf("author_id is required")
	}
	if err := a.books.Create(ctx, book); err != nil {
		return uuid.Nil, err
	}
	return book.ID, nil
}

func (a *bookAdapter) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	columns, err := a.columns(fields)
	if err != nil {
		return err
	}
	return a.books.Update(ctx, id, columns)
}

func (a *bookAdapter) Delete(ctx context.Context, id uuid.UUID) error {
	if err := a.books.DeleteChaptersByBook(ctx, id); err != nil {
		return err
	}
	return a.books.Delete(ctx, id)
}

// assign decodes canonical values onto a Book for creation.
func (a *bookAdapter) assign(book *model.Book, fields map[string]any) error {
	columns, err := a.columns(fields)
	if err != nil {
		return err
	}
	for name, v := range columns {
		switch name {
		case "title":
			book.Title = v.(string)
		case "synopsis":
			book.Synopsis = v.(string)
		case "author_id":
			book.AuthorID = v.(uuid.UUID)
		case "price":
			book.Price = v.(decimal.Decimal)
		case "pages":
			book.Pages = v.(int)
		case "in_print":
			book.InPrint = v.(bool)
		case "published":
			book.Published = v.(time.Time)
		}
	}
	return nil
}

// columns converts canonical wire values into storage values.
func (a *bookAdapter) columns(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		switch name {
		case "title", "synopsis":
			s, ok := v.(string)
			if !ok {
				return nil, validationErrorf("%s must be a string", name)
			}
			out[name] = s
		case "author_id":
			s, ok := v.(string)
			if !ok {
				return nil, validationErrorf("author_id must be an id")
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, validationErrorf("author_id: %v", err)
			}
			out[name] = id
		case "price":
			s, ok := v.(string)
			if !ok {
				return nil, validationErrorf("price must be a decimal string")
			}
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, validationErrorf("price: %v", err)
			}
			out[name] = d
		case "pages":
			n, ok := v.(float64)
			if !ok {
				return nil, validationErrorf("pages must be a number")
			}
			out[name] = int(n)
		case "in_print":
			b, ok := v.(bool)
			if !ok {
				return nil, validationErrorf("in_print must be a bool")
			}
			out[name] = b
		case "published":
			s, ok := v.(string)
			if !ok {
				return nil, validationErrorf("published must be a date string")
			}
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil, validationErrorf("published: %v", err)
			}
			out[name] = t
		default:
			return nil, validationErrorf("unknown field %q", name)
		}
	}
	return out, nil
}

func (a *bookAdapter) RelatedTypes() []string { return []string{RelatedTypeChapter} }

func (a *bookAdapter) RelatedKey(relatedType string) string { return "id" }

func (a *bookAdapter) RelatedFields(relatedType string) []diff.Field { return chapterFields }

func (a *bookAdapter) RelatedMembers(ctx context.Context, id uuid.UUID, relatedType string) ([]map[string]any, error) {
	chapters, err := a.books.Chapters(ctx, id)
	if err != nil {
		return nil, err
	}
	members := make([]map[string]any, 0, len(chapters))
	for _, c := range chapters {
		members = append(members, map[string]any{
			"id":     c.ID.String(),
			"number": float64(c.Number),
			"title":  c.Title,
		})
	}
	return members, nil
}

func (a *bookAdapter) ApplyRelated(ctx context.Context, id uuid.UUID, relatedType string, d diff.RelatedDiff) error {
	for _, attrs := range d.Added {
		chapter, err := chapterFromAttrs(id, attrs)
		if err != nil {
			return err
		}
		if err := a.books.CreateChapter(ctx, chapter); err != nil {
			return err
		}
	}
	for key, attrs := range d.Modified {
		chapterID, err := uuid.Parse(key)
		if err != nil {
			return validationErrorf("chapter key %q: %v", key, err)
		}
		columns := make(map[string]any, len(attrs))
		for name, v := range attrs {
			switch name {
			case "number":
				n, ok := v.(float64)
				if !ok {
					return validationErrorf("chapter number must be a number")
				}
				columns["number"] = int(n)
			case "title":
				s, ok := v.(string)
				if !ok {
					return validationErrorf("chapter title must be a string")
				}
				columns["title"] = s
			}
		}
		if err := a.books.UpdateChapter(ctx, chapterID, columns); err != nil {
			return err
		}
	}
	for key := range d.Deleted {
		chapterID, err := uuid.Parse(key)
		if err != nil {
			return validationErrorf("chapter key %q: %v", key, err)
		}
		if err := a.books.DeleteChapter(ctx, chapterID); err != nil {
			return err
		}
	}
	return nil
}

func (a *bookAdapter) SetRelated(ctx context.Context, id uuid.UUID, relatedType string, members []map[string]any) error {
	if err := a.books.DeleteChaptersByBook(ctx, id); err != nil {
		return err
	}
	for _, attrs := range members {
		chapter, err := chapterFromAttrs(id, attrs)
		if err != nil {
			return err
		}
		if err := a.books.CreateChapter(ctx, chapter); err != nil {
			return err
		}
	}
	return nil
}

func chapterFromAttrs(bookID uuid.UUID, attrs map[string]any) (*model.BookChapter, error) {
	chapter := &model.BookChapter{BookID: bookID}
	if raw, ok := attrs["id"].(string); ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, validationErrorf("chapter id: %v", err)
		}
		chapter.ID = id
	}
	n, ok := attrs["number"].(float64)
	if !ok {
		return nil, validationErrorf("chapter number is required")
	}
	chapter.Number = int(n)
	title, ok := attrs["title"].(string)
	if !ok || title == "" {
		return nil, validationErrorf("chapter title is required")
	}
	chapter.Title = title
	return chapter, nil
}
