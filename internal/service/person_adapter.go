package service

import (
	"context"

	"changerequest/internal/model"
	"changerequest/internal/repository"
	"changerequest/pkg/diff"

	"github.com/google/uuid"
)

const ObjectTypePerson = "person"

var personFields = []diff.Field{
	{Name: "name", Kind: diff.KindString},
	{Name: "country", Kind: diff.KindString},
}

type personAdapter struct {
	persons repository.PersonRepository
}

func NewPersonAdapter(persons repository.PersonRepository) EntityAdapter {
	return &personAdapter{persons: persons}
}

func (a *personAdapter) ObjectType() string { return ObjectTypePerson }

func (a *personAdapter) Fields() []diff.Field { return personFields }

func (a *personAdapter) ObjectStr(state map[string]any) string {
	if name, ok := state["name"].(string); ok {
		return name
	}
	return ""
}

func (a *personAdapter) CurrentState(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	person, err := a.persons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"name":    person.Name,
		"country": person.Country,
	}, nil
}

func (a *personAdapter) Create(ctx context.Context, fields map[string]any) (uuid.UUID, error) {
	person := &model.Person{}
	if name, ok := fields["name"].(string); ok {
		person.Name = name
	}
	if country, ok := fields["country"].(string); ok {
		person.Country = country
	}
	if person.Name == "" {
		return uuid.Nil, validationErrorf("name is required")
	}
	if err := a.persons.Create(ctx, person); err != nil {
		return uuid.Nil, err
	}
	return person.ID, nil
}

func (a *personAdapter) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	columns := make(map[string]any, len(fields))
	for name, v := range fields {
		switch name {
		case "name", "country":
			s, ok := v.(string)
			if !ok {
				return validationErrorf("%s must be a string", name)
			}
			columns[name] = s
		default:
			return validationErrorf("unknown field %q", name)
		}
	}
	return a.persons.Update(ctx, id, columns)
}

func (a *personAdapter) Delete(ctx context.Context, id uuid.UUID) error {
	return a.persons.Delete(ctx, id)
}
