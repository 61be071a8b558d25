package service

import (
	"context"
	"fmt"

	"changerequest/pkg/diff"

	"github.com/google/uuid"
)

// EntityAdapter makes one entity type trackable by the change request
// engine. The engine is generic over this interface; it never touches entity
// structs directly. State maps hold canonical diff values only.
type EntityAdapter interface {
	ObjectType() string
	// Fields declares the mutable field set; validated once at registration.
	Fields() []diff.Field
	// ObjectStr renders the display label snapshot from a state map.
	ObjectStr(state map[string]any) string
	// CurrentState returns the entity snapshot, or gorm.ErrRecordNotFound.
	CurrentState(ctx context.Context, id uuid.UUID) (map[string]any, error)
	Create(ctx context.Context, fields map[string]any) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, fields map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RelatedEntityAdapter extends EntityAdapter for entity types with related
// collections edited through RELATED change requests.
type RelatedEntityAdapter interface {
	EntityAdapter
	RelatedTypes() []string
	RelatedKey(relatedType string) string
	RelatedFields(relatedType string) []diff.Field
	RelatedMembers(ctx context.Context, id uuid.UUID, relatedType string) ([]map[string]any, error)
	ApplyRelated(ctx context.Context, id uuid.UUID, relatedType string, d diff.RelatedDiff) error
	// SetRelated replaces the whole collection, used when reverting.
	SetRelated(ctx context.Context, id uuid.UUID, relatedType string, members []map[string]any) error
}

// Registry holds the adapters for every tracked entity type. Registration
// validates declared field kinds so unsupported configurations fail at
// setup, never per request.
type Registry struct {
	adapters map[string]EntityAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]EntityAdapter)}
}

func (r *Registry) Register(a EntityAdapter) error {
	objectType := a.ObjectType()
	if objectType == "" {
		return fmt.Errorf("adapter with empty object type")
	}
	if _, exists := r.adapters[objectType]; exists {
		return fmt.Errorf("adapter for %q already registered", objectType)
	}
	if err := diff.ValidateFields(a.Fields()); err != nil {
		return fmt.Errorf("adapter %q: %w", objectType, err)
	}
	if ra, ok := a.(RelatedEntityAdapter); ok {
		for _, rt := range ra.RelatedTypes() {
			if ra.RelatedKey(rt) == "" {
				return fmt.Errorf("adapter %q: related type %q has no key field", objectType, rt)
			}
			if err := diff.ValidateFields(ra.RelatedFields(rt)); err != nil {
				return fmt.Errorf("adapter %q related %q: %w", objectType, rt, err)
			}
		}
	}
	r.adapters[objectType] = a
	return nil
}

// MustRegister panics on registration errors; misdeclared adapters are
// programming errors caught at startup.
func (r *Registry) MustRegister(a EntityAdapter) {
	if err := r.Register(a); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(objectType string) (EntityAdapter, error) {
	a, ok := r.adapters[objectType]
	if !ok {
		return nil, validationErrorf("unknown object type %q", objectType)
	}
	return a, nil
}

func (r *Registry) GetRelated(objectType, relatedType string) (RelatedEntityAdapter, error) {
	a, err := r.Get(objectType)
	if err != nil {
		return nil, err
	}
	ra, ok := a.(RelatedEntityAdapter)
	if !ok {
		return nil, validationErrorf("object type %q has no related collections", objectType)
	}
	for _, rt := range ra.RelatedTypes() {
		if rt == relatedType {
			return ra, nil
		}
	}
	return nil, validationErrorf("object type %q has no related type %q", objectType, relatedType)
}

func fieldNames(fields []diff.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
