package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// VersionSentinel is the reserved "zero" version token meaning no prior
// revision exists. A previous_version equal to it marks the entity's first
// write.
var VersionSentinel = uuid.MustParse("00000000-0000-4000-8000-000000000000")

var log = zap.NewNop()

// SetLogger replaces the package logger. The default discards everything.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// Entity is one versioned record: the Big-Six control fields, the declared
// user fields, and an optional extension bag. An entity is either full or
// partial; a partial entity is a foreign-key stub exposing only entity_id.
type Entity struct {
	schema  *Schema
	partial bool
	values  map[string]any
	extra   map[string]any
}

// New constructs a full entity. Unset fields take type-appropriate defaults:
// a fresh entity_id, the sentinel version, active true and changed_on now.
// A many-to-many field left out (or set to nil) stays unloaded.
func New(schema *Schema, values map[string]any) (*Entity, error) {
	e := &Entity{
		schema: schema,
		values: make(map[string]any, len(schema.fields)),
		extra:  make(map[string]any),
	}
	for name, v := range values {
		d, ok := schema.Descriptor(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, schema.Name(), name)
		}
		if d.Computed {
			// derived fields have no independent storage
			continue
		}
		if d.Kind == KindM2M && v == nil {
			continue
		}
		e.values[name] = v
	}
	e.applyDefaults()
	return e, nil
}

// MustNew constructs a full entity and panics on undeclared fields.
func MustNew(schema *Schema, values map[string]any) *Entity {
	e, err := New(schema, values)
	if err != nil {
		panic(err)
	}
	return e
}

// NewPartial constructs a foreign-key stub. Only entity_id is available;
// every other access fails with NotLoadedError.
func NewPartial(schema *Schema, id uuid.UUID) *Entity {
	return &Entity{
		schema:  schema,
		partial: true,
		values:  map[string]any{FieldEntityID: id},
		extra:   make(map[string]any),
	}
}

func (e *Entity) applyDefaults() {
	if _, ok := e.values[FieldEntityID]; !ok {
		e.values[FieldEntityID] = uuid.New()
	}
	if _, ok := e.values[FieldVersion]; !ok {
		e.values[FieldVersion] = VersionSentinel
	}
	if _, ok := e.values[FieldPreviousVersion]; !ok {
		e.values[FieldPreviousVersion] = VersionSentinel
	}
	if _, ok := e.values[FieldActive]; !ok {
		e.values[FieldActive] = true
	}
	if _, ok := e.values[FieldChangedBy]; !ok {
		e.values[FieldChangedBy] = uuid.Nil
	}
	if _, ok := e.values[FieldChangedOn]; !ok {
		e.values[FieldChangedOn] = time.Now().UTC()
	}
}

// Schema returns the entity's schema.
func (e *Entity) Schema() *Schema { return e.schema }

// IsPartial reports whether this entity is a foreign-key stub.
func (e *Entity) IsPartial() bool { return e.partial }

// FieldNames lists the declared fields. The extension bag key is never
// included.
func (e *Entity) FieldNames() []string { return e.schema.FieldNames() }

// Get returns a declared field's value. On a partial entity every field but
// entity_id fails with NotLoadedError, as does an unloaded many-to-many
// collection. Computed fields are derived on access.
func (e *Entity) Get(name string) (any, error) {
	d, ok := e.schema.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, e.schema.Name(), name)
	}
	if e.partial && name != FieldEntityID {
		return nil, &NotLoadedError{Entity: e.schema.Name(), Field: name, Partial: true}
	}
	if d.Computed {
		fn := e.schema.compute[name]
		if fn == nil {
			return nil, nil
		}
		return fn(e), nil
	}
	v, present := e.values[name]
	if d.Kind == KindM2M && !present {
		return nil, &NotLoadedError{Entity: e.schema.Name(), Field: name}
	}
	return v, nil
}

// MustGet returns a field value and panics on access errors.
func (e *Entity) MustGet(name string) any {
	v, err := e.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

// Set assigns a declared field. Setting a computed field is a no-op so that
// round-tripped wire data never corrupts state. entity_id is immutable once
// assigned.
func (e *Entity) Set(name string, value any) error {
	d, ok := e.schema.Descriptor(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, e.schema.Name(), name)
	}
	if d.Computed {
		return nil
	}
	if e.partial && name != FieldEntityID {
		return &NotLoadedError{Entity: e.schema.Name(), Field: name, Partial: true}
	}
	// a nil relation set would mark the field loaded without giving it a
	// value, so reads after it would stop reporting NotLoadedError
	if d.Kind == KindM2M && value == nil {
		return nil
	}
	if name == FieldEntityID {
		if cur := e.EntityID(); cur != uuid.Nil {
			if next, ok := CoerceUUID(value); !ok || next != cur {
				return fmt.Errorf("%w: %s", ErrImmutableID, e.schema.Name())
			}
			return nil
		}
	}
	e.values[name] = value
	return nil
}

// Extra returns a copy of the extension bag.
func (e *Entity) Extra() map[string]any {
	out := make(map[string]any, len(e.extra))
	for k, v := range e.extra {
		out[k] = v
	}
	return out
}

// SetExtra stores an undeclared key in the extension bag. It fails when the
// entity type does not opt into the bag.
func (e *Entity) SetExtra(key string, value any) error {
	if !e.schema.allowExtra {
		return fmt.Errorf("schema %s does not allow extra fields", e.schema.Name())
	}
	if _, declared := e.schema.index[key]; declared {
		return e.Set(key, value)
	}
	e.extra[key] = value
	return nil
}

func (e *Entity) uuidField(name string) uuid.UUID {
	v, ok := e.values[name]
	if !ok {
		return uuid.Nil
	}
	id, ok := CoerceUUID(v)
	if !ok {
		return uuid.Nil
	}
	return id
}

// EntityID returns the stable identifier.
func (e *Entity) EntityID() uuid.UUID { return e.uuidField(FieldEntityID) }

// Version returns the token identifying this stored revision.
func (e *Entity) Version() uuid.UUID { return e.uuidField(FieldVersion) }

// PreviousVersion returns the token this revision supersedes.
func (e *Entity) PreviousVersion() uuid.UUID { return e.uuidField(FieldPreviousVersion) }

// ChangedBy returns the actor of the last write.
func (e *Entity) ChangedBy() uuid.UUID { return e.uuidField(FieldChangedBy) }

// ChangedOn returns the timestamp of the last write.
func (e *Entity) ChangedOn() time.Time {
	if t, ok := CoerceTime(e.values[FieldChangedOn]); ok {
		return t
	}
	return time.Time{}
}

// Active reports the soft-delete flag.
func (e *Entity) Active() bool {
	if b, ok := CoerceBool(e.values[FieldActive]); ok {
		return b
	}
	return false
}

// SetActive updates the soft-delete flag.
func (e *Entity) SetActive(active bool) {
	e.values[FieldActive] = active
}

// IsFirstSave reports whether the pending write is the entity's first: the
// previous version still holds the sentinel token.
func (e *Entity) IsFirstSave() bool {
	return e.PreviousVersion() == VersionSentinel
}

// PrepareForSave rotates the version pair, stamps the actor and time, and
// validates the entity. The previous version becomes the optimistic-lock
// token for the write that follows.
func (e *Entity) PrepareForSave(actor uuid.UUID) error {
	if e.partial {
		return fmt.Errorf("%w: %s", ErrPartialWrite, e.schema.Name())
	}
	if e.EntityID() == uuid.Nil {
		e.values[FieldEntityID] = uuid.New()
	}
	if v := e.Version(); v != uuid.Nil && v != VersionSentinel {
		e.values[FieldPreviousVersion] = v
	} else {
		e.values[FieldPreviousVersion] = VersionSentinel
	}
	e.values[FieldVersion] = uuid.New()
	e.values[FieldChangedOn] = time.Now().UTC()
	e.values[FieldChangedBy] = actor
	return Validate(e)
}
