package domain

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind classifies how a field is stored and serialized.
type Kind int

const (
	// KindScalar is a plain value field
	KindScalar Kind = iota
	// KindRef is an identifier reference to another entity
	KindRef
	// KindM2M is a many-to-many collection of related entities
	KindM2M
	// KindNested is a structured record value, optionally typed by a related schema
	KindNested
)

// ValueType is the declared scalar type of a field, used by coercion and
// type-checked validation.
type ValueType int

const (
	TypeAny ValueType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeDecimal
	TypeUUID
	TypeTime
	TypeEnum
)

// Big-Six control field names. Every versioned entity carries these and they
// are never aliased.
const (
	FieldEntityID        = "entity_id"
	FieldVersion         = "version"
	FieldPreviousVersion = "previous_version"
	FieldActive          = "active"
	FieldChangedBy       = "changed_by_id"
	FieldChangedOn       = "changed_on"
)

var controlFields = map[string]bool{
	FieldEntityID:        true,
	FieldVersion:         true,
	FieldPreviousVersion: true,
	FieldActive:          true,
	FieldChangedBy:       true,
	FieldChangedOn:       true,
}

// IsControlField reports whether name is one of the Big-Six control fields.
func IsControlField(name string) bool {
	return controlFields[name]
}

// Descriptor describes one declared field of a schema.
type Descriptor struct {
	Name     string
	Kind     Kind
	Type     ValueType
	Alias    string   // wire key override, empty for none
	Related  string   // related schema name for ref/m2m/nested fields
	Enum     []string // allowed values for TypeEnum fields
	Rule     string   // go-playground/validator tag expression, empty for none
	Computed bool     // derived from other fields, read-only
}

// WireKey returns the key this field is emitted under.
func (d Descriptor) WireKey() string {
	if d.Alias != "" {
		return d.Alias
	}
	return d.Name
}

// ComputeFunc derives a computed field's value from the rest of the entity.
type ComputeFunc func(e *Entity) any

// ValidateFunc is a per-field custom validation rule.
type ValidateFunc func(value any) error

// Schema is the static description of an entity type: its declared fields in
// declaration order, serialization hints, and validation configuration. A
// Schema is immutable once built, so the descriptor list is stable across
// calls.
type Schema struct {
	name         string
	table        string
	fields       []Descriptor
	index        map[string]int
	aliases      map[string]string // alias -> field name
	compute      map[string]ComputeFunc
	rules        map[string]ValidateFunc
	allowExtra   bool
	typeChecking bool
}

// Name returns the entity type name.
func (s *Schema) Name() string { return s.name }

// Table returns the storage table name.
func (s *Schema) Table() string { return s.table }

// Fields returns the ordered field descriptors. The returned slice must not
// be modified.
func (s *Schema) Fields() []Descriptor { return s.fields }

// FieldNames returns the declared field names in declaration order. The
// extension bag is not a declared field and never appears here.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, d := range s.fields {
		names[i] = d.Name
	}
	return names
}

// Descriptor looks up a field descriptor by name.
func (s *Schema) Descriptor(name string) (Descriptor, bool) {
	i, ok := s.index[name]
	if !ok {
		return Descriptor{}, false
	}
	return s.fields[i], true
}

// FieldByAlias resolves a wire alias to its field name.
func (s *Schema) FieldByAlias(alias string) (string, bool) {
	name, ok := s.aliases[alias]
	return name, ok
}

// AllowsExtra reports whether undeclared wire keys are absorbed into the
// extension bag instead of being dropped.
func (s *Schema) AllowsExtra() bool { return s.allowExtra }

// TypeChecking reports whether validation verifies values against declared types.
func (s *Schema) TypeChecking() bool { return s.typeChecking }

// toSnake converts CamelCase to snake_case for default table names.
func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SchemaBuilder assembles a Schema. Use NewSchema and chain field
// declarations, then call Build or MustBuild.
type SchemaBuilder struct {
	schema *Schema
	errs   []error
}

// NewSchema starts a schema for the named entity type. The Big-Six control
// fields are declared automatically and come first in field order.
func NewSchema(name string) *SchemaBuilder {
	s := &Schema{
		name:    name,
		table:   toSnake(name),
		index:   make(map[string]int),
		aliases: make(map[string]string),
		compute: make(map[string]ComputeFunc),
		rules:   make(map[string]ValidateFunc),
	}
	b := &SchemaBuilder{schema: s}
	b.add(Descriptor{Name: FieldEntityID, Kind: KindScalar, Type: TypeUUID})
	b.add(Descriptor{Name: FieldVersion, Kind: KindScalar, Type: TypeUUID})
	b.add(Descriptor{Name: FieldPreviousVersion, Kind: KindScalar, Type: TypeUUID})
	b.add(Descriptor{Name: FieldActive, Kind: KindScalar, Type: TypeBool})
	b.add(Descriptor{Name: FieldChangedBy, Kind: KindScalar, Type: TypeUUID})
	b.add(Descriptor{Name: FieldChangedOn, Kind: KindScalar, Type: TypeTime})
	return b
}

// FieldOption customizes a field descriptor.
type FieldOption func(*Descriptor)

// WithAlias sets the wire key the field is emitted under.
func WithAlias(alias string) FieldOption {
	return func(d *Descriptor) { d.Alias = alias }
}

// WithRule attaches a go-playground/validator tag expression to the field.
func WithRule(rule string) FieldOption {
	return func(d *Descriptor) { d.Rule = rule }
}

// WithRelated names the schema a nested field is reconstructed with.
func WithRelated(name string) FieldOption {
	return func(d *Descriptor) { d.Related = name }
}

func (b *SchemaBuilder) add(d Descriptor, opts ...FieldOption) {
	for _, opt := range opts {
		opt(&d)
	}
	s := b.schema
	if _, dup := s.index[d.Name]; dup {
		b.errs = append(b.errs, fmt.Errorf("schema %s: duplicate field %q", s.name, d.Name))
		return
	}
	if d.Alias != "" {
		if IsControlField(d.Name) {
			b.errs = append(b.errs, fmt.Errorf("schema %s: control field %q cannot be aliased", s.name, d.Name))
			return
		}
		if _, dup := s.aliases[d.Alias]; dup {
			b.errs = append(b.errs, fmt.Errorf("schema %s: duplicate alias %q", s.name, d.Alias))
			return
		}
		s.aliases[d.Alias] = d.Name
	}
	s.index[d.Name] = len(s.fields)
	s.fields = append(s.fields, d)
}

func (b *SchemaBuilder) addUser(d Descriptor, opts ...FieldOption) *SchemaBuilder {
	if IsControlField(d.Name) {
		b.errs = append(b.errs, fmt.Errorf("schema %s: %q is a reserved control field", b.schema.name, d.Name))
		return b
	}
	b.add(d, opts...)
	return b
}

// Table overrides the default snake-cased table name.
func (b *SchemaBuilder) Table(table string) *SchemaBuilder {
	b.schema.table = table
	return b
}

// Scalar declares a plain value field.
func (b *SchemaBuilder) Scalar(name string, t ValueType, opts ...FieldOption) *SchemaBuilder {
	return b.addUser(Descriptor{Name: name, Kind: KindScalar, Type: t}, opts...)
}

// Enum declares a scalar field restricted to the given member values.
func (b *SchemaBuilder) Enum(name string, members []string, opts ...FieldOption) *SchemaBuilder {
	return b.addUser(Descriptor{Name: name, Kind: KindScalar, Type: TypeEnum, Enum: members}, opts...)
}

// Ref declares an identifier reference to another entity type.
func (b *SchemaBuilder) Ref(name, related string, opts ...FieldOption) *SchemaBuilder {
	return b.addUser(Descriptor{Name: name, Kind: KindRef, Type: TypeUUID, Related: related}, opts...)
}

// ManyToMany declares a many-to-many collection of related entities. The
// collection is distinguishable from an empty one when it was never loaded.
func (b *SchemaBuilder) ManyToMany(name, related string, opts ...FieldOption) *SchemaBuilder {
	return b.addUser(Descriptor{Name: name, Kind: KindM2M, Related: related}, opts...)
}

// Nested declares a structured record field. With WithRelated the value is
// reconstructed as an entity of that schema; without, it stays a raw map.
func (b *SchemaBuilder) Nested(name string, opts ...FieldOption) *SchemaBuilder {
	return b.addUser(Descriptor{Name: name, Kind: KindNested, Type: TypeAny}, opts...)
}

// Computed declares a read-only field derived from the rest of the entity.
// Writes to it are ignored so round-tripping serialized output never
// corrupts state.
func (b *SchemaBuilder) Computed(name string, t ValueType, fn ComputeFunc) *SchemaBuilder {
	b.addUser(Descriptor{Name: name, Kind: KindScalar, Type: t, Computed: true})
	b.schema.compute[name] = fn
	return b
}

// Validate registers a custom validation rule for the named field.
func (b *SchemaBuilder) Validate(field string, fn ValidateFunc) *SchemaBuilder {
	b.schema.rules[field] = fn
	return b
}

// AllowExtra opts the entity type into the extension bag: undeclared wire
// keys are retained instead of dropped.
func (b *SchemaBuilder) AllowExtra() *SchemaBuilder {
	b.schema.allowExtra = true
	return b
}

// TypeChecking enables declared-type verification during validation.
func (b *SchemaBuilder) TypeChecking() *SchemaBuilder {
	b.schema.typeChecking = true
	return b
}

// Build finalizes the schema.
func (b *SchemaBuilder) Build() (*Schema, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	for name := range b.schema.rules {
		if _, ok := b.schema.index[name]; !ok {
			return nil, fmt.Errorf("schema %s: validation rule for undeclared field %q", b.schema.name, name)
		}
	}
	return b.schema, nil
}

// MustBuild finalizes the schema and panics on a declaration error.
func (b *SchemaBuilder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

// Registry maps entity type names to schemas so related types can be
// resolved lazily at serialization time without runtime import scanning.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register adds a schema to the registry.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.schemas[s.Name()]; dup {
		return fmt.Errorf("registry: schema %q already registered", s.Name())
	}
	r.schemas[s.Name()] = s
	return nil
}

// MustRegister adds a schema and panics on duplicates.
func (r *Registry) MustRegister(s *Schema) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup resolves a schema by entity type name.
func (r *Registry) Lookup(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered entity type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
