package domain

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WireOptions controls entity-to-wire serialization.
type WireOptions struct {
	// ISOTimestamps emits time values as ISO-8601 strings instead of native values.
	ISOTimestamps bool
	// IncludeComputed exports computed fields alongside stored ones.
	IncludeComputed bool
}

// ToWire serializes the entity to a plain string-keyed map. A partial entity
// emits only its entity_id. Unloaded many-to-many collections are omitted
// entirely, never emitted as null. Extension-bag contents are flattened into
// the top level; the bag key itself is never emitted.
func (e *Entity) ToWire(opts WireOptions) map[string]any {
	if e.partial {
		return map[string]any{FieldEntityID: e.EntityID().String()}
	}

	out := make(map[string]any, len(e.schema.fields)+len(e.extra))
	for _, d := range e.schema.fields {
		if d.Computed {
			if opts.IncludeComputed {
				if fn := e.schema.compute[d.Name]; fn != nil {
					out[d.WireKey()] = convertScalar(fn(e), opts)
				}
			}
			continue
		}

		v, present := e.values[d.Name]
		switch d.Kind {
		case KindM2M:
			if !present || v == nil {
				continue
			}
			out[d.WireKey()] = serializeList(v, opts)
		case KindRef:
			out[d.WireKey()] = serializeRef(v, opts)
		case KindNested:
			out[d.WireKey()] = convertValue(v, opts)
		default:
			out[d.WireKey()] = convertScalar(v, opts)
		}
	}

	for k, v := range e.extra {
		out[k] = convertValue(v, opts)
	}
	return out
}

// serializeRef emits a reference field: loaded related entities expand to
// nested objects, partial stubs and bare identifiers emit the plain
// identifier string.
func serializeRef(v any, opts WireOptions) any {
	switch val := v.(type) {
	case nil:
		return nil
	case *Entity:
		if val.IsPartial() {
			return val.EntityID().String()
		}
		return val.ToWire(opts)
	case uuid.UUID:
		return val.String()
	case string:
		return val
	default:
		return convertValue(val, opts)
	}
}

func serializeList(v any, opts WireOptions) []any {
	switch list := v.(type) {
	case []*Entity:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = item.ToWire(opts)
		}
		return out
	case []any:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = convertValue(item, opts)
		}
		return out
	case []map[string]any:
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = convertValue(item, opts)
		}
		return out
	default:
		return []any{convertValue(v, opts)}
	}
}

// convertScalar formats identifier and timestamp scalars for the wire.
func convertScalar(v any, opts WireOptions) any {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String()
	case time.Time:
		if opts.ISOTimestamps {
			return val.UTC().Format(time.RFC3339Nano)
		}
		return val
	default:
		return v
	}
}

// convertValue recursively converts nested maps, lists, and entities.
func convertValue(v any, opts WireOptions) any {
	switch val := v.(type) {
	case *Entity:
		if val.IsPartial() {
			return map[string]any{FieldEntityID: val.EntityID().String()}
		}
		return val.ToWire(opts)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = convertValue(item, opts)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item, opts)
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = convertValue(item, opts)
		}
		return out
	default:
		return convertScalar(v, opts)
	}
}

// FromWire reconstructs an entity from a plain string-keyed map. Alias keys
// are translated first and take precedence over bare field names. Unknown
// keys are dropped unless the schema opts into the extension bag, in which
// case they, and the contents of an explicit nested "extra" map, are merged
// into the bag; computed field names never land there. Typed values are
// coerced best-effort; values that fail coercion pass through unchanged.
func FromWire(schema *Schema, reg *Registry, data map[string]any) (*Entity, error) {
	cleaned := make(map[string]any)
	extra := make(map[string]any)

	for key, v := range data {
		if _, isAlias := schema.FieldByAlias(key); isAlias {
			// applied below so the alias wins over a bare-name key
			continue
		}
		d, declared := schema.Descriptor(key)
		switch {
		case declared && d.Computed:
			// computed output from a previous serialization, never stored
		case declared:
			cleaned[key] = v
		case key == "extra" && schema.allowExtra:
			if nested, ok := v.(map[string]any); ok {
				for nk, nv := range nested {
					if d, isField := schema.Descriptor(nk); !isField || !d.Computed {
						extra[nk] = nv
					}
				}
			}
		case schema.allowExtra:
			extra[key] = v
		}
	}
	for key, v := range data {
		if name, ok := schema.FieldByAlias(key); ok {
			if d, declared := schema.Descriptor(name); declared && !d.Computed {
				cleaned[name] = v
			}
		}
	}

	for name, v := range cleaned {
		d, _ := schema.Descriptor(name)
		cleaned[name] = reviveField(d, v, reg)
	}

	e, err := New(schema, cleaned)
	if err != nil {
		return nil, err
	}
	if schema.allowExtra {
		e.extra = extra
	}
	return e, nil
}

// reviveField coerces one wire value back into its in-memory form.
func reviveField(d Descriptor, v any, reg *Registry) any {
	if v == nil {
		return nil
	}
	switch d.Kind {
	case KindM2M:
		return reviveList(d, v, reg)
	case KindRef:
		switch val := v.(type) {
		case map[string]any:
			if related := resolveRelated(d, reg); related != nil {
				if nested, err := FromWire(related, reg, val); err == nil {
					return nested
				}
			}
			return val
		default:
			if id, ok := CoerceUUID(v); ok {
				return id
			}
			return v
		}
	case KindNested:
		switch val := v.(type) {
		case map[string]any:
			if related := resolveRelated(d, reg); related != nil {
				if nested, err := FromWire(related, reg, val); err == nil {
					return nested
				}
			}
			return val
		case []any:
			return reviveList(d, val, reg)
		default:
			return v
		}
	default:
		coerced, ok := coerceToType(v, d)
		if !ok && IsControlField(d.Name) && d.Type == TypeUUID {
			log.Warn("malformed identifier in wire data, keeping raw value",
				zap.String("field", d.Name),
				zap.Any("value", v),
			)
		}
		return coerced
	}
}

func reviveList(d Descriptor, v any, reg *Registry) any {
	items, ok := v.([]any)
	if !ok {
		if typed, isTyped := v.([]map[string]any); isTyped {
			items = make([]any, len(typed))
			for i, m := range typed {
				items[i] = m
			}
		} else {
			return v
		}
	}
	related := resolveRelated(d, reg)
	if related == nil {
		return items
	}
	out := make([]*Entity, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case *Entity:
			out = append(out, val)
		case map[string]any:
			nested, err := FromWire(related, reg, val)
			if err != nil {
				return items
			}
			out = append(out, nested)
		default:
			return items
		}
	}
	return out
}

func resolveRelated(d Descriptor, reg *Registry) *Schema {
	if d.Related == "" || reg == nil {
		return nil
	}
	s, ok := reg.Lookup(d.Related)
	if !ok {
		return nil
	}
	return s
}

// ApplyWire merges a stored record back onto the entity, used to copy
// backend-generated fields after a write. Alias keys are translated and
// values coerced the same way FromWire does.
func (e *Entity) ApplyWire(data map[string]any, reg *Registry) {
	for key, v := range data {
		name := key
		if resolved, ok := e.schema.FieldByAlias(key); ok {
			name = resolved
		}
		d, declared := e.schema.Descriptor(name)
		switch {
		case declared && d.Computed:
		case declared:
			e.values[name] = reviveField(d, v, reg)
		case e.schema.allowExtra && name != "extra":
			e.extra[name] = v
		}
	}
}
