package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToWire(t *testing.T) {
	_, person, contact := testRegistry(t)

	t.Run("partial emits entity_id only", func(t *testing.T) {
		id := uuid.New()
		stub := NewPartial(person, id)

		wire := stub.ToWire(WireOptions{IncludeComputed: true})

		assert.Equal(t, map[string]any{"entity_id": id.String()}, wire)
	})

	t.Run("unloaded many-to-many is omitted, not null", func(t *testing.T) {
		e := MustNew(person, map[string]any{"first_name": "Ada"})
		wire := e.ToWire(WireOptions{})

		_, present := wire["contacts"]
		assert.False(t, present)
	})

	t.Run("loaded many-to-many expands recursively", func(t *testing.T) {
		c := MustNew(contact, map[string]any{"contact_email": "ada@example.com"})
		e := MustNew(person, map[string]any{"contacts": []*Entity{c}})

		wire := e.ToWire(WireOptions{})

		list, ok := wire["contacts"].([]any)
		require.True(t, ok)
		require.Len(t, list, 1)
		nested, ok := list[0].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "ada@example.com", nested["email"])
	})

	t.Run("partial reference emits the plain identifier", func(t *testing.T) {
		personID := uuid.New()
		c := MustNew(contact, map[string]any{"person_id": NewPartial(person, personID)})

		wire := c.ToWire(WireOptions{})

		assert.Equal(t, personID.String(), wire["person_id"])
	})

	t.Run("loaded reference expands to a nested object", func(t *testing.T) {
		p := MustNew(person, map[string]any{"first_name": "Ada"})
		c := MustNew(contact, map[string]any{"person_id": p})

		wire := c.ToWire(WireOptions{})

		nested, ok := wire["person_id"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Ada", nested["first_name"])
	})

	t.Run("alias is the emitted key, never the field name", func(t *testing.T) {
		c := MustNew(contact, map[string]any{"contact_email": "ada@example.com"})
		wire := c.ToWire(WireOptions{})

		assert.Equal(t, "ada@example.com", wire["email"])
		_, present := wire["contact_email"]
		assert.False(t, present)
	})

	t.Run("timestamps follow the ISO flag", func(t *testing.T) {
		when := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		e := MustNew(person, map[string]any{"birthday": when})

		native := e.ToWire(WireOptions{})
		assert.Equal(t, when, native["birthday"])

		iso := e.ToWire(WireOptions{ISOTimestamps: true})
		assert.Equal(t, "2024-06-01T12:00:00Z", iso["birthday"])
	})

	t.Run("computed fields exported only on request", func(t *testing.T) {
		e := MustNew(person, map[string]any{"first_name": "Ada", "last_name": "Lovelace"})

		plain := e.ToWire(WireOptions{})
		_, present := plain["full_name"]
		assert.False(t, present)

		withComputed := e.ToWire(WireOptions{IncludeComputed: true})
		assert.Equal(t, "Ada Lovelace", withComputed["full_name"])
	})

	t.Run("extension bag flattens into the top level", func(t *testing.T) {
		e := MustNew(person, nil)
		require.NoError(t, e.SetExtra("nickname", "ada"))

		wire := e.ToWire(WireOptions{})

		assert.Equal(t, "ada", wire["nickname"])
		_, present := wire["extra"]
		assert.False(t, present)
	})
}

func TestFromWire(t *testing.T) {
	reg, person, contact := testRegistry(t)

	t.Run("round-trips every declared field", func(t *testing.T) {
		birthday := time.Date(1815, 12, 10, 0, 0, 0, 0, time.UTC)
		e := MustNew(person, map[string]any{
			"first_name": "Ada",
			"last_name":  "Lovelace",
			"age":        int64(36),
			"status":     "active",
			"birthday":   birthday,
			"settings":   map[string]any{"theme": "dark"},
			"contacts":   []*Entity{},
		})

		back, err := FromWire(person, reg, e.ToWire(WireOptions{ISOTimestamps: true}))
		require.NoError(t, err)

		assert.Equal(t, e.EntityID(), back.EntityID())
		assert.Equal(t, e.Version(), back.Version())
		for _, name := range []string{"first_name", "last_name", "age", "status"} {
			want, werr := e.Get(name)
			got, gerr := back.Get(name)
			require.NoError(t, werr)
			require.NoError(t, gerr)
			assert.Equal(t, want, got, name)
		}
		gotBirthday, err := back.Get("birthday")
		require.NoError(t, err)
		assert.True(t, birthday.Equal(gotBirthday.(time.Time)))
	})

	t.Run("accepts both alias and bare field name", func(t *testing.T) {
		fromAlias, err := FromWire(contact, reg, map[string]any{"email": "a@example.com"})
		require.NoError(t, err)
		got, _ := fromAlias.Get("contact_email")
		assert.Equal(t, "a@example.com", got)

		fromName, err := FromWire(contact, reg, map[string]any{"contact_email": "b@example.com"})
		require.NoError(t, err)
		got, _ = fromName.Get("contact_email")
		assert.Equal(t, "b@example.com", got)
	})

	t.Run("alias wins when both keys are present", func(t *testing.T) {
		e, err := FromWire(contact, reg, map[string]any{
			"contact_email": "bare@example.com",
			"email":         "alias@example.com",
		})
		require.NoError(t, err)

		got, _ := e.Get("contact_email")
		assert.Equal(t, "alias@example.com", got)
	})

	t.Run("unknown keys drop without the extension bag", func(t *testing.T) {
		e, err := FromWire(contact, reg, map[string]any{"label": "work", "bogus": 1})
		require.NoError(t, err)

		got, _ := e.Get("label")
		assert.Equal(t, "work", got)
		assert.Empty(t, e.Extra())
	})

	t.Run("unknown keys land in the extension bag when opted in", func(t *testing.T) {
		e, err := FromWire(person, reg, map[string]any{
			"first_name": "Ada",
			"nickname":   "ada",
			"extra":      map[string]any{"imported": true},
		})
		require.NoError(t, err)

		bag := e.Extra()
		assert.Equal(t, "ada", bag["nickname"])
		assert.Equal(t, true, bag["imported"])
	})

	t.Run("computed field names never land in the bag", func(t *testing.T) {
		e, err := FromWire(person, reg, map[string]any{
			"first_name": "Ada",
			"full_name":  "Ada Lovelace",
			"extra":      map[string]any{"full_name": "smuggled"},
		})
		require.NoError(t, err)

		_, present := e.Extra()["full_name"]
		assert.False(t, present)
	})

	t.Run("malformed identifiers pass through unchanged", func(t *testing.T) {
		e, err := FromWire(person, reg, map[string]any{"version": "not-a-uuid"})
		require.NoError(t, err)

		raw, gerr := e.Get("version")
		require.NoError(t, gerr)
		assert.Equal(t, "not-a-uuid", raw)
	})

	t.Run("enum strings coerce to members, others pass through", func(t *testing.T) {
		e, err := FromWire(person, reg, map[string]any{"status": "invited"})
		require.NoError(t, err)
		got, _ := e.Get("status")
		assert.Equal(t, "invited", got)

		e, err = FromWire(person, reg, map[string]any{"status": "unknown-state"})
		require.NoError(t, err)
		got, _ = e.Get("status")
		assert.Equal(t, "unknown-state", got)
	})

	t.Run("nested records rebuild related entities recursively", func(t *testing.T) {
		e, err := FromWire(person, reg, map[string]any{
			"contacts": []any{
				map[string]any{"email": "a@example.com"},
				map[string]any{"contact_email": "b@example.com"},
			},
		})
		require.NoError(t, err)

		got, gerr := e.Get("contacts")
		require.NoError(t, gerr)
		list, ok := got.([]*Entity)
		require.True(t, ok)
		require.Len(t, list, 2)
		first, _ := list[0].Get("contact_email")
		assert.Equal(t, "a@example.com", first)
	})

	t.Run("computed export never blocks a round trip", func(t *testing.T) {
		e := MustNew(person, map[string]any{"first_name": "Ada", "last_name": "Lovelace"})
		wire := e.ToWire(WireOptions{IncludeComputed: true, ISOTimestamps: true})

		back, err := FromWire(person, reg, wire)
		require.NoError(t, err)

		full, gerr := back.Get("full_name")
		require.NoError(t, gerr)
		assert.Equal(t, "Ada Lovelace", full)
	})
}
