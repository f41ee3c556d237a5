package schema_test

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/stevemurr/memdoc/schema"
)

var noteSchema = map[string]any{
	"type":     "object",
	"required": []any{"title"},
	"properties": map[string]any{
		"title": map[string]any{"type": "string"},
	},
}

func TestRegistryCRUD(t *testing.T) {
	r := schema.NewRegistry()
	if r.Get("note") != nil {
		t.Fatal("expected no schema")
	}

	r.Put("note", noteSchema)
	r.Put("task", map[string]any{"type": "object"})
	assert.Equal(t, r.Types(), []string{"note", "task"})
	assert.Equal(t, r.Get("note")["type"], "object")
	assert.Equal(t, len(r.List()), 2)

	// Returned schemas are copies.
	got := r.Get("note")
	got["type"] = "array"
	assert.Equal(t, r.Get("note")["type"], "object")

	assert.Equal(t, r.Delete("task"), true)
	assert.Equal(t, r.Delete("task"), false)
	assert.Equal(t, r.Types(), []string{"note"})
}

func TestRegistryValidate(t *testing.T) {
	r := schema.NewRegistry()
	r.Put("note", noteSchema)

	if err := r.Validate("note", map[string]any{"title": "hi"}); err != nil {
		t.Fatalf("expected pass: %v", err)
	}
	// Types without a schema accept anything.
	if err := r.Validate("other", "not even an object"); err != nil {
		t.Fatalf("expected pass: %v", err)
	}

	err := r.Validate("note", map[string]any{"body": "no title"})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	assert.Equal(t, verr.Type, "note")
	assert.Equal(t, verr.Path, "$")
	assert.Equal(t, verr.Error(), `note: $: missing required field "title"`)
}

func TestRegistryKeepsNonJSONValues(t *testing.T) {
	r := schema.NewRegistry()
	// Values JSON cannot encode must not blank out the schema.
	r.Put("note", map[string]any{
		"type":     "object",
		"required": []any{"title"},
		"x-hook":   func() {},
	})

	err := r.Validate("note", map[string]any{"body": "no title"})
	var verr *schema.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if r.Get("note")["x-hook"] == nil {
		t.Fatal("expected extension keyword to survive")
	}
}

func TestRegistryCopiesNested(t *testing.T) {
	r := schema.NewRegistry()
	src := map[string]any{
		"type":     "object",
		"required": []any{"title"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}
	r.Put("note", src)
	src["required"].([]any)[0] = "body"
	src["properties"].(map[string]any)["title"].(map[string]any)["type"] = "number"

	if err := r.Validate("note", map[string]any{"title": "hi"}); err != nil {
		t.Fatalf("expected pass: %v", err)
	}
	got := r.Get("note")
	got["properties"].(map[string]any)["title"] = nil
	assert.Equal(t, r.Get("note")["properties"], map[string]any{"title": map[string]any{"type": "string"}})
}
