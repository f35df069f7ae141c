package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("orchestrator")
	if fields["component"] != "orchestrator" {
		t.Errorf("Component() = %v, want %v", fields["component"], "orchestrator")
	}
}

func TestFields_Operation(t *testing.T) {
	fields := NewFields().Operation("complete_episode")
	if fields["operation"] != "complete_episode" {
		t.Errorf("Operation() = %v, want %v", fields["operation"], "complete_episode")
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("episode", "ep-1")
	if fields["resource_type"] != "episode" {
		t.Errorf("Resource() resource_type = %v, want %v", fields["resource_type"], "episode")
	}
	if fields["resource_name"] != "ep-1" {
		t.Errorf("Resource() resource_name = %v, want %v", fields["resource_name"], "ep-1")
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("episode", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v, want 150", fields["duration_ms"])
	}
}

func TestFields_Error(t *testing.T) {
	fields := NewFields().Error(errors.New("boom"))
	if fields["error"] != "boom" {
		t.Errorf("Error() = %v, want boom", fields["error"])
	}
}

func TestFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set the error key")
	}
}

func TestFields_Chaining(t *testing.T) {
	fields := NewFields().Component("retrieval").Operation("score").Count(5)
	if len(fields) != 3 {
		t.Errorf("expected 3 fields, got %d", len(fields))
	}
}
