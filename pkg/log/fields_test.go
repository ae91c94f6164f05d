package log

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestToFields(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want []string
	}{
		{"empty", nil, nil},
		{"pairs", []any{"unitId", "bus-1", "count", 3}, []string{"unitId", "count"}},
		{"bare error", []any{errors.New("boom"), "k", "v"}, []string{"error", "k"}},
		{"dangling value", []any{"k", "v", "orphan"}, []string{"k", "arg2"}},
		{"zap field", []any{zap.String("z", "1")}, []string{"z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toFields(tt.args)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d fields, want %d", len(got), len(tt.want))
			}
			for i, f := range got {
				if f.Key != tt.want[i] {
					t.Errorf("field %d key = %q, want %q", i, f.Key, tt.want[i])
				}
			}
		})
	}
}

func TestFieldTypes(t *testing.T) {
	if f := field("n", 1.5); f.Type != zapcore.Float64Type {
		t.Errorf("float64 field type = %v", f.Type)
	}
	if f := field("b", true); f.Type != zapcore.BoolType {
		t.Errorf("bool field type = %v", f.Type)
	}
}

func TestOptionsValidate(t *testing.T) {
	o := NewOptions()
	if err := o.Validate(); err != nil {
		t.Fatalf("default options invalid: %v", err)
	}
	o.Format = "xml"
	if err := o.Validate(); err == nil {
		t.Error("expected error for unknown format")
	}
	o = NewOptions()
	o.Level = "loud"
	if err := o.Validate(); err == nil {
		t.Error("expected error for unknown level")
	}
}
