package macro

import (
	"reflect"
	"testing"
)

func TestConvertString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		dir  Direction
		want string
	}{
		{"tight to voxta", "Hello {{char}}, I am {{user}}.", ToVoxta, "Hello {{ char }}, I am {{ user }}."},
		{"spaced to standard", "Hello {{ char }}, I am {{ user }}.", ToStandard, "Hello {{char}}, I am {{user}}."},
		{"already voxta stays voxta", "{{ char }} waves", ToVoxta, "{{ char }} waves"},
		{"already standard stays standard", "{{char}} waves", ToStandard, "{{char}} waves"},
		{"odd interior spacing", "{{  char}} and {{user  }}", ToStandard, "{{char}} and {{user}}"},
		{"unknown macro untouched", "{{random}} {{char}}", ToVoxta, "{{random}} {{ char }}"},
		{"no macros", "plain text", ToVoxta, "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertString(tt.in, tt.dir); got != tt.want {
				t.Errorf("ConvertString(%q, %v) = %q, want %q", tt.in, tt.dir, got, tt.want)
			}
		})
	}
}

func TestConvertString_Idempotent(t *testing.T) {
	for _, dir := range []Direction{ToVoxta, ToStandard} {
		in := "{{char}} meets {{ user }} and {{  persona }}"
		once := ConvertString(in, dir)
		twice := ConvertString(once, dir)
		if once != twice {
			t.Errorf("%v not idempotent: %q vs %q", dir, once, twice)
		}
	}
}

// Conversion must reach strings in unknown extension structures, not
// just known card fields.
func TestConvert_WalksWholeTree(t *testing.T) {
	data := map[string]any{
		"description": "{{char}} speaks",
		"alternate_greetings": []any{
			"hi {{user}}",
			map[string]any{"nested": "{{char}}"},
		},
		"extensions": map[string]any{
			"vendor_thing": map[string]any{"prompt": "{{char}} does a thing"},
			"count":        float64(3),
		},
	}
	got := ConvertData(data, ToVoxta)
	want := map[string]any{
		"description": "{{ char }} speaks",
		"alternate_greetings": []any{
			"hi {{ user }}",
			map[string]any{"nested": "{{ char }}"},
		},
		"extensions": map[string]any{
			"vendor_thing": map[string]any{"prompt": "{{ char }} does a thing"},
			"count":        float64(3),
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ConvertData = %#v, want %#v", got, want)
	}
	// Input tree is untouched.
	if data["description"] != "{{char}} speaks" {
		t.Error("Convert mutated its input")
	}
}
