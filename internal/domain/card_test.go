package domain

import (
	"reflect"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, []string{}},
		{"trim and dedupe", []string{" go ", "sql", "go", ""}, []string{"go", "sql"}},
		{"keeps order", []string{"b", "a", "b"}, []string{"b", "a"}},
		{"case sensitive", []string{"Go", "go"}, []string{"Go", "go"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTags(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOptionalText(t *testing.T) {
	blank := "   "
	text := " hello "

	if OptionalText(nil) != nil {
		t.Errorf("Expected nil for nil input")
	}
	if OptionalText(&blank) != nil {
		t.Errorf("Expected nil for blank input")
	}
	if got := OptionalText(&text); got == nil || *got != "hello" {
		t.Errorf("Expected trimmed text, got %v", got)
	}
}

func TestStatusIsValid(t *testing.T) {
	for _, s := range []Status{StatusTriaging, StatusActive, StatusSuspended} {
		if !s.IsValid() {
			t.Errorf("Expected %q to be valid", s)
		}
	}
	if Status("archived").IsValid() {
		t.Errorf("Expected unknown status to be invalid")
	}
}
