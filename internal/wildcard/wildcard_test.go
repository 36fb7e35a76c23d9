package wildcard

import (
	"reflect"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"foo-*", "foo-42", true},
		{"foo-*", "bar-42", false},
		{"a*b*c", "aXbYc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "acb", false},
		{"literal", "literal", true},
		{"literal", "literally", false},
		{"line*", "line one\nline two", true},
		{"[x]?{y}", "[x]?{y}", true},
		{"[x]?{y}", "[x]a{y}", false},
	}
	for _, tt := range tests {
		if got := Match(tt.pattern, tt.s); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}

func TestCaptures(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    []string
	}{
		{"foo-*", "foo-42", []string{"42"}},
		{"*=*", "a=b", []string{"a", "b"}},
		{"*", "multi\nline", []string{"multi\nline"}},
		{"exact", "exact", []string{}},
		{"foo-*", "bar", nil},
	}
	for _, tt := range tests {
		got := Captures(tt.pattern, tt.s)
		if tt.want == nil {
			if got != nil {
				t.Errorf("Captures(%q, %q) = %v, want nil", tt.pattern, tt.s, got)
			}
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Captures(%q, %q) = %v, want %v", tt.pattern, tt.s, got, tt.want)
		}
	}
}
