package value

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"string", "x", "x"},
		{"int", 5, int64(5)},
		{"uint32", uint32(7), int64(7)},
		{"float32", float32(1.5), float64(1.5)},
		{"json int", json.Number("42"), int64(42)},
		{"json float", json.Number("4.25"), 4.25},
		{"time", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), "2024-03-05T00:00:00Z"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%v) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b any
		want bool
	}{
		{nil, nil, true},
		{nil, "", false},
		{"ABNORMAL", "ABNORMAL", true},
		{"ABNORMAL", "NORMAL", false},
		{int64(5), "5", true},
		{5.0, int64(5), true},
		{5.5, "5.5", true},
		{true, "true", true},
	}
	for _, tc := range tests {
		if got := Equal(tc.a, tc.b); got != tc.want {
			t.Errorf("Equal(%#v, %#v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestKeyConsistentWithEqual(t *testing.T) {
	if Key(int64(3)) != Key("3") {
		t.Error("expected equal keys for 3 and \"3\"")
	}
	if Key(nil) == Key("") {
		t.Error("null and empty string must have different keys")
	}
}

func TestFromLiteral(t *testing.T) {
	if FromLiteral("null") != nil || FromLiteral("") != nil {
		t.Error("expected nil for null literals")
	}
	if FromLiteral("ABNORMAL") != "ABNORMAL" {
		t.Error("expected string literal")
	}
}

func TestFormat(t *testing.T) {
	if Format(nil) != "<null>" {
		t.Errorf("unexpected null format %q", Format(nil))
	}
	if Format(2.50) != "2.5" {
		t.Errorf("unexpected float format %q", Format(2.50))
	}
}
