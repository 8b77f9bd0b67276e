package google

import (
	"testing"
)

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "true", value: "true", want: true},
		{name: "TRUE", value: "TRUE", want: true},
		{name: "one", value: "1", want: true},
		{name: "false", value: "false", want: false},
		{name: "empty", value: "", want: false},
		{name: "garbage", value: "yes", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envEnabled, tt.value)
			if got := IsEnabled(); got != tt.want {
				t.Errorf("IsEnabled() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestGetSpreadsheetIDTrimsWhitespace(t *testing.T) {
	t.Setenv(envSpreadsheet, "  sheet-id-123  ")
	if got := GetSpreadsheetID(); got != "sheet-id-123" {
		t.Errorf("GetSpreadsheetID() = %q, want %q", got, "sheet-id-123")
	}
}

func TestNewSheetsClientDisabled(t *testing.T) {
	t.Setenv(envEnabled, "false")
	srv, err := NewSheetsClient(t.Context())
	if err != nil {
		t.Fatalf("disabled client should not error: %v", err)
	}
	if srv != nil {
		t.Error("disabled client should be nil")
	}
}
