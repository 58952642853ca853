package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestGetEnvStr(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("BOMFLOW_TEST_STR", "value")

	if got := GetEnvStr("BOMFLOW_TEST_STR", "fallback"); got != "value" {
		t.Errorf("GetEnvStr() = %q, want %q", got, "value")
	}

	if got := GetEnvStr("BOMFLOW_TEST_STR_UNSET", "fallback"); got != "fallback" {
		t.Errorf("GetEnvStr() = %q, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("BOMFLOW_TEST_INT", "42")
	t.Setenv("BOMFLOW_TEST_INT_BAD", "not-a-number")

	if got := GetEnvInt("BOMFLOW_TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt() = %d, want 42", got)
	}

	if got := GetEnvInt("BOMFLOW_TEST_INT_BAD", 7); got != 7 {
		t.Errorf("GetEnvInt() with invalid value = %d, want fallback 7", got)
	}
}

func TestGetEnvInt64(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("BOMFLOW_TEST_INT64", "10000")

	if got := GetEnvInt64("BOMFLOW_TEST_INT64", 1); got != 10000 {
		t.Errorf("GetEnvInt64() = %d, want 10000", got)
	}

	if got := GetEnvInt64("BOMFLOW_TEST_INT64_UNSET", 1); got != 1 {
		t.Errorf("GetEnvInt64() = %d, want fallback 1", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		value    string
		fallback bool
		want     bool
	}{
		{name: "true", value: "true", fallback: false, want: true},
		{name: "numeric false", value: "0", fallback: true, want: false},
		{name: "short true", value: "t", fallback: false, want: true},
		{name: "surrounding whitespace", value: " false ", fallback: true, want: false},
		{name: "unparseable keeps fallback", value: "maybe", fallback: true, want: true},
		{name: "unset keeps fallback", value: "", fallback: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOMFLOW_TEST_BOOL", tt.value)

			if got := GetEnvBool("BOMFLOW_TEST_BOOL", tt.fallback); got != tt.want {
				t.Errorf("GetEnvBool(%q, %v) = %v, want %v", tt.value, tt.fallback, got, tt.want)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("BOMFLOW_TEST_DURATION", "250ms")
	t.Setenv("BOMFLOW_TEST_DURATION_BAD", "soon")

	if got := GetEnvDuration("BOMFLOW_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetEnvDuration() = %v, want 250ms", got)
	}

	if got := GetEnvDuration("BOMFLOW_TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("GetEnvDuration() with invalid value = %v, want fallback 1s", got)
	}
}

func TestGetEnvLogLevel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		value string
		want  slog.Level
	}{
		{name: "debug", value: "debug", want: slog.LevelDebug},
		{name: "uppercase warn", value: "WARN", want: slog.LevelWarn},
		{name: "error", value: "error", want: slog.LevelError},
		{name: "unknown keeps fallback", value: "loud", want: slog.LevelInfo},
		{name: "unset keeps fallback", value: "", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BOMFLOW_TEST_LOG_LEVEL", tt.value)

			if got := GetEnvLogLevel("BOMFLOW_TEST_LOG_LEVEL", slog.LevelInfo); got != tt.want {
				t.Errorf("GetEnvLogLevel(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestParseCommaSeparatedList(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "plain list", input: "a,b,c", want: []string{"a", "b", "c"}},
		{name: "whitespace trimmed", input: " sales_updated , bom_updated ", want: []string{"sales_updated", "bom_updated"}},
		{name: "empty elements dropped", input: "a,,b,", want: []string{"a", "b"}},
		{name: "empty input", input: "", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommaSeparatedList(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseCommaSeparatedList(%q) = %v, want %v", tt.input, got, tt.want)
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("element %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
