package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func parseEntry(t *testing.T, line string) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("invalid JSON log line %q: %v", line, err)
	}
	return entry
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	logger.Info("room opened", Room("r1"), Count(3))

	entry := parseEntry(t, strings.TrimSpace(buf.String()))
	if entry["level"] != "INFO" {
		t.Errorf("expected INFO, got %v", entry["level"])
	}
	if entry["msg"] != "room opened" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	fields := entry["fields"].(map[string]any)
	if fields["room"] != "r1" {
		t.Errorf("expected room r1, got %v", fields["room"])
	}
	if fields["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", fields["count"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden too")
	logger.Warn("visible")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := parseEntry(t, lines[0])
	if entry["msg"] != "visible" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
}

func TestWithPresetsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, InfoLevel)

	child := logger.With(Room("r9"))
	child.Info("session joined", Session("s1"))

	entry := parseEntry(t, strings.TrimSpace(buf.String()))
	fields := entry["fields"].(map[string]any)
	if fields["room"] != "r9" || fields["session"] != "s1" {
		t.Errorf("expected preset and call fields, got %v", fields)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestErrorField(t *testing.T) {
	if Error(nil).Value != nil {
		t.Error("nil error should produce nil value")
	}
}
