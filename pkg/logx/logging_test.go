package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerWritesFieldsAndCaller(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").Component("ingest")
	log.Info("update dispatched", Int64("update_id", 42), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal: %v (%q)", err, buf.String())
	}
	if m["comp"] != "ingest" {
		t.Fatalf("comp = %v, want ingest", m["comp"])
	}
	if m["update_id"] != float64(42) {
		t.Fatalf("update_id = %v, want 42", m["update_id"])
	}
	if c, _ := m["caller"].(string); !strings.HasPrefix(c, "logging_test.go:") {
		t.Fatalf("caller = %q, want logging_test.go:N", c)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatalf("Enabled(debug) = true, want false")
	}
}

func TestZeroLoggerIsNoop(t *testing.T) {
	t.Parallel()

	var l Logger
	if !l.IsZero() {
		t.Fatalf("IsZero = false, want true")
	}
	l.Error("must not panic")
}

func TestFingerprintHidesToken(t *testing.T) {
	t.Parallel()

	fp := Fingerprint("123456:ABCDEF")
	if len(fp) != 8 || strings.Contains("123456:ABCDEF", fp) {
		t.Fatalf("Fingerprint = %q", fp)
	}
	if Fingerprint("") != "" {
		t.Fatalf("Fingerprint(\"\") should be empty")
	}
}

func TestFormatAlert(t *testing.T) {
	t.Parallel()

	got := formatAlert([]byte(`{"level":"error","message":"delivery failed","tenant":"t1","comp":"notifier","time":"x"}`))
	want := "[ERROR] delivery failed\n- comp=notifier\n- tenant=t1"
	if got != want {
		t.Fatalf("formatAlert = %q, want %q", got, want)
	}
	if got := formatAlert([]byte("plain text\n")); got != "plain text" {
		t.Fatalf("formatAlert(raw) = %q", got)
	}
}
