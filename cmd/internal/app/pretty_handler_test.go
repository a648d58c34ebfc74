package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestPrettyHandler_Line(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false))
	log.With("request_id", "r-1").Warn("http.request",
		"method", "post",
		"status", 429,
		"status_class", "4xx",
		"duration_ms", int64(12),
		"user_agent", "curl 8",
	)

	line := buf.String()
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=http.request",
		"request_id=r-1",
		"method=POST",
		"status=429",
		`user_agent="curl 8"`,
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("uncolored handler wrote escapes: %q", line)
	}
}

func TestPrettyHandler_Colors(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true))
	log.Error("boom", "status", 503)

	line := buf.String()
	if !strings.Contains(line, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("missing colored level in %q", line)
	}
	if got := stripANSI(line); !strings.Contains(got, "status=503") {
		t.Fatalf("stripped line %q missing status", got)
	}
}

func TestPrettyHandler_RespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))
	log.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
}

func TestValueToInt64(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   slog.Value
		want int64
		ok   bool
	}{
		{slog.Int64Value(7), 7, true},
		{slog.Uint64Value(8), 8, true},
		{slog.StringValue(" 42 "), 42, true},
		{slog.StringValue("x"), 0, false},
		{slog.BoolValue(true), 0, false},
	}
	for _, tc := range cases {
		got, ok := valueToInt64(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("valueToInt64(%v)=(%d,%v) want (%d,%v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestPrettyHandler_RequestFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		args  []any
		plain string
		color string
	}{
		{"class", []any{"status_class", "5xx"}, "class=5xx", ansiRed + "5xx"},
		{"odd class", []any{"status_class", "n/a"}, "class=n/a", ""},
		{"slow", []any{"duration_ms", int64(1200)}, "duration=1200ms", ansiRed + "1200ms"},
		{"quick", []any{"duration_ms", int64(3)}, "duration=3ms", ansiDim + "3ms"},
		{"result", []any{"result", "Client_Error"}, "result=client_error", ansiYellow + "client_error"},
		{"unknown result", []any{"result", "mixed bag"}, `result="mixed bag"`, ""},
		{"path", []any{"path", " /auth/login "}, "path=/auth/login", ansiCyan + "/auth/login"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			slog.New(newPrettyHandler(&buf, nil, true)).Info("http.request", tc.args...)
			line := buf.String()
			if got := stripANSI(line); !strings.Contains(got, tc.plain) {
				t.Fatalf("line %q missing %q", got, tc.plain)
			}
			if tc.color != "" && !strings.Contains(line, tc.color+ansiReset) {
				t.Fatalf("line %q missing colored %q", line, tc.color)
			}
		})
	}
}

func TestPrettyHandler_Groups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))
	log.WithGroup("req").With("id", "r-9").WithGroup("user").Info("x", "name", "ann", slog.Group("flags", "admin", false))

	line := buf.String()
	for _, want := range []string{"req.id=r-9", "req.user.name=ann", "req.user.flags.admin=false"} {
		if !strings.Contains(line, want) {
			t.Fatalf("line %q missing %q", line, want)
		}
	}
}
