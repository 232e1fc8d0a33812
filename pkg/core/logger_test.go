package core

import "testing"

func TestSeverityOrdering(t *testing.T) {
	if SeverityError >= SeverityWarning {
		t.Error("ERROR must be more severe than WARNING")
	}
	if SeverityDebug >= SeverityDeveloper {
		t.Error("DEVELOPER must be the least severe level")
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"ERROR":     SeverityError,
		"WARN":      SeverityWarning,
		"WARNING":   SeverityWarning,
		"INFO":      SeverityInfo,
		"DEBUG":     SeverityDebug,
		"DEVELOPER": SeverityDeveloper,
		"bogus":     SeverityInfo,
	}
	for in, want := range cases {
		if got := ParseSeverity(in); got != want {
			t.Errorf("ParseSeverity(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger := NewLogger(LoggerConfig{Level: "WARNING"})
	if logger.Level() != SeverityWarning {
		t.Errorf("Level() = %v, want WARNING", logger.Level())
	}
	// Suppressed levels must not panic or emit.
	logger.Debug("hidden")
	logger.Developer("hidden")
}

func TestLoggerWithFields(t *testing.T) {
	base := NewLogger(LoggerConfig{Level: "DEBUG", Subsystem: "test"})
	child := base.WithFields(map[string]interface{}{"mailbox": "M"})
	if child == nil {
		t.Fatal("WithFields returned nil")
	}
	grandchild := child.WithFields(map[string]interface{}{"peer": "127.0.0.1"})
	grandchild.Infof("fields merged")
}
