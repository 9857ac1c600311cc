package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("scan"), KeyOperation, "scan"},
		{"connection", Connection("conn-1"), KeyConnection, "conn-1"},
		{"tool", Tool("trash_emails"), KeyTool, "trash_emails"},
		{"step", Step(3), KeyStep, "3"},
		{"turn", Turn("t-1"), KeyTurn, "t-1"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
		{"count", Count(42), KeyCount, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.attr.Key)
			assert.Equal(t, tt.wantVal, tt.attr.Value.String())
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	assert.Equal(t, KeyError, attr.Key)
	assert.Equal(t, "boom", attr.Value.String())

	assert.Equal(t, "", Err(nil).Key)
}

func TestErrNilIsOmitted(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, false)
	logger.Info("done", Err(nil))
	assert.NotContains(t, buf.String(), "error=")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())

	NewLogger(&buf, true).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestWithConnection(t *testing.T) {
	var buf bytes.Buffer
	logger := WithConnection(NewLogger(&buf, false), "conn-9")
	logger.Info("hello")
	assert.Contains(t, buf.String(), "connection=conn-9")
}

func TestAnonymizeEmail(t *testing.T) {
	a := AnonymizeEmail("Jane@Example.com")
	assert.Len(t, a, 21)
	assert.True(t, strings.HasPrefix(a, "user:"))
	assert.Equal(t, a, AnonymizeEmail("jane@example.com"), "hash is case-insensitive")
	assert.NotEqual(t, a, AnonymizeEmail("other@example.com"))
	assert.Equal(t, "", AnonymizeEmail(""))
}

func TestSanitizeToken(t *testing.T) {
	assert.Equal(t, "<empty>", SanitizeToken(""))
	assert.Equal(t, "[token:6 chars]", SanitizeToken("abc123"))
	assert.NotContains(t, SanitizeToken("ya29.secret"), "ya29")
}

func TestExtractDomain(t *testing.T) {
	tests := map[string]string{
		"jane@Example.com": "example.com",
		"invalid":          "",
		"":                 "",
		"@":                "",
		"user@":            "",
		"a@b@c":            "",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractDomain(in), in)
	}
}
