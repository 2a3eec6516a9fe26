package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewLevels(t *testing.T) {
	log, err := New("debug", "console")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !log.Core().Enabled(zap.DebugLevel) {
		t.Error("expected debug level to be enabled")
	}

	log, err = New("", "json")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if log.Core().Enabled(zap.DebugLevel) {
		t.Error("expected default level to be info")
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
