package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewSelectsLevelByEnv(t *testing.T) {
	dev, err := New("development")
	if err != nil {
		t.Fatalf("New(development) error = %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("development logger should log debug")
	}

	prod, err := New("production")
	if err != nil {
		t.Fatalf("New(production) error = %v", err)
	}
	if prod.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("production logger should not log debug")
	}
	if !prod.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("production logger should log info")
	}
}
