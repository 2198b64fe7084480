package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/bullishbrief/briefauth"
)

func TestNewHonorsLevel(t *testing.T) {
	cases := []struct {
		cfg  briefauth.LoggingConfig
		want zapcore.Level
	}{
		{cfg: briefauth.LoggingConfig{}, want: zapcore.InfoLevel},
		{cfg: briefauth.LoggingConfig{Level: "debug", Format: "console"}, want: zapcore.DebugLevel},
		{cfg: briefauth.LoggingConfig{Level: "WARN", Format: "json"}, want: zapcore.WarnLevel},
		{cfg: briefauth.LoggingConfig{Level: "error"}, want: zapcore.ErrorLevel},
	}
	for _, tc := range cases {
		logger, err := New(tc.cfg)
		if err != nil {
			t.Fatalf("New(%+v): %v", tc.cfg, err)
		}
		if !logger.Core().Enabled(tc.want) {
			t.Fatalf("New(%+v): level %v must be enabled", tc.cfg, tc.want)
		}
		if tc.want > zapcore.DebugLevel && logger.Core().Enabled(tc.want-1) {
			t.Fatalf("New(%+v): level %v must be disabled", tc.cfg, tc.want-1)
		}
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	if _, err := New(briefauth.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New(briefauth.LoggingConfig{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
