package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/iconidentify/grabba/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantErr   bool
		wantDebug bool
	}{
		{"debug text", config.LogConfig{Level: "debug", Format: "text"}, false, true},
		{"info json", config.LogConfig{Level: "info", Format: "json"}, false, false},
		{"warn auto", config.LogConfig{Level: "WARN", Format: "auto"}, false, false},
		{"invalid level", config.LogConfig{Level: "loud", Format: "json"}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := newLogger(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for invalid level")
				}
				return
			}
			if err != nil {
				t.Fatalf("newLogger: %v", err)
			}
			if got := logger.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
		})
	}
}
