package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/WessleyAI/vanfleet/internal/config"
)

func TestRunRequiresNATS(t *testing.T) {
	cfg := &config.Config{}
	err := run(cfg, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil || !strings.Contains(err.Error(), "NATS_URL") {
		t.Fatalf("err = %v", err)
	}
}
