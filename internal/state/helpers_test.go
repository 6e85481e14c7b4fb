package state

import (
	"testing"

	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/logger"
)

func setupTestManager(t *testing.T) *Manager {
	t.Helper()

	cfg := config.Default()
	cfg.Patrol.DataDir = t.TempDir()

	mgr, err := NewManager(cfg, logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { mgr.Close() })

	return mgr
}
