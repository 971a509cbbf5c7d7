package persist

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/voxelforge/voxeld/internal/config"
)

// Set VOXELD_TEST_DSN to a scratch postgres database to run these.
func TestPGStore(t *testing.T) {
	dsn := os.Getenv("VOXELD_TEST_DSN")
	if dsn == "" {
		t.Skip("VOXELD_TEST_DSN not set")
	}
	ctx := context.Background()
	cfg := config.StorageConfig{
		Backend:         "postgres",
		DSN:             dsn,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
	}
	b, err := Open(ctx, cfg, uuid.New(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	exerciseBackend(t, b)
}
