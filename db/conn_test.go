package db

import (
	"context"
	"strings"
	"testing"

	"juryflow/config"
)

func TestNewPool_EmptyDSN(t *testing.T) {
	if _, err := NewPool(context.Background(), config.JournalConfig{}); err == nil {
		t.Fatal("expected error for empty connection string")
	}
}

func TestNewPool_BadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), config.JournalConfig{DSN: "postgres://%zz"})
	if err == nil || !strings.Contains(err.Error(), "db: parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}
