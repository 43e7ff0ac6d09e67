package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"juryflow/court"
	"juryflow/journal"
	"juryflow/jury"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHashKeyCommand(t *testing.T) {
	out, err := execute(t, "hash-key", "operator-key-123")
	if err != nil {
		t.Fatalf("hash-key: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("operator-key-123")); err != nil {
		t.Fatalf("printed hash does not match key: %v", err)
	}

	if _, err := execute(t, "hash-key", "short"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
	if _, err := execute(t, "hash-key"); err == nil {
		t.Fatal("expected missing argument to be rejected")
	}
}

func TestReplayCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "court.db")
	cfgPath := filepath.Join(dir, "juryflow.yaml")
	if err := os.WriteFile(cfgPath, []byte("journal:\n  driver: sqlite\n  path: "+dbPath+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JURYFLOW_AUTH_JWT_SECRET", testSecret)

	if _, err := execute(t, "replay", "--config", cfgPath); err == nil {
		t.Fatal("expected replay of an empty journal to fail")
	}

	ctx := context.Background()
	j, err := journal.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	members := []string{"0xa1", "0xa2", "0xa3", "0xa4", "0xa5"}
	c, err := court.New(ctx, jury.Config{MinJurySize: 3, SwapInterval: time.Hour}, members, j,
		court.WithEntropy(jury.FixedEntropy([]byte("cli"))))
	if err != nil {
		t.Fatalf("new court: %v", err)
	}
	if _, err := c.Propose(ctx, "0xclaimant", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "replay", "--config", cfgPath)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !strings.Contains(out, "members=5") || !strings.Contains(out, "disputes=1 proposed=1") {
		t.Fatalf("unexpected summary %q", out)
	}
}
