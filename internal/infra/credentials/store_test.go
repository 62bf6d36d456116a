package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token string
	tag   string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.NewCommandTag(s.tag), s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "})
	key, err := store.Token(context.Background(), ProviderAPIKey)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderRefreshToken)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), WorkflowPassword, " secret ", map[string]any{"by": "cli"}); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != WorkflowPassword {
		t.Fatalf("expected name argument, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRejectsEmptyAndUnknown(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderAPIKey, " ", nil); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := store.SetToken(context.Background(), "gemini", "x", nil); err == nil {
		t.Fatal("expected error for unknown secret")
	}
}

func TestResolvePrefersExplicitValue(t *testing.T) {
	store := NewStore(&stubExecutor{token: "from-db"})
	got, err := store.Resolve(context.Background(), ProviderAPIKey, " from-env ")
	if err != nil || got != "from-env" {
		t.Fatalf("expected from-env, got %q (%v)", got, err)
	}
	got, err = store.Resolve(context.Background(), ProviderAPIKey, "")
	if err != nil || got != "from-db" {
		t.Fatalf("expected from-db, got %q (%v)", got, err)
	}

	var nilStore *Store
	got, err = nilStore.Resolve(context.Background(), ProviderAPIKey, "")
	if err != nil || got != "" {
		t.Fatalf("expected empty value from nil store, got %q (%v)", got, err)
	}
}

func TestDeleteToken(t *testing.T) {
	exec := &stubExecutor{tag: "DELETE 1"}
	store := NewStore(exec)
	removed, err := store.DeleteToken(context.Background(), CallbackSecret)
	if err != nil {
		t.Fatalf("DeleteToken error: %v", err)
	}
	if !removed {
		t.Fatal("expected the secret to be reported as removed")
	}
	if !strings.Contains(exec.exec.query, "delete from transcription_secret") {
		t.Fatalf("unexpected query %q", exec.exec.query)
	}

	exec.tag = "DELETE 0"
	removed, err = store.DeleteToken(context.Background(), CallbackSecret)
	if err != nil || removed {
		t.Fatalf("expected nothing removed, got %v (%v)", removed, err)
	}

	if _, err := store.DeleteToken(context.Background(), "gemini"); err == nil {
		t.Fatal("expected error for unknown secret")
	}
}
