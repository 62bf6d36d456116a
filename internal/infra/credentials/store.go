package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"transcription/internal/infra"
	"transcription/internal/sqlinline"
)

// Well-known secret names kept in transcription_secret.
const (
	ProviderAPIKey       = "transcription_api_key"
	ProviderRefreshToken = "transcription_refresh_token"
	WorkflowPassword     = "workflow_password"
	CallbackSecret       = "callback_secret"
	OperatorToken        = "operator_token"
)

// Names lists the secrets accepted by SetToken.
var Names = []string{ProviderAPIKey, ProviderRefreshToken, WorkflowPassword, CallbackSecret, OperatorToken}

// Store reads and writes service secrets in Postgres.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored secret, or "" when none is configured.
func (s *Store) Token(ctx context.Context, name string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectSecret, name)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores a secret under a well-known name.
func (s *Store) SetToken(ctx context.Context, name, token string, props map[string]any) error {
	if !known(name) {
		return fmt.Errorf("credentials: unknown secret %q", name)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credentials: token is required")
	}
	return s.upsert(ctx, name, token, props)
}

// DeleteToken removes a stored secret and reports whether one existed.
func (s *Store) DeleteToken(ctx context.Context, name string) (bool, error) {
	if !known(name) {
		return false, fmt.Errorf("credentials: unknown secret %q", name)
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteSecret, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Resolve returns value when set, otherwise the stored secret.
func (s *Store) Resolve(ctx context.Context, name, value string) (string, error) {
	if v := strings.TrimSpace(value); v != "" {
		return v, nil
	}
	if s == nil {
		return "", nil
	}
	return s.Token(ctx, name)
}

func (s *Store) upsert(ctx context.Context, name, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertSecret, name, token, raw)
	return err
}

func known(name string) bool {
	for _, n := range Names {
		if n == name {
			return true
		}
	}
	return false
}
