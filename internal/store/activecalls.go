package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/outboundly/campaigns/internal/store/models"
)

// ActiveCallStore persists the active-call registry's rows and the
// serializable admission transaction that enforces the global and
// per-tenant concurrency ceilings.
type ActiveCallStore struct {
	db *sql.DB
}

// ActiveCalls returns the active-call sub-store.
func (s *Store) ActiveCalls() *ActiveCallStore { return &ActiveCallStore{db: s.db} }

const activeCallColumns = `call_id, provider_call_ref, tenant_id, campaign_id, contact_index, kind,
	from_number, to_number, provider, state, state_since,
	started_at, answered_at, ended_at, failure_reason, billing_duration,
	created_at, updated_at`

// nonTerminalStates lists every state that still occupies a concurrency
// slot; it mirrors models.CallState.Terminal's complement.
var nonTerminalStates = []models.CallState{
	models.CallInitiating, models.CallWarming, models.CallRinging, models.CallOngoing,
}

func scanActiveCall(row interface{ Scan(...any) error }) (*models.ActiveCall, error) {
	var c models.ActiveCall
	err := row.Scan(
		&c.CallID, &c.ProviderCallRef, &c.TenantID, &c.CampaignID, &c.ContactIndex, &c.Kind,
		&c.From, &c.To, &c.Provider, &c.State, &c.StateSince,
		&c.StartedAt, &c.AnsweredAt, &c.EndedAt, &c.FailureReason, &c.BillingDuration,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning active call: %w", err)
	}
	return &c, nil
}

// ErrConcurrencyFull is returned by TryAdmit when either ceiling is
// already saturated.
var ErrConcurrencyFull = errors.New("store: concurrency full")

// TryAdmit atomically counts non-terminal active_calls against maxGlobal
// and maxPerTenant and, if both have headroom, inserts call in state
// initiating. It uses a SERIALIZABLE transaction so the count-then-insert
// is race-free across runner processes, retrying a bounded number of times
// on serialization conflicts.
func (s *ActiveCallStore) TryAdmit(ctx context.Context, call *models.ActiveCall, maxGlobal, maxPerTenant int) error {
	const maxAttempts = 5
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.tryAdmitOnce(ctx, call, maxGlobal, maxPerTenant)
		if err == nil || errors.Is(err, ErrConcurrencyFull) {
			return err
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("admitting call after %d attempts: %w", maxAttempts, lastErr)
}

func (s *ActiveCallStore) tryAdmitOnce(ctx context.Context, call *models.ActiveCall, maxGlobal, maxPerTenant int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning admission transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := placeholderList(len(nonTerminalStates), 1)
	args := make([]any, 0, len(nonTerminalStates)+1)
	for _, st := range nonTerminalStates {
		args = append(args, st)
	}

	var globalCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_calls WHERE state IN (`+placeholders+`)`, args...,
	).Scan(&globalCount); err != nil {
		return fmt.Errorf("counting global active calls: %w", err)
	}
	if globalCount >= maxGlobal {
		return ErrConcurrencyFull
	}

	tenantArgs := append(append([]any{}, args...), call.TenantID)
	var tenantCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM active_calls WHERE state IN (`+placeholders+`) AND tenant_id = $`+fmt.Sprint(len(args)+1),
		tenantArgs...,
	).Scan(&tenantCount); err != nil {
		return fmt.Errorf("counting tenant active calls: %w", err)
	}
	if tenantCount >= maxPerTenant {
		return ErrConcurrencyFull
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO active_calls (call_id, tenant_id, campaign_id, contact_index, kind,
			from_number, to_number, provider, state, state_since, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		call.CallID, call.TenantID, call.CampaignID, call.ContactIndex, call.Kind,
		call.From, call.To, call.Provider, models.CallInitiating,
	)
	if err != nil {
		return fmt.Errorf("inserting active call: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing admission transaction: %w", err)
	}
	return nil
}

func placeholderList(n, start int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// isSerializationFailure reports whether err is a Postgres serialization
// failure (SQLSTATE 40001), the signal to retry a SERIALIZABLE transaction.
func isSerializationFailure(err error) bool {
	return strings.Contains(err.Error(), "SQLSTATE 40001")
}

// GetByID loads an active call by its engine-generated callId.
func (s *ActiveCallStore) GetByID(ctx context.Context, callID string) (*models.ActiveCall, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+activeCallColumns+` FROM active_calls WHERE call_id = $1`, callID)
	return scanActiveCall(row)
}

// AttachProviderRef records the provider's own call identifier without
// changing state.
func (s *ActiveCallStore) AttachProviderRef(ctx context.Context, callID, providerCallRef string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE active_calls SET provider_call_ref = $1, updated_at = NOW() WHERE call_id = $2`,
		providerCallRef, callID,
	)
	if err != nil {
		return fmt.Errorf("attaching provider ref: %w", err)
	}
	return nil
}

// TransitionResult is returned by conditional state transitions so callers
// know whether the write actually applied (idempotent no-op vs first time).
type TransitionResult int

const (
	// TransitionApplied means this call caused the state to change.
	TransitionApplied TransitionResult = iota
	// TransitionNoop means the call was already in the target state (or a
	// later one) and the webhook delivery is a harmless duplicate.
	TransitionNoop
)

// Transition conditionally moves a call from one of fromStates to target,
// stamping the fields supplied in set. It is the single write path used by
// every state-machine edge in the registry so webhook retries are safe.
func (s *ActiveCallStore) Transition(ctx context.Context, callID string, fromStates []models.CallState, target models.CallState, set TransitionFields) (TransitionResult, error) {
	args := []any{target}
	setClauses := []string{"state = $1", "state_since = NOW()", "updated_at = NOW()"}
	argN := 2

	if set.AnsweredNow {
		setClauses = append(setClauses, "answered_at = NOW()")
	}
	if set.EndedNow {
		setClauses = append(setClauses, "ended_at = NOW()")
	}
	if set.FailureReason != "" {
		setClauses = append(setClauses, fmt.Sprintf("failure_reason = $%d", argN))
		args = append(args, set.FailureReason)
		argN++
	}
	if set.BillingDuration != nil {
		setClauses = append(setClauses, fmt.Sprintf("billing_duration = $%d", argN))
		args = append(args, *set.BillingDuration)
		argN++
	}

	fromPlaceholders := placeholderList(len(fromStates), argN)
	for _, st := range fromStates {
		args = append(args, st)
	}
	args = append(args, callID)

	query := fmt.Sprintf(
		`UPDATE active_calls SET %s WHERE call_id = $%d AND state IN (%s)`,
		strings.Join(setClauses, ", "), argN+len(fromStates), fromPlaceholders,
	)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return TransitionNoop, fmt.Errorf("transitioning call %s: %w", callID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return TransitionNoop, fmt.Errorf("checking transition write: %w", err)
	}
	if n == 0 {
		return TransitionNoop, nil
	}
	return TransitionApplied, nil
}

// TransitionFields carries the optional column writes that ride along with
// a state transition.
type TransitionFields struct {
	AnsweredNow     bool
	EndedNow        bool
	FailureReason   models.FailureReason
	BillingDuration *int
}

// Snapshot counts non-terminal calls, optionally scoped to one tenant, for
// admission checks and dashboards.
func (s *ActiveCallStore) Snapshot(ctx context.Context, tenantID string) (int, error) {
	placeholders := placeholderList(len(nonTerminalStates), 1)
	args := make([]any, 0, len(nonTerminalStates)+1)
	for _, st := range nonTerminalStates {
		args = append(args, st)
	}
	query := `SELECT COUNT(*) FROM active_calls WHERE state IN (` + placeholders + `)`
	if tenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", len(args)+1)
		args = append(args, tenantID)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting snapshot: %w", err)
	}
	return count, nil
}

// DueForTimeout returns non-terminal calls whose stateSince predates the
// per-state timeout supplied in timeouts, for the reaper to process.
func (s *ActiveCallStore) DueForTimeout(ctx context.Context, timeouts map[models.CallState]time.Duration, now time.Time) ([]*models.ActiveCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+activeCallColumns+` FROM active_calls WHERE state = ANY($1)`,
		statesToTextArray(nonTerminalStates),
	)
	if err != nil {
		return nil, fmt.Errorf("querying calls due for timeout: %w", err)
	}
	defer rows.Close()

	var out []*models.ActiveCall
	for rows.Next() {
		c, err := scanActiveCall(rows)
		if err != nil {
			return nil, err
		}
		timeout, ok := timeouts[c.State]
		if !ok {
			continue
		}
		if now.Sub(c.StateSince) >= timeout {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func statesToTextArray(states []models.CallState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
