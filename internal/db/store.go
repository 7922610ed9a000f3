package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automesh/meshheal/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS healing_runs (
	id            UUID PRIMARY KEY,
	topology      TEXT NOT NULL,
	state         TEXT NOT NULL,
	failed_node   TEXT,
	healing_links JSONB NOT NULL DEFAULT '[]',
	metrics       JSONB,
	started_at    TIMESTAMPTZ NOT NULL,
	healed_at     TIMESTAMPTZ,
	reset_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS topology_snapshots (
	id          BIGSERIAL PRIMARY KEY,
	run_id      UUID NOT NULL,
	name        TEXT,
	data        JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS topology_snapshots_run_id_idx ON topology_snapshots (run_id);
`

// SnapshotParams is a topology snapshot to persist
type SnapshotParams struct {
	RunID      string
	Name       string
	Data       []byte
	CapturedAt time.Time
}

// Store persists healing runs and topology snapshots in PostgreSQL
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an open pool
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables if they do not exist
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new healing run
func (s *Store) CreateRun(ctx context.Context, run domain.HealingRun) error {
	links, metrics, err := encodeRun(run)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO healing_runs (id, topology, state, failed_node, healing_links, metrics, started_at, healed_at, reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.Topology, string(run.State), text(run.FailedNode), links, metrics,
		run.StartedAt, run.HealedAt, run.ResetAt,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun overwrites the mutable columns of a run
func (s *Store) UpdateRun(ctx context.Context, run domain.HealingRun) error {
	links, metrics, err := encodeRun(run)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE healing_runs
		SET state = $2, failed_node = $3, healing_links = $4, metrics = $5, healed_at = $6, reset_at = $7
		WHERE id = $1`,
		run.ID, string(run.State), text(run.FailedNode), links, metrics, run.HealedAt, run.ResetAt,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRunNotFound, run.ID)
	}
	return nil
}

const runColumns = `id, topology, state, failed_node, healing_links, metrics, started_at, healed_at, reset_at`

// GetRun fetches one run by id
func (s *Store) GetRun(ctx context.Context, id string) (domain.HealingRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM healing_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.HealingRun{}, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return domain.HealingRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.HealingRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runColumns+` FROM healing_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []domain.HealingRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// CreateSnapshot stores a serialized topology captured for a run
func (s *Store) CreateSnapshot(ctx context.Context, p SnapshotParams) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO topology_snapshots (run_id, name, data, captured_at)
		VALUES ($1, $2, $3, $4)`,
		p.RunID, text(p.Name), p.Data, pgtype.Timestamptz{Time: p.CapturedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	return nil
}

func scanRun(row pgx.Row) (domain.HealingRun, error) {
	var (
		run        domain.HealingRun
		state      string
		failedNode pgtype.Text
		links      []byte
		metrics    []byte
	)
	if err := row.Scan(&run.ID, &run.Topology, &state, &failedNode, &links, &metrics,
		&run.StartedAt, &run.HealedAt, &run.ResetAt); err != nil {
		return domain.HealingRun{}, err
	}
	run.State = domain.SimulationState(state)
	run.FailedNode = failedNode.String
	if err := decodeRun(&run, links, metrics); err != nil {
		return domain.HealingRun{}, err
	}
	return run, nil
}

func encodeRun(run domain.HealingRun) (links, metrics []byte, err error) {
	if run.HealingLinks == nil {
		run.HealingLinks = []string{}
	}
	if links, err = json.Marshal(run.HealingLinks); err != nil {
		return nil, nil, fmt.Errorf("marshal healing links: %w", err)
	}
	if run.Metrics != nil {
		if metrics, err = json.Marshal(run.Metrics); err != nil {
			return nil, nil, fmt.Errorf("marshal metrics: %w", err)
		}
	}
	return links, metrics, nil
}

func decodeRun(run *domain.HealingRun, links, metrics []byte) error {
	run.HealingLinks = []string{}
	if len(links) > 0 {
		if err := json.Unmarshal(links, &run.HealingLinks); err != nil {
			return fmt.Errorf("unmarshal healing links: %w", err)
		}
	}
	if len(metrics) > 0 {
		run.Metrics = &domain.HealingMetrics{}
		if err := json.Unmarshal(metrics, run.Metrics); err != nil {
			return fmt.Errorf("unmarshal metrics: %w", err)
		}
	}
	return nil
}

func text(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
