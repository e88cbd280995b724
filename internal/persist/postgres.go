package persist

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-migrate/migrate/v4"
	postgresdriver "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/gustycube/podwatch/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Postgres is the Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to dsn and verifies the connection.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies the embedded schema migrations. Running it against an
// up-to-date database is a no-op.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}
	defer db.Close()

	driver, err := postgresdriver.WithInstance(db, &postgresdriver.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migrate driver: %w", err)
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

const upsertNode = `
	INSERT INTO pnodes (external_id, name, status, location, region, uptime, latency, xdn_score, last_seen, record, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, now())
	ON CONFLICT (external_id)
	DO UPDATE SET
		name = EXCLUDED.name,
		status = EXCLUDED.status,
		location = EXCLUDED.location,
		region = EXCLUDED.region,
		uptime = EXCLUDED.uptime,
		latency = EXCLUDED.latency,
		xdn_score = EXCLUDED.xdn_score,
		last_seen = EXCLUDED.last_seen,
		record = EXCLUDED.record,
		updated_at = now()
`

func (p *Postgres) UpsertNodes(ctx context.Context, records []model.NodeRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record %s: %w", r.ExternalID, err)
		}
		var lastSeen *time.Time
		if !r.LastSeen.IsZero() {
			ls := r.LastSeen
			lastSeen = &ls
		}
		batch.Queue(upsertNode, r.ExternalID, r.Name, r.Status, r.Location, r.Region,
			r.Uptime, r.Latency, r.XDNScore, lastSeen, string(raw))
	}

	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert pnode: %w", err)
		}
	}
	return br.Close()
}

var historyColumns = []string{"pnode_id", "pass_id", "observed_at", "uptime", "latency", "storage_used", "rewards", "xdn_score"}

func (p *Postgres) AppendHistory(ctx context.Context, points []model.HistoryPoint) error {
	if len(points) == 0 {
		return nil
	}
	_, err := p.pool.CopyFrom(ctx, pgx.Identifier{"pnode_history"}, historyColumns,
		pgx.CopyFromSlice(len(points), func(i int) ([]any, error) {
			h := points[i]
			return []any{h.PodID, h.PassID, h.Timestamp, h.Uptime, h.Latency, int64(h.StorageUsed), h.Rewards, h.XDNScore}, nil
		}))
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, id string, since time.Time) ([]model.HistoryPoint, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT pnode_id, pass_id, observed_at, uptime, latency, storage_used, rewards, xdn_score
		FROM pnode_history
		WHERE pnode_id = $1 AND observed_at >= $2
		ORDER BY observed_at ASC
	`, id, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.HistoryPoint
	for rows.Next() {
		var h model.HistoryPoint
		var used int64
		if err := rows.Scan(&h.PodID, &h.PassID, &h.Timestamp, &h.Uptime, &h.Latency, &used, &h.Rewards, &h.XDNScore); err != nil {
			return nil, err
		}
		h.StorageUsed = uint64(used)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (p *Postgres) ListNodes(ctx context.Context) ([]model.NodeRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT record, created_at, updated_at FROM pnodes ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.NodeRecord
	for rows.Next() {
		var raw []byte
		var created, updated time.Time
		if err := rows.Scan(&raw, &created, &updated); err != nil {
			return nil, err
		}
		var r model.NodeRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode stored record: %w", err)
		}
		r.CreatedAt, r.UpdatedAt = created, updated
		out = append(out, r)
	}
	return out, rows.Err()
}
