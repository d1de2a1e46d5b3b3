package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fatalmerlin/dnssync/internal/server/db"
)

// executor abstracts *sql.DB and *sql.Tx for shared query logic.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	exec executor
}

var _ db.Queries = (*queries)(nil)

func (q *queries) Records() db.RecordRepository {
	return &recordRepository{exec: q.exec}
}

type recordRepository struct {
	exec executor
}

var _ db.RecordRepository = (*recordRepository)(nil)

func (r *recordRepository) Upsert(ctx context.Context, hostname, router string) error {
	_, err := r.exec.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO dns (hostname, router) VALUES (?, ?);`,
		hostname,
		router,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", hostname, err)
	}
	return nil
}

func (r *recordRepository) Get(ctx context.Context, hostname string) (*db.Record, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT hostname, router FROM dns WHERE hostname = ?;`, hostname)
	var rec db.Record
	if err := row.Scan(&rec.Hostname, &rec.Router); err != nil {
		if err == sql.ErrNoRows {
			return nil, db.ErrRecordNotFound
		}
		return nil, fmt.Errorf("scan record %s: %w", hostname, err)
	}
	return &rec, nil
}

func (r *recordRepository) List(ctx context.Context) ([]db.Record, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT hostname, router FROM dns ORDER BY hostname ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []db.Record
	for rows.Next() {
		var rec db.Record
		if err := rows.Scan(&rec.Hostname, &rec.Router); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *recordRepository) ListHostnames(ctx context.Context) ([]string, error) {
	rows, err := r.exec.QueryContext(ctx, `SELECT hostname FROM dns ORDER BY hostname ASC;`)
	if err != nil {
		return nil, fmt.Errorf("query hostnames: %w", err)
	}
	defer rows.Close()

	var hostnames []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hostname: %w", err)
		}
		hostnames = append(hostnames, h)
	}
	return hostnames, rows.Err()
}

func (r *recordRepository) Delete(ctx context.Context, hostname string) error {
	if _, err := r.exec.ExecContext(ctx, `DELETE FROM dns WHERE hostname = ?;`, hostname); err != nil {
		return fmt.Errorf("delete record %s: %w", hostname, err)
	}
	return nil
}
