package store

import (
	"context"
	"time"

	"nodeship/api/model"
)

func (db *DB) InsertHealthCheck(ctx context.Context, hc *model.HealthCheck) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO health_checks (id, service, url, healthy, status_code, response_ms, checked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		hc.ID, hc.Service, hc.URL, hc.Healthy, hc.StatusCode, hc.ResponseMs, hc.CheckedAt,
	)
	return err
}

// ListHealthChecks returns checks since a time, newest first. An empty
// service matches every endpoint.
func (db *DB) ListHealthChecks(ctx context.Context, service string, since time.Time) ([]model.HealthCheck, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, service, url, healthy, status_code, response_ms, checked_at
		 FROM health_checks WHERE ($1 = '' OR service = $1) AND checked_at >= $2
		 ORDER BY checked_at DESC`,
		service, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var checks []model.HealthCheck
	for rows.Next() {
		var hc model.HealthCheck
		if err := rows.Scan(&hc.ID, &hc.Service, &hc.URL, &hc.Healthy, &hc.StatusCode, &hc.ResponseMs, &hc.CheckedAt); err != nil {
			return nil, err
		}
		checks = append(checks, hc)
	}
	return checks, rows.Err()
}

// PruneHealthChecks deletes checks older than a day.
func (db *DB) PruneHealthChecks(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM health_checks WHERE checked_at < now() - interval '24 hours'`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
