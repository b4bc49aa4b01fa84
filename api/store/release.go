package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"nodeship/api/model"
)

const releaseColumns = `id, trigger, image_tag, images, status, stages, failed_stage, error, started_at, finished_at`

// InsertRelease records a release. A queued record with the same id is
// replaced when the run actually starts.
func (db *DB) InsertRelease(ctx context.Context, r *model.Release) error {
	trigger, _ := json.Marshal(r.Trigger)
	images, _ := json.Marshal(nonNil(r.Images))
	stages, _ := json.Marshal(nonNil(r.Stages))
	_, err := db.pool.Exec(ctx,
		`INSERT INTO releases (id, ref, commit_sha, trigger, image_tag, images, status, stages, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		   commit_sha = EXCLUDED.commit_sha,
		   trigger = EXCLUDED.trigger,
		   image_tag = EXCLUDED.image_tag,
		   images = EXCLUDED.images,
		   status = EXCLUDED.status,
		   stages = EXCLUDED.stages,
		   started_at = EXCLUDED.started_at
		 WHERE releases.status = 'queued'`,
		r.ID, r.Trigger.Ref, r.Trigger.SHA, trigger, r.ImageTag, images, r.Status, stages, r.StartedAt,
	)
	return err
}

// UpdateRelease overwrites the mutable fields of a release.
func (db *DB) UpdateRelease(ctx context.Context, r *model.Release) error {
	trigger, _ := json.Marshal(r.Trigger)
	images, _ := json.Marshal(nonNil(r.Images))
	stages, _ := json.Marshal(nonNil(r.Stages))
	tag, err := db.pool.Exec(ctx,
		`UPDATE releases SET commit_sha = $1, trigger = $2, image_tag = $3, images = $4, status = $5,
		   stages = $6, failed_stage = $7, error = $8, finished_at = $9
		 WHERE id = $10`,
		r.Trigger.SHA, trigger, r.ImageTag, images, r.Status, stages, r.FailedStage, r.Error, r.FinishedAt, r.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release %s not found", r.ID)
	}
	return nil
}

// GetRelease returns nil, nil when no release has the id.
func (db *DB) GetRelease(ctx context.Context, id string) (*model.Release, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+releaseColumns+` FROM releases WHERE id = $1`, id)
	r, err := scanRelease(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}

type ReleaseFilter struct {
	Ref    string
	Status string
	Limit  int
	Offset int
}

func (db *DB) ListReleases(ctx context.Context, f ReleaseFilter) ([]model.Release, int, error) {
	where := ""
	args := []any{}
	argN := 1

	if f.Ref != "" {
		where += fmt.Sprintf(" AND ref = $%d", argN)
		args = append(args, f.Ref)
		argN++
	}
	if f.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", argN)
		args = append(args, f.Status)
		argN++
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var total int
	if err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM releases WHERE 1=1"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(
		"SELECT %s FROM releases WHERE 1=1%s ORDER BY started_at DESC LIMIT $%d OFFSET $%d",
		releaseColumns, where, argN, argN+1,
	)
	args = append(args, limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var releases []model.Release
	for rows.Next() {
		r, err := scanRelease(rows)
		if err != nil {
			return nil, 0, err
		}
		releases = append(releases, *r)
	}
	return releases, total, rows.Err()
}

// RecoverInFlightReleases fails releases left running by a previous process.
func (db *DB) RecoverInFlightReleases(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE releases
		 SET status = 'failed', error = 'nodeship restarted during release', finished_at = now()
		 WHERE status IN ('queued', 'running')`,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRelease(row pgx.Row) (*model.Release, error) {
	var r model.Release
	var trigger, images, stages []byte
	if err := row.Scan(&r.ID, &trigger, &r.ImageTag, &images, &r.Status, &stages, &r.FailedStage, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	json.Unmarshal(trigger, &r.Trigger)
	json.Unmarshal(images, &r.Images)
	json.Unmarshal(stages, &r.Stages)
	return &r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
