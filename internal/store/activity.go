package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/wordgate/apiserver/types"
)

// ActivityRepository handles persistence for activity records.
type ActivityRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewActivityRepository(db *sql.DB, dialect Dialect) *ActivityRepository {
	return &ActivityRepository{db: db, dialect: dialect}
}

func (r *ActivityRepository) Create(ctx context.Context, activity types.Activity) (types.Activity, error) {
	activity.CreatedAt = dbTime(activity.CreatedAt)

	const query = `
		INSERT INTO activities (id, account_id, description, word_count, created_at)
		VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		activity.ID,
		activity.AccountID,
		activity.Description,
		activity.WordCount,
		activity.CreatedAt,
	); err != nil {
		return types.Activity{}, classify(err)
	}
	return activity, nil
}

// Recent returns up to limit activities of the account, newest first.
func (r *ActivityRepository) Recent(ctx context.Context, accountID string, limit int) ([]types.Activity, error) {
	const query = `
		SELECT id, account_id, description, word_count, created_at
		FROM activities
		WHERE account_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activities := make([]types.Activity, 0, limit)
	for rows.Next() {
		var activity types.Activity
		if err := rows.Scan(
			&activity.ID,
			&activity.AccountID,
			&activity.Description,
			&activity.WordCount,
			&activity.CreatedAt,
		); err != nil {
			return nil, err
		}
		activity.CreatedAt = activity.CreatedAt.UTC()
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activities, nil
}

// CountByDay counts activities created at or after since, grouped by UTC
// calendar day. Days without activity are omitted. An empty accountID counts
// activities of every account.
func (r *ActivityRepository) CountByDay(ctx context.Context, accountID string, since time.Time) ([]types.DailyCount, error) {
	day := r.dialect.dayExpr("created_at")
	query := `SELECT ` + day + ` AS day, COUNT(1) FROM activities WHERE created_at >= ?`
	args := []any{dbTime(since)}
	if accountID != "" {
		query += ` AND account_id = ?`
		args = append(args, accountID)
	}
	query += ` GROUP BY ` + day + ` ORDER BY day`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make([]types.DailyCount, 0)
	for rows.Next() {
		var c types.DailyCount
		if err := rows.Scan(&c.Date, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Stats returns the total number of activities and words of the account.
func (r *ActivityRepository) Stats(ctx context.Context, accountID string) (types.ActivityStats, error) {
	const query = `
		SELECT COUNT(1), COALESCE(SUM(word_count), 0)
		FROM activities
		WHERE account_id = ?`
	var stats types.ActivityStats
	if err := r.db.QueryRowContext(ctx, r.dialect.Rebind(query), accountID).Scan(
		&stats.TotalActivities,
		&stats.TotalWords,
	); err != nil {
		return types.ActivityStats{}, err
	}
	return stats, nil
}
