package storage

import (
	"context"

	"github.com/hyperjump/taleweave/internal/models"
)

// IncrementTaskUsage atomically adds u's counters to the (date, task) row.
func (s *SQLiteStorage) IncrementTaskUsage(ctx context.Context, u models.BudgetUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_task_usage (date, task, requests, tokens_in, tokens_out)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(date, task) DO UPDATE SET
		   requests = requests + excluded.requests,
		   tokens_in = tokens_in + excluded.tokens_in,
		   tokens_out = tokens_out + excluded.tokens_out`,
		u.Date, u.Task, u.Requests, u.TokensIn, u.TokensOut,
	)
	return err
}

// IncrementModelUsage atomically adds u's counters to the (date, provider, model) row.
func (s *SQLiteStorage) IncrementModelUsage(ctx context.Context, u models.BudgetUsage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_model_usage (date, provider, model, requests, tokens_in, tokens_out)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(date, provider, model) DO UPDATE SET
		   requests = requests + excluded.requests,
		   tokens_in = tokens_in + excluded.tokens_in,
		   tokens_out = tokens_out + excluded.tokens_out`,
		u.Date, u.Provider, u.Model, u.Requests, u.TokensIn, u.TokensOut,
	)
	return err
}

// GetTaskUsage returns the request count of a task on a date.
func (s *SQLiteStorage) GetTaskUsage(ctx context.Context, date, task string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(requests), 0) FROM budget_task_usage WHERE date = ? AND task = ?`,
		date, task).Scan(&n)
	return n, err
}

// GetModelUsage returns the request count of a model on a date, summed over providers.
func (s *SQLiteStorage) GetModelUsage(ctx context.Context, date, model string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(requests), 0) FROM budget_model_usage WHERE date = ? AND model = ?`,
		date, model).Scan(&n)
	return n, err
}

// ListUsage returns every task and model counter of a date.
func (s *SQLiteStorage) ListUsage(ctx context.Context, date string) ([]*models.BudgetUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, task, '', '', requests, tokens_in, tokens_out FROM budget_task_usage WHERE date = ?
		 UNION ALL
		 SELECT date, '', provider, model, requests, tokens_in, tokens_out FROM budget_model_usage WHERE date = ?
		 ORDER BY 2 DESC, 3, 4`, date, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.BudgetUsage
	for rows.Next() {
		var u models.BudgetUsage
		if err := rows.Scan(&u.Date, &u.Task, &u.Provider, &u.Model, &u.Requests, &u.TokensIn, &u.TokensOut); err != nil {
			return nil, err
		}
		out = append(out, &u)
	}
	return out, rows.Err()
}

// GetSetting returns a stored setting and whether it exists.
func (s *SQLiteStorage) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if isNoRows(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

// SetSetting writes a setting.
func (s *SQLiteStorage) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}
