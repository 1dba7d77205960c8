package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Divkix/pickmyclass/internal/model"
)

// WatchRepo reads the watches table.  Watches are created and deleted
// by the account-facing API; the monitoring core only enumerates the
// watchers of a section when fanning out notifications.
type WatchRepo struct {
	db *sql.DB
}

// NewWatchRepo returns a WatchRepo bound to the provided database.
func NewWatchRepo(db *sql.DB) *WatchRepo { return &WatchRepo{db: db} }

// WatchersForSection returns every watcher of one section.
func (r *WatchRepo) WatchersForSection(ctx context.Context, classNbr string) ([]model.Watcher, error) {
	const q = `SELECT id, user_id, email, class_nbr FROM watches WHERE class_nbr = ?`
	rows, err := r.db.QueryContext(ctx, q, classNbr)
	if err != nil {
		return nil, fmt.Errorf("watchers for section %s: %w", classNbr, err)
	}
	defer rows.Close()
	return scanWatchers(rows)
}

func scanWatchers(rows *sql.Rows) ([]model.Watcher, error) {
	var watchers []model.Watcher
	for rows.Next() {
		var w model.Watcher
		if err := rows.Scan(&w.WatchID, &w.UserID, &w.Email, &w.ClassNbr); err != nil {
			return nil, err
		}
		watchers = append(watchers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return watchers, nil
}
