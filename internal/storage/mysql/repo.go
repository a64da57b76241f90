package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mane_reservas/internal/adapters/observability"
)

func valExpiry(ttlSec int) any {
	if ttlSec <= 0 {
		return nil
	}
	return time.Now().UTC().Add(time.Duration(ttlSec) * time.Second)
}

// Repo is a durable JSON slot store; it satisfies domain.Cache.
type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Get(ctx context.Context, key string, dst any) (bool, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, getSlotSQL, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		observability.ObserveCache("mysql", "miss")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observability.ObserveCache("mysql", "hit")
	return true, json.Unmarshal(payload, dst)
}

func (r *Repo) Set(ctx context.Context, key string, v any, ttlSec int) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	observability.ObserveCache("mysql", "set")
	_, err = r.db.ExecContext(ctx, upsertSlotSQL, key, string(b), valExpiry(ttlSec))
	return err
}

func (r *Repo) Del(ctx context.Context, key string) error {
	observability.ObserveCache("mysql", "del")
	_, err := r.db.ExecContext(ctx, deleteSlotSQL, key)
	return err
}

// PurgeExpired removes rows past their expiry and returns how many went away.
func (r *Repo) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeExpiredSQL)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
