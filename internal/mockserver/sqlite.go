package mockserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/oklog/ulid/v2"
	"github.com/the-dev-tools/restsync/pkg/idwrap"
	"github.com/the-dev-tools/restsync/pkg/model/mrecord"
	"github.com/the-dev-tools/restsync/pkg/patch"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	pos      INTEGER PRIMARY KEY AUTOINCREMENT,
	resource TEXT NOT NULL,
	id       TEXT NOT NULL,
	body     BLOB NOT NULL,
	UNIQUE (resource, id)
)`

// SQLiteStore keeps each record as a JSON document keyed by resource and
// canonical id text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path, creating the schema if needed. An empty path
// opens a private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:mockserver_%s?mode=memory&cache=shared", ulid.Make().String())
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) List(ctx context.Context, resource string) (mrecord.Collection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body FROM records WHERE resource = ? ORDER BY pos`, resource)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := mrecord.Collection{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var rec mrecord.Record
		if err := json.Unmarshal(body, &rec); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", resource, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, resource string, id idwrap.IDWrap) (mrecord.Record, error) {
	return getRecord(ctx, s.db, resource, id)
}

func (s *SQLiteStore) Insert(ctx context.Context, resource string, rec mrecord.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := getRecord(ctx, tx, resource, rec.ID); err == nil {
			return fmt.Errorf("%s/%s: %w", resource, rec.ID, ErrDuplicate)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (resource, id, body) VALUES (?, ?, ?)`,
			resource, rec.ID.String(), body)
		return err
	})
}

func (s *SQLiteStore) Replace(ctx context.Context, resource string, rec mrecord.Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return putRecord(ctx, tx, resource, rec)
	})
}

func (s *SQLiteStore) Patch(ctx context.Context, resource string, p patch.RecordPatch) (mrecord.Record, error) {
	var out mrecord.Record
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		cur, err := getRecord(ctx, tx, resource, p.ID)
		if err != nil {
			return err
		}
		out = p.Apply(cur)
		return putRecord(ctx, tx, resource, out)
	})
	return out, err
}

func (s *SQLiteStore) Delete(ctx context.Context, resource string, ids []idwrap.IDWrap) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM records WHERE resource = ? AND id = ?`, resource, id.String())
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getRecord(ctx context.Context, q querier, resource string, id idwrap.IDWrap) (mrecord.Record, error) {
	var body []byte
	err := q.QueryRowContext(ctx,
		`SELECT body FROM records WHERE resource = ? AND id = ?`, resource, id.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return mrecord.Record{}, fmt.Errorf("%s/%s: %w", resource, id, ErrNotFound)
	}
	if err != nil {
		return mrecord.Record{}, err
	}
	var rec mrecord.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return mrecord.Record{}, fmt.Errorf("decode %s/%s: %w", resource, id, err)
	}
	return rec, nil
}

func putRecord(ctx context.Context, tx *sql.Tx, resource string, rec mrecord.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE records SET body = ? WHERE resource = ? AND id = ?`, body, resource, rec.ID.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", resource, rec.ID, ErrNotFound)
	}
	return nil
}
