package state

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/discord-net/dgate/caches"
	"github.com/discord-net/dgate/model"
	"github.com/jmoiron/sqlx"
)

// ModelsTable stores every cached model as a JSON document keyed by (kind, parent_id, id).
type ModelsTable struct{}

func NewModelsTable(db *sqlx.DB) *ModelsTable {
	// make sure tables are made
	db.MustExec(`
	CREATE TABLE IF NOT EXISTS dgate_models (
		kind TEXT NOT NULL,
		parent_id BIGINT NOT NULL,
		id BIGINT NOT NULL,
		data JSONB NOT NULL,
		PRIMARY KEY (kind, parent_id, id)
	);
	`)
	return &ModelsTable{}
}

type modelRow struct {
	ID   int64  `db:"id"`
	Data []byte `db:"data"`
}

func rowData(rows []modelRow) [][]byte {
	out := make([][]byte, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Data)
	}
	return out
}

// Lock takes a transaction scoped advisory lock on one key, so that read-modify-write of a row which
// does not exist yet is still serialised.
func (t *ModelsTable) Lock(txn *sqlx.Tx, p caches.Partition, id model.Snowflake) error {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s/%d/%d", p.Kind, p.Parent, id)
	_, err := txn.Exec(`SELECT pg_advisory_xact_lock($1)`, int64(h.Sum64()))
	return err
}

func (t *ModelsTable) Upsert(txn *sqlx.Tx, p caches.Partition, id model.Snowflake, data []byte) error {
	_, err := txn.Exec(`
	INSERT INTO dgate_models(kind, parent_id, id, data, updated_at) VALUES($1, $2, $3, $4, now())
	ON CONFLICT (kind, parent_id, id) DO UPDATE SET data = $4, updated_at = now()`,
		string(p.Kind), int64(p.Parent), int64(id), data,
	)
	return err
}

func (t *ModelsTable) Select(txn *sqlx.Tx, p caches.Partition, id model.Snowflake, forUpdate bool) ([]byte, bool, error) {
	query := `SELECT data FROM dgate_models WHERE kind = $1 AND parent_id = $2 AND id = $3`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var data []byte
	err := txn.QueryRow(query, string(p.Kind), int64(p.Parent), int64(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (t *ModelsTable) Delete(txn *sqlx.Tx, p caches.Partition, id model.Snowflake) ([]byte, bool, error) {
	var data []byte
	err := txn.QueryRow(
		`DELETE FROM dgate_models WHERE kind = $1 AND parent_id = $2 AND id = $3 RETURNING data`,
		string(p.Kind), int64(p.Parent), int64(id),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// SelectBefore returns up to limit rows with id < from, ascending.
func (t *ModelsTable) SelectBefore(txn *sqlx.Tx, p caches.Partition, from model.Snowflake, limit int) ([]modelRow, error) {
	var rows []modelRow
	err := txn.Select(&rows, `
	SELECT id, data FROM (
		SELECT id, data FROM dgate_models WHERE kind = $1 AND parent_id = $2 AND id < $3 ORDER BY id DESC LIMIT $4
	) AS window ORDER BY id ASC`,
		string(p.Kind), int64(p.Parent), int64(from), limit,
	)
	return rows, err
}

// SelectAfter returns up to limit rows with id > from (or >= from when inclusive), ascending.
func (t *ModelsTable) SelectAfter(txn *sqlx.Tx, p caches.Partition, from model.Snowflake, limit int, inclusive bool) ([]modelRow, error) {
	op := ">"
	if inclusive {
		op = ">="
	}
	var rows []modelRow
	err := txn.Select(&rows, `
	SELECT id, data FROM dgate_models WHERE kind = $1 AND parent_id = $2 AND id `+op+` $3 ORDER BY id ASC LIMIT $4`,
		string(p.Kind), int64(p.Parent), int64(from), limit,
	)
	return rows, err
}

func (t *ModelsTable) SelectAll(txn *sqlx.Tx, p caches.Partition) ([]modelRow, error) {
	var rows []modelRow
	err := txn.Select(&rows, `SELECT id, data FROM dgate_models WHERE kind = $1 AND parent_id = $2 ORDER BY id ASC`,
		string(p.Kind), int64(p.Parent),
	)
	return rows, err
}

func (t *ModelsTable) Count(txn *sqlx.Tx, p caches.Partition) (count int, err error) {
	err = txn.QueryRow(`SELECT count(*) FROM dgate_models WHERE kind = $1 AND parent_id = $2`,
		string(p.Kind), int64(p.Parent),
	).Scan(&count)
	return
}

func (t *ModelsTable) DeletePartition(txn *sqlx.Tx, p caches.Partition) (int64, error) {
	res, err := txn.Exec(`DELETE FROM dgate_models WHERE kind = $1 AND parent_id = $2`, string(p.Kind), int64(p.Parent))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
