package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/zjrosen/provmap/internal/log"
	"github.com/zjrosen/provmap/internal/provider"
)

// ErrRecordNotFound is returned by FindRecord when no row matches.
var ErrRecordNotFound = errors.New("provider record not found")

const recordColumns = `id, package, class, authorities, uid, process, multiprocess, published_at`

// Repository stores provider records and the bindings that point at them.
type Repository struct {
	db *sql.DB
}

// newRepository creates a new Repository instance.
func newRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// scanRecord scans a row into a RecordModel.
func scanRecord(scanner interface{ Scan(...any) error }) (*RecordModel, error) {
	var model RecordModel
	err := scanner.Scan(
		&model.ID, &model.Package, &model.Class, &model.Authorities,
		&model.UID, &model.Process, &model.Multiprocess, &model.PublishedAt,
	)
	return &model, err
}

// Publish saves rec and binds it under every binding in one transaction.
// Existing bindings with the same key and scope are replaced.
func (r *Repository) Publish(rec *provider.Record, bindings []provider.Binding) error {
	return r.inTx(func(tx *sql.Tx) error {
		m := toRecordModel(rec)
		_, err := tx.Exec(
			`INSERT INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				package = excluded.package, class = excluded.class,
				authorities = excluded.authorities, uid = excluded.uid,
				process = excluded.process, multiprocess = excluded.multiprocess,
				published_at = excluded.published_at`,
			m.ID, m.Package, m.Class, m.Authorities, m.UID, m.Process, m.Multiprocess, m.PublishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save record: %w", err)
		}

		for _, b := range bindings {
			bm := toBindingModel(b)
			_, err := tx.Exec(
				`INSERT INTO bindings (kind, key, global, user_id, record_id) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(kind, key, global, user_id) DO UPDATE SET record_id = excluded.record_id`,
				bm.Kind, bm.Key, bm.Global, bm.UserID, bm.RecordID,
			)
			if err != nil {
				return fmt.Errorf("failed to save binding %s %q: %w", bm.Kind, bm.Key, err)
			}
		}
		return deleteOrphans(tx)
	})
}

// Unbind deletes the given bindings and any record no binding refers to
// any more. Bindings that do not exist are ignored.
func (r *Repository) Unbind(bindings ...provider.Binding) error {
	if len(bindings) == 0 {
		return nil
	}
	return r.inTx(func(tx *sql.Tx) error {
		for _, b := range bindings {
			bm := toBindingModel(b)
			_, err := tx.Exec(
				`DELETE FROM bindings WHERE kind = ? AND key = ? AND global = ? AND user_id = ?`,
				bm.Kind, bm.Key, bm.Global, bm.UserID,
			)
			if err != nil {
				return fmt.Errorf("failed to delete binding %s %q: %w", bm.Kind, bm.Key, err)
			}
		}
		return deleteOrphans(tx)
	})
}

// FindRecord retrieves a record by ID.
// Returns ErrRecordNotFound if no matching record exists.
func (r *Repository) FindRecord(id string) (*provider.Record, error) {
	row := r.db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	model, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return model.toDomain(), nil
}

// Load returns every stored record and binding. Records come oldest first
// and bindings grouped by kind and scope, which keeps dumps of the store
// stable.
func (r *Repository) Load() ([]*provider.Record, []provider.Binding, error) {
	rows, err := r.db.Query(`SELECT ` + recordColumns + ` FROM records ORDER BY published_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*provider.Record
	for rows.Next() {
		model, err := scanRecord(rows)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, model.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate records: %w", err)
	}

	brows, err := r.db.Query(`SELECT kind, key, global, user_id, record_id FROM bindings ORDER BY kind, global DESC, user_id, key`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer func() { _ = brows.Close() }()

	var bindings []provider.Binding
	for brows.Next() {
		var bm BindingModel
		if err := brows.Scan(&bm.Kind, &bm.Key, &bm.Global, &bm.UserID, &bm.RecordID); err != nil {
			return nil, nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, bm.toDomain())
	}
	if err := brows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to iterate bindings: %w", err)
	}

	log.Debug(log.CatStore, "loaded provider map", "records", len(records), "bindings", len(bindings))
	return records, bindings, nil
}

func (r *Repository) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func deleteOrphans(tx *sql.Tx) error {
	res, err := tx.Exec(`DELETE FROM records WHERE id NOT IN (SELECT record_id FROM bindings)`)
	if err != nil {
		return fmt.Errorf("failed to delete orphan records: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Debug(log.CatStore, "deleted orphan records", "count", n)
	}
	return nil
}
