package docstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkeye/Telecall/internal/core"
	_ "modernc.org/sqlite"
)

// SQLite persists documents in a single table keyed by (collection, id).
type SQLite struct {
	db   *sql.DB
	path string
}

var _ Persister = (*SQLite)(nil)

// OpenSQLite opens or creates the database file at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; the store serialises access anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			seq        INTEGER NOT NULL,
			fields     TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS documents_seq ON documents(seq)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create seq index: %w", err)
	}

	return &SQLite{db: db, path: path}, nil
}

func (p *SQLite) Load() ([]Record, error) {
	rows, err := p.db.Query(`SELECT collection, id, seq, fields FROM documents ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r   Record
			raw string
		)
		if err := rows.Scan(&r.Collection, &r.ID, &r.Seq, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &r.Fields); err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", r.Collection, r.ID, err)
		}
		if r.Fields == nil {
			r.Fields = core.Fields{}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *SQLite) Save(r Record) error {
	raw, err := json.Marshal(r.Fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	_, err = p.db.Exec(`
		INSERT INTO documents (collection, id, seq, fields) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = CURRENT_TIMESTAMP
	`, r.Collection, r.ID, r.Seq, string(raw))
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (p *SQLite) Close() error { return p.db.Close() }
