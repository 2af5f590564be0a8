package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adshub/adshub-go/pkg/codec"
	"github.com/adshub/adshub-go/pkg/hub"
	"github.com/adshub/adshub-go/pkg/subscription"
)

// ErrUnsupportedValue is returned by Save for values the codec never
// produces.
var ErrUnsupportedValue = errors.New("unsupported value type")

// Value kinds stored alongside each value.
const (
	kindBool     = "bool"
	kindInt      = "int"
	kindUint     = "uint"
	kindFloat    = "float"
	kindString   = "string"
	kindDuration = "duration"
	kindTime     = "time"
)

// Record is one stored value.
type Record struct {
	Key       subscription.Key
	Value     any
	UpdatedAt time.Time
}

// Store is a SQLite-backed last-value store.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ hub.ValueStore = (*Store)(nil)

// Open opens or creates the store at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each in-memory connection is its own database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS last_values (
		address TEXT NOT NULL,
		type TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (address, type)
	);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores value as the latest value of key.
func (s *Store) Save(key subscription.Key, value any, at time.Time) error {
	kind, text, err := encodeValue(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO last_values (address, type, kind, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (address, type) DO UPDATE SET
			kind = excluded.kind,
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key.Address, key.Type.String(), kind, text, at.UnixNano())
	return err
}

// Load returns the stored value of key. ok is false if there is none.
func (s *Store) Load(key subscription.Key) (any, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		kind, text string
		updated    int64
	)
	err := s.db.QueryRow(`
		SELECT kind, value, updated_at FROM last_values
		WHERE address = ? AND type = ?
	`, key.Address, key.Type.String()).Scan(&kind, &text, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	v, err := decodeValue(kind, text)
	if err != nil {
		return nil, time.Time{}, false, fmt.Errorf("%s: %w", key, err)
	}
	return v, time.Unix(0, updated), true, nil
}

// Delete removes the stored value of key.
func (s *Store) Delete(key subscription.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM last_values WHERE address = ? AND type = ?`, key.Address, key.Type.String())
	return err
}

// List returns all stored values ordered by address and type. Rows whose
// type or value no longer decodes are skipped.
func (s *Store) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT address, type, kind, value, updated_at FROM last_values
		ORDER BY address, type
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			address, typ, kind, text string
			updated                  int64
		)
		if err := rows.Scan(&address, &typ, &kind, &text, &updated); err != nil {
			return nil, err
		}
		t, err := codec.ParseDataType(typ)
		if err != nil {
			continue
		}
		v, err := decodeValue(kind, text)
		if err != nil {
			continue
		}
		records = append(records, Record{
			Key:       subscription.Key{Address: address, Type: t},
			Value:     v,
			UpdatedAt: time.Unix(0, updated),
		})
	}
	return records, rows.Err()
}

// Prune removes values last updated before cutoff and returns how many
// were removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM last_values WHERE updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func encodeValue(v any) (string, string, error) {
	var kind string
	switch x := v.(type) {
	case bool:
		kind = kindBool
	case int64:
		kind = kindInt
	case uint64:
		kind = kindUint
	case float64:
		kind = kindFloat
	case string:
		kind = kindString
	case time.Duration:
		kind, v = kindDuration, int64(x)
	case time.Time:
		kind = kindTime
	default:
		return "", "", fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", "", err
	}
	return kind, string(data), nil
}

func decodeValue(kind, text string) (any, error) {
	data := []byte(text)
	switch kind {
	case kindBool:
		var v bool
		err := json.Unmarshal(data, &v)
		return v, err
	case kindInt:
		var v int64
		err := json.Unmarshal(data, &v)
		return v, err
	case kindUint:
		var v uint64
		err := json.Unmarshal(data, &v)
		return v, err
	case kindFloat:
		var v float64
		err := json.Unmarshal(data, &v)
		return v, err
	case kindString:
		var v string
		err := json.Unmarshal(data, &v)
		return v, err
	case kindDuration:
		var v int64
		err := json.Unmarshal(data, &v)
		return time.Duration(v), err
	case kindTime:
		var v time.Time
		err := json.Unmarshal(data, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown value kind %q", kind)
	}
}
