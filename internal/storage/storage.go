package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverSQLite3  = "sqlite3"  // mattn/go-sqlite3 (cgo)
	DriverSQLite   = "sqlite"   // modernc.org/sqlite (pure Go)
	DriverPostgres = "postgres" // lib/pq
)

// Storage handles all database operations
type Storage struct {
	db     *sql.DB
	driver string
	insert string
}

// NewStorage opens the record database and creates the user table if missing
func NewStorage(driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite3:
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_synchronous=NORMAL"
		}
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver != DriverPostgres {
		// SQLite only supports one writer
		db.SetMaxOpenConns(1)
	}

	storage := &Storage{
		db:     db,
		driver: driver,
		insert: insertStatement(driver),
	}

	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the user table if it doesn't exist
func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS "user" (
		id              TEXT    PRIMARY KEY NOT NULL,
		name            TEXT    NOT NULL,
		headline        TEXT    NOT NULL,
		gender          INTEGER NOT NULL,
		answer_count    INTEGER NOT NULL,
		question_count  INTEGER NOT NULL,
		voteup_count    INTEGER NOT NULL,
		thanked_count   INTEGER NOT NULL,
		following_count INTEGER NOT NULL,
		follower_count  INTEGER NOT NULL,
		school          TEXT    NOT NULL,
		major           TEXT    NOT NULL,
		address         TEXT    NOT NULL,
		industry        TEXT    NOT NULL,
		company         TEXT    NOT NULL,
		job             TEXT    NOT NULL
	)`

	_, err := s.db.Exec(schema)
	return err
}

func insertStatement(driver string) string {
	placeholders := make([]string, 16)
	for i := range placeholders {
		if driver == DriverPostgres {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}
	return `INSERT INTO "user" VALUES (` + strings.Join(placeholders, ", ") + `)`
}

// InsertProfile writes a single record. A record whose id already exists is
// rejected with an error; the existing row is left untouched.
func (s *Storage) InsertProfile(ctx context.Context, rec ProfileRecord) error {
	_, err := s.db.ExecContext(ctx, s.insert,
		rec.ID, rec.Name, rec.Headline, rec.Gender,
		rec.AnswerCount, rec.QuestionCount, rec.VoteupCount, rec.ThankedCount,
		rec.FollowingCount, rec.FollowerCount,
		rec.School, rec.Major, rec.Address, rec.Industry, rec.Company, rec.Job,
	)
	if err != nil {
		return fmt.Errorf("failed to insert profile %s: %w", rec.ID, err)
	}
	return nil
}

// GetProfile retrieves a record by id, returns nil if not found
func (s *Storage) GetProfile(ctx context.Context, id string) (*ProfileRecord, error) {
	query := `
		SELECT id, name, headline, gender, answer_count, question_count, voteup_count,
			thanked_count, following_count, follower_count, school, major, address,
			industry, company, job
		FROM "user"
		WHERE id = ?`
	if s.driver == DriverPostgres {
		query = strings.Replace(query, "?", "$1", 1)
	}

	var rec ProfileRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Name, &rec.Headline, &rec.Gender,
		&rec.AnswerCount, &rec.QuestionCount, &rec.VoteupCount, &rec.ThankedCount,
		&rec.FollowingCount, &rec.FollowerCount,
		&rec.School, &rec.Major, &rec.Address, &rec.Industry, &rec.Company, &rec.Job,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &rec, nil
}

// CountProfiles returns the number of stored records
func (s *Storage) CountProfiles(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "user"`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}
