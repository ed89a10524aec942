package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ssd-technologies/depot/internal/collection"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// DB wraps a sql.DB connection to a SQLite database. It implements
// collection.Gateway and holds the user table.
type DB struct {
	db *sql.DB
}

var _ collection.Gateway = (*DB)(nil)

// NewDB opens (or creates) a SQLite database at path and runs schema migrations.
func NewDB(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Wrap uses an already open connection as is, without migrating.
func Wrap(sqlDB *sql.DB) *DB {
	return &DB{db: sqlDB}
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (d *DB) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
    login TEXT PRIMARY KEY,
    password_hash TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vehicles (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    x INTEGER NOT NULL,
    y INTEGER NOT NULL,
    engine_power REAL,
    capacity REAL NOT NULL,
    distance_travelled INTEGER NOT NULL,
    fuel_type TEXT,
    owner TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vehicles_owner ON vehicles(owner);`
	_, err := d.db.Exec(schema)
	return err
}

// --- User CRUD ---

// CreateUser inserts a new user. It returns ErrUserExists if the login is taken.
func (d *DB) CreateUser(ctx context.Context, login, passwordHash string) error {
	res, err := d.db.ExecContext(ctx,
		`INSERT INTO users (login, password_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(login) DO NOTHING`,
		login, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	if n == 0 {
		return ErrUserExists
	}
	return nil
}

// SetUserPassword creates login or replaces its password hash.
func (d *DB) SetUserPassword(ctx context.Context, login, passwordHash string) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (login, password_hash, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(login) DO UPDATE SET password_hash = excluded.password_hash`,
		login, passwordHash, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	return nil
}

// GetUser retrieves a user by login.
func (d *DB) GetUser(ctx context.Context, login string) (*User, error) {
	u := &User{}
	err := d.db.QueryRowContext(ctx,
		`SELECT login, password_hash, created_at FROM users WHERE login = ?`, login,
	).Scan(&u.Login, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// --- Vehicle CRUD (collection.Gateway) ---

// LoadAll returns every stored vehicle with its owner, ordered by id.
func (d *DB) LoadAll(ctx context.Context) ([]collection.Owned, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, x, y, engine_power, capacity, distance_travelled, fuel_type, owner, created_at
		 FROM vehicles ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load vehicles: %w", err)
	}
	defer rows.Close()

	var out []collection.Owned
	for rows.Next() {
		var r vehicleRow
		if err := rows.Scan(&r.ID, &r.Name, &r.X, &r.Y, &r.EnginePower, &r.Capacity,
			&r.DistanceTravelled, &r.FuelType, &r.Owner, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		o, err := r.owned()
		if err != nil {
			return nil, fmt.Errorf("decode vehicle %d: %w", r.ID, err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Save inserts a new vehicle.
func (d *DB) Save(ctx context.Context, rec collection.Record, owner string) error {
	r := rowFromRecord(rec, owner)
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, name, x, y, engine_power, capacity, distance_travelled, fuel_type, owner, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.X, r.Y, r.EnginePower, r.Capacity, r.DistanceTravelled, r.FuelType, r.Owner, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save vehicle: %w", err)
	}
	return nil
}

// Update overwrites the stored fields of vehicle id.
func (d *DB) Update(ctx context.Context, id int64, rec collection.Record, owner string) error {
	r := rowFromRecord(rec, owner)
	res, err := d.db.ExecContext(ctx,
		`UPDATE vehicles SET name = ?, x = ?, y = ?, engine_power = ?, capacity = ?,
		 distance_travelled = ?, fuel_type = ?, owner = ? WHERE id = ?`,
		r.Name, r.X, r.Y, r.EnginePower, r.Capacity, r.DistanceTravelled, r.FuelType, r.Owner, id,
	)
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update vehicle: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update vehicle %d: %w", id, sql.ErrNoRows)
	}
	return nil
}

// Delete removes vehicle id. Deleting a missing row is not an error.
func (d *DB) Delete(ctx context.Context, id int64) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM vehicles WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete vehicle: %w", err)
	}
	return nil
}

// DeleteMany removes all ids in one transaction.
func (d *DB) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete vehicles: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM vehicles WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("delete vehicles: prepare: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete vehicle %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete vehicles: commit: %w", err)
	}
	return nil
}

// CountVehicles returns the number of stored vehicles.
func (d *DB) CountVehicles(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vehicles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vehicles: %w", err)
	}
	return n, nil
}
