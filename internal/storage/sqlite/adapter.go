package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/storage"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
	}

	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := adapter.createDefaultUser(); err != nil {
		return nil, fmt.Errorf("failed to create default user: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Connect(config storage.StorageConfig) error {
	sqliteConfig, ok := config.(*Config)
	if !ok {
		return fmt.Errorf("invalid config type for SQLite storage")
	}

	newAdapter, err := NewAdapter(sqliteConfig)
	if err != nil {
		return err
	}

	if a.db != nil {
		a.db.Close()
	}

	a.db = newAdapter.db
	a.config = newAdapter.config

	return nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	return a.db.Ping()
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			uid TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			gender TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id TEXT PRIMARY KEY,
			device_uid TEXT,
			payload TEXT NOT NULL,
			version TEXT NOT NULL,
			age INTEGER,
			height REAL,
			status TEXT,
			recommendation TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (device_uid) REFERENCES devices (uid)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			is_default BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_readings_device_uid ON readings(device_uid)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_created_at ON readings(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_dedup ON readings(device_uid, age)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_recommendation ON readings(recommendation)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

func (a *Adapter) createDefaultUser() error {
	count, err := a.GetUserCount()
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = a.db.Exec(
		`INSERT INTO users (id, username, password_hash, is_default) VALUES (?, ?, ?, 1)`,
		uuid.NewString(), "admin", string(hash),
	)
	return err
}

// Devices

func (a *Adapter) CreateDevice(device *storage.Device) error {
	now := time.Now().UTC()
	device.CreatedAt = now
	device.UpdatedAt = now

	_, err := a.db.Exec(
		`INSERT INTO devices (uid, name, gender, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		device.UID, device.Name, device.Gender, device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		return errors.StorageError("failed to create device", err)
	}
	return nil
}

func (a *Adapter) GetDevice(uid string) (*storage.Device, error) {
	var device storage.Device
	err := a.db.QueryRow(
		`SELECT uid, name, gender, created_at, updated_at FROM devices WHERE uid = ?`, uid,
	).Scan(&device.UID, &device.Name, &device.Gender, &device.CreatedAt, &device.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("device")
	}
	if err != nil {
		return nil, errors.StorageError("failed to get device", err)
	}
	return &device, nil
}

func (a *Adapter) ListDevices() ([]*storage.Device, error) {
	rows, err := a.db.Query(`SELECT uid, name, gender, created_at, updated_at FROM devices ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.StorageError("failed to list devices", err)
	}
	defer rows.Close()

	var devices []*storage.Device
	for rows.Next() {
		var device storage.Device
		if err := rows.Scan(&device.UID, &device.Name, &device.Gender, &device.CreatedAt, &device.UpdatedAt); err != nil {
			return nil, errors.StorageError("failed to scan device", err)
		}
		devices = append(devices, &device)
	}
	return devices, rows.Err()
}

func (a *Adapter) UpdateDevice(device *storage.Device) error {
	device.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(
		`UPDATE devices SET name = ?, gender = ?, updated_at = ? WHERE uid = ?`,
		device.Name, device.Gender, device.UpdatedAt, device.UID,
	)
	if err != nil {
		return errors.StorageError("failed to update device", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFoundError("device")
	}
	return nil
}

func (a *Adapter) DeleteDevice(uid string) error {
	result, err := a.db.Exec(`DELETE FROM devices WHERE uid = ?`, uid)
	if err != nil {
		return errors.StorageError("failed to delete device", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFoundError("device")
	}
	return nil
}

// Readings

const readingColumns = `id, device_uid, payload, version, age, height, status, recommendation, created_at, updated_at`

func (a *Adapter) CreateReading(reading *storage.Reading) error {
	if reading.ID == "" {
		reading.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if reading.CreatedAt.IsZero() {
		reading.CreatedAt = now
	}
	reading.UpdatedAt = now

	_, err := a.db.Exec(
		`INSERT INTO readings (`+readingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.ID,
		nullString(reading.DeviceUID),
		reading.Payload,
		reading.Version,
		nullInt(reading.Age),
		nullFloat(reading.Height),
		nullString(reading.Status),
		nullString(reading.Recommendation),
		reading.CreatedAt,
		reading.UpdatedAt,
	)
	if err != nil {
		return errors.StorageError("failed to create reading", err)
	}
	return nil
}

func (a *Adapter) GetReading(id string) (*storage.Reading, error) {
	row := a.db.QueryRow(`SELECT `+readingColumns+` FROM readings WHERE id = ?`, id)
	reading, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("reading")
	}
	if err != nil {
		return nil, errors.StorageError("failed to get reading", err)
	}
	return reading, nil
}

func (a *Adapter) FindReadingByDedupKey(key storage.DedupKey) (*storage.Reading, error) {
	query := `SELECT ` + readingColumns + ` FROM readings WHERE device_uid = ? AND age = ?`
	args := []interface{}{key.DeviceUID, key.Age}

	if key.Year != 0 {
		query += ` AND CAST(strftime('%Y', created_at) AS INTEGER) = ? AND CAST(strftime('%m', created_at) AS INTEGER) = ?`
		args = append(args, key.Year, int(key.Month))
	}
	if key.Version != "" {
		query += ` AND version = ?`
		args = append(args, key.Version)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	row := a.db.QueryRow(query, args...)
	reading, err := scanReading(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("reading")
	}
	if err != nil {
		return nil, errors.StorageError("failed to find reading by dedup key", err)
	}
	return reading, nil
}

func (a *Adapter) UpdateReading(reading *storage.Reading) error {
	reading.UpdatedAt = time.Now().UTC()
	result, err := a.db.Exec(
		`UPDATE readings SET device_uid = ?, payload = ?, version = ?, age = ?, height = ?, status = ?, updated_at = ? WHERE id = ?`,
		nullString(reading.DeviceUID),
		reading.Payload,
		reading.Version,
		nullInt(reading.Age),
		nullFloat(reading.Height),
		nullString(reading.Status),
		reading.UpdatedAt,
		reading.ID,
	)
	if err != nil {
		return errors.StorageError("failed to update reading", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFoundError("reading")
	}
	return nil
}

func (a *Adapter) UpdateRecommendation(id, recommendation string) error {
	result, err := a.db.Exec(
		`UPDATE readings SET recommendation = ?, updated_at = ? WHERE id = ?`,
		recommendation, time.Now().UTC(), id,
	)
	if err != nil {
		return errors.StorageError("failed to update recommendation", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.NotFoundError("reading")
	}
	return nil
}

func (a *Adapter) ListReadings() ([]*storage.Reading, error) {
	rows, err := a.db.Query(`SELECT ` + readingColumns + ` FROM readings ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.StorageError("failed to list readings", err)
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (a *Adapter) ListUnenriched(since time.Time, limit int) ([]*storage.Reading, error) {
	rows, err := a.db.Query(
		`SELECT `+readingColumns+` FROM readings
		 WHERE recommendation IS NULL AND status IS NOT NULL AND device_uid IS NOT NULL AND created_at >= ?
		 ORDER BY created_at DESC LIMIT ?`,
		since, limit,
	)
	if err != nil {
		return nil, errors.StorageError("failed to list unenriched readings", err)
	}
	defer rows.Close()
	return collectReadings(rows)
}

func (a *Adapter) CountReadings() (int, error) {
	var count int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&count); err != nil {
		return 0, errors.StorageError("failed to count readings", err)
	}
	return count, nil
}

// Settings

func (a *Adapter) GetSetting(key string) (string, error) {
	var value string
	err := a.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", errors.NotFoundError("setting")
	}
	if err != nil {
		return "", errors.StorageError("failed to get setting", err)
	}
	return value, nil
}

func (a *Adapter) SetSetting(key, value string) error {
	_, err := a.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return errors.StorageError("failed to set setting", err)
	}
	return nil
}

// Users

func (a *Adapter) CreateUser(username, password string) (*storage.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.InternalError("failed to hash password", err)
	}

	user := &storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err = a.db.Exec(
		`INSERT INTO users (id, username, password_hash, is_default, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		user.ID, user.Username, string(hash), user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		return nil, errors.StorageError("failed to create user", err)
	}
	return user, nil
}

func (a *Adapter) ValidateUser(username, password string) (*storage.User, error) {
	var user storage.User
	err := a.db.QueryRow(
		`SELECT id, username, password_hash, is_default, created_at, updated_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsDefault, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.AuthError("invalid credentials")
	}
	if err != nil {
		return nil, errors.StorageError("failed to look up user", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, errors.AuthError("invalid credentials")
	}
	return &user, nil
}

func (a *Adapter) GetUserCount() (int, error) {
	var count int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, errors.StorageError("failed to count users", err)
	}
	return count, nil
}

// scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReading(row rowScanner) (*storage.Reading, error) {
	var reading storage.Reading
	var deviceUID, status, recommendation sql.NullString
	var age sql.NullInt64
	var height sql.NullFloat64

	err := row.Scan(
		&reading.ID, &deviceUID, &reading.Payload, &reading.Version,
		&age, &height, &status, &recommendation,
		&reading.CreatedAt, &reading.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deviceUID.Valid {
		reading.DeviceUID = &deviceUID.String
	}
	if age.Valid {
		v := int(age.Int64)
		reading.Age = &v
	}
	if height.Valid {
		reading.Height = &height.Float64
	}
	if status.Valid {
		reading.Status = &status.String
	}
	if recommendation.Valid {
		reading.Recommendation = &recommendation.String
	}

	return &reading, nil
}

func collectReadings(rows *sql.Rows) ([]*storage.Reading, error) {
	var readings []*storage.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, errors.StorageError("failed to scan reading", err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
