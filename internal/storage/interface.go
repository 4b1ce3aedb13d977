package storage

import (
	"time"
)

// Storage is the persistent store behind the ingestion pipeline. Adapters
// must provide per-record atomic updates; no multi-record transactions are
// required. UpdateRecommendation in particular must patch only the
// recommendation field, last write wins.
type Storage interface {
	// Connection management
	Connect(config StorageConfig) error
	Close() error
	Health() error

	// Device registry. These are collaborator operations used by the
	// pipeline and enrichment reconciler; the gateway exposes no CRUD
	// HTTP surface for them.
	CreateDevice(device *Device) error
	GetDevice(uid string) (*Device, error)
	ListDevices() ([]*Device, error)
	UpdateDevice(device *Device) error
	DeleteDevice(uid string) error

	// Telemetry readings
	CreateReading(reading *Reading) error
	GetReading(id string) (*Reading, error)
	FindReadingByDedupKey(key DedupKey) (*Reading, error)
	UpdateReading(reading *Reading) error
	UpdateRecommendation(id, recommendation string) error
	ListReadings() ([]*Reading, error)
	ListUnenriched(since time.Time, limit int) ([]*Reading, error)
	CountReadings() (int, error)

	// Settings
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error

	// Users for the read API
	CreateUser(username, password string) (*User, error)
	ValidateUser(username, password string) (*User, error)
	GetUserCount() (int, error)
}

// StorageConfig abstracts adapter-specific configuration.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}

// StorageFactory creates a Storage from its config.
type StorageFactory interface {
	Create(config StorageConfig) (Storage, error)
	GetType() string
}

// GenericConfig is a simple map-based implementation of StorageConfig used
// by the factory layer before an adapter builds its own typed config.
type GenericConfig map[string]interface{}

func (gc GenericConfig) Validate() error {
	return nil
}

func (gc GenericConfig) GetType() string {
	if t, ok := gc["type"].(string); ok {
		return t
	}
	return "unknown"
}

func (gc GenericConfig) GetConnectionString() string {
	if cs, ok := gc["connection_string"].(string); ok {
		return cs
	}
	return ""
}

// GetString returns a string entry or the empty string.
func (gc GenericConfig) GetString(key string) string {
	if v, ok := gc[key].(string); ok {
		return v
	}
	return ""
}

// Device is a registered field device. UID is the natural key assigned
// out-of-band when the device is provisioned.
type Device struct {
	UID       string    `json:"uid"`
	Name      string    `json:"name"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reading is a stored telemetry record. Payload holds the envelope
// ciphertext verbatim for audit and replay (or the canonical JSON body for
// the plaintext protocol); the parsed columns are nil when decryption or
// parsing failed after the envelope was persisted. Recommendation is
// populated only by the enrichment reconciler or a manual patch.
type Reading struct {
	ID             string     `json:"id"`
	DeviceUID      *string    `json:"device_uid,omitempty"`
	Payload        string     `json:"payload"`
	Version        string     `json:"version"`
	Age            *int       `json:"age,omitempty"`
	Height         *float64   `json:"height,omitempty"`
	Status         *string    `json:"status,omitempty"`
	Recommendation *string    `json:"recommendation,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Interpreted reports whether the stored record carries parsed telemetry.
func (r *Reading) Interpreted() bool {
	return r.DeviceUID != nil && r.Age != nil && r.Height != nil && r.Status != nil
}

// DedupKey identifies "the current reading" a new submission may overwrite.
// Year and Month are zero in the plaintext-protocol variant, where the key
// is (device, reported age) alone; the encrypted-at-rest variant buckets by
// calendar month as well. A non-empty Version restricts the match to that
// protocol variant, so a plaintext upsert can never claim an encrypted
// record whose ciphertext must stay on file verbatim.
type DedupKey struct {
	DeviceUID string
	Age       int
	Year      int
	Month     time.Month
	Version   string
}

// BucketOf returns the dedup key a stored record falls into, bucketing by
// the record's creation month.
func BucketOf(deviceUID string, age int, createdAt time.Time) DedupKey {
	return DedupKey{
		DeviceUID: deviceUID,
		Age:       age,
		Year:      createdAt.Year(),
		Month:     createdAt.Month(),
	}
}

// User is an operator account for the read API.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
