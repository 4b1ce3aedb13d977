package pipeline

import (
	"time"

	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/envelope"
	"telemetry-gateway/internal/storage"
)

// View is one record as the read API exposes it: the decrypted reading
// merged with the stored metadata.
type View struct {
	ID             string    `json:"id"`
	UID            string    `json:"uid"`
	Age            int       `json:"age"`
	Height         float64   `json:"height"`
	Status         string    `json:"status"`
	Recommendation *string   `json:"recommendation,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Reader materializes stored records for the read API. Ciphertext is
// decrypted opportunistically on every read; records that fail to
// decrypt or parse are omitted from the result set rather than turning
// the whole response into an error. Encrypted records are additionally
// collapsed to the latest entry per dedup bucket, mirroring the upsert
// the plaintext variant does at write time.
type Reader struct {
	decryptor *envelope.Decryptor
	store     storage.Storage
	logger    logging.Logger
}

func NewReader(secrets *envelope.Secrets, store storage.Storage, logger logging.Logger) *Reader {
	return &Reader{
		decryptor: envelope.NewDecryptor(secrets),
		store:     store,
		logger:    logger,
	}
}

// List returns every visible record, newest first.
func (r *Reader) List() ([]View, error) {
	return r.list("")
}

// ListByDevice returns the visible records reported by one device.
func (r *Reader) ListByDevice(uid string) ([]View, error) {
	return r.list(uid)
}

func (r *Reader) list(uid string) ([]View, error) {
	records, err := r.store.ListReadings()
	if err != nil {
		return nil, err
	}

	seen := make(map[storage.DedupKey]bool)
	views := make([]View, 0, len(records))

	for _, record := range records {
		view, ok := r.materialize(record)
		if !ok {
			continue
		}
		if uid != "" && view.UID != uid {
			continue
		}

		// Records arrive newest first, so the first record in a bucket
		// is the one that stays visible.
		bucket := storage.BucketOf(view.UID, view.Age, view.CreatedAt)
		if seen[bucket] {
			continue
		}
		seen[bucket] = true

		views = append(views, view)
	}

	return views, nil
}

// materialize turns one stored record into a view, decrypting when the
// parsed columns are absent. Returns false when the record cannot be
// interpreted.
func (r *Reader) materialize(record *storage.Reading) (View, bool) {
	if record.Interpreted() {
		return View{
			ID:             record.ID,
			UID:            *record.DeviceUID,
			Age:            *record.Age,
			Height:         *record.Height,
			Status:         *record.Status,
			Recommendation: record.Recommendation,
			CreatedAt:      record.CreatedAt,
		}, true
	}

	env := &envelope.Envelope{
		Payload: record.Payload,
		Version: envelope.Version(record.Version),
	}

	ciphertext, err := env.CiphertextBytes()
	if err != nil {
		r.omit(record, err)
		return View{}, false
	}

	plaintext, err := r.decryptor.Decrypt(ciphertext)
	if err != nil {
		r.omit(record, err)
		return View{}, false
	}

	reading, err := envelope.DecodeReading(plaintext)
	if err != nil {
		r.omit(record, err)
		return View{}, false
	}

	return View{
		ID:             record.ID,
		UID:            reading.UID,
		Age:            reading.Age,
		Height:         reading.Height,
		Status:         reading.Status,
		Recommendation: record.Recommendation,
		CreatedAt:      record.CreatedAt,
	}, true
}

func (r *Reader) omit(record *storage.Reading, err error) {
	r.logger.Debug("omitting unreadable record from read results",
		logging.String("reading_id", record.ID),
		logging.Err(err),
	)
}
