// Package pipeline is the ingestion state machine. A submission moves
// through Received, TagVerified, Persisted, Decrypted, Parsed, Resolved
// and Acknowledged; enrichment happens after acknowledgment and never
// holds up the device.
//
// The failure policy is asymmetric on purpose: anything that fails
// before the ciphertext is durable rejects the request, anything after
// is logged and the device still gets its 201. A field unit cannot
// retransmit a report it has already discarded, so a stored-but-
// unreadable envelope beats a clean error.
package pipeline

import (
	"context"

	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/envelope"
	"telemetry-gateway/internal/registry"
	"telemetry-gateway/internal/storage"
)

// Enqueuer accepts readings for asynchronous enrichment.
type Enqueuer interface {
	Enqueue(reading *storage.Reading) bool
}

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(*storage.Reading) bool { return false }

// Result reports what ingestion did with a submission.
type Result struct {
	Reading *storage.Reading
	// Interpreted is false when the envelope was stored but could not
	// be decrypted, parsed or resolved.
	Interpreted bool
	// Deduplicated is true when a plaintext submission updated an
	// existing record in place instead of creating one.
	Deduplicated bool
}

type Pipeline struct {
	verifier   *envelope.Verifier
	decryptor  *envelope.Decryptor
	store      storage.Storage
	registry   *registry.Registry
	reconciler Enqueuer
	logger     logging.Logger
}

// New builds a Pipeline. A nil reconciler disables the enrichment
// hand-off; everything up to acknowledgement behaves the same.
func New(secrets *envelope.Secrets, store storage.Storage, reg *registry.Registry, reconciler Enqueuer, logger logging.Logger) *Pipeline {
	if reconciler == nil {
		reconciler = nopEnqueuer{}
	}
	return &Pipeline{
		verifier:   envelope.NewVerifier(secrets),
		decryptor:  envelope.NewDecryptor(secrets),
		store:      store,
		registry:   reg,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Ingest runs one submission through the state machine. The error
// return maps directly onto the HTTP response: integrity errors are
// 403, validation errors 400, storage errors 500, nil is 201.
func (p *Pipeline) Ingest(ctx context.Context, body []byte) (*Result, error) {
	env, plain, err := envelope.Sniff(body)
	if err != nil {
		return nil, err
	}

	if plain != nil {
		return p.ingestPlaintext(ctx, body, plain)
	}
	return p.ingestEnvelope(ctx, env)
}

// ingestEnvelope handles the encrypted variants: verify tag, persist
// ciphertext, then interpret best-effort.
func (p *Pipeline) ingestEnvelope(ctx context.Context, env *envelope.Envelope) (*Result, error) {
	// An undecodable tag is treated the same as a mismatch: the sender
	// failed to authenticate, so nothing is persisted and the response
	// is a 403 rather than a 400.
	tag, err := env.TagBytes()
	if err != nil {
		return nil, errors.IntegrityError("malformed authentication tag")
	}
	if !p.verifier.Verify([]byte(env.Payload), tag) {
		return nil, errors.IntegrityError("authentication tag mismatch")
	}

	// Durable before any interpretation.
	record := &storage.Reading{
		Payload: env.Payload,
		Version: string(env.Version),
	}
	if err := p.store.CreateReading(record); err != nil {
		return nil, err
	}

	reading, err := p.interpret(env)
	if err != nil {
		p.logger.Warn("stored envelope could not be interpreted",
			logging.String("reading_id", record.ID),
			logging.String("version", record.Version),
			logging.Err(err),
		)
		return &Result{Reading: record}, nil
	}

	if _, err := p.registry.Find(ctx, reading.UID); err != nil {
		p.logger.Warn("reading retained for unregistered device",
			logging.String("reading_id", record.ID),
			logging.String("uid", reading.UID),
		)
		return &Result{Reading: record}, nil
	}

	record.DeviceUID = &reading.UID
	record.Age = &reading.Age
	record.Height = &reading.Height
	record.Status = &reading.Status
	if err := p.store.UpdateReading(record); err != nil {
		p.logger.Error("failed to attach parsed fields to stored envelope", err,
			logging.String("reading_id", record.ID),
		)
		return &Result{Reading: record}, nil
	}

	p.reconciler.Enqueue(record)
	return &Result{Reading: record, Interpreted: true}, nil
}

// ingestPlaintext handles the legacy unencrypted variant, which upserts
// by (device, age) instead of appending.
func (p *Pipeline) ingestPlaintext(ctx context.Context, body []byte, reading *envelope.Reading) (*Result, error) {
	if err := reading.Validate(); err != nil {
		return nil, err
	}

	if _, err := p.registry.Find(ctx, reading.UID); err != nil {
		return nil, err
	}

	// Only plaintext records are upsert targets; an encrypted record
	// sharing (device, age) keeps its ciphertext on file untouched.
	existing, err := p.store.FindReadingByDedupKey(storage.DedupKey{
		DeviceUID: reading.UID,
		Age:       reading.Age,
		Version:   string(envelope.VersionPlaintext),
	})
	if err != nil && !errors.IsType(err, errors.ErrTypeNotFound) {
		return nil, err
	}

	if existing != nil && err == nil {
		existing.Payload = string(body)
		existing.Height = &reading.Height
		existing.Status = &reading.Status
		if err := p.store.UpdateReading(existing); err != nil {
			return nil, err
		}
		p.reconciler.Enqueue(existing)
		return &Result{Reading: existing, Interpreted: true, Deduplicated: true}, nil
	}

	record := &storage.Reading{
		DeviceUID: &reading.UID,
		Payload:   string(body),
		Version:   string(envelope.VersionPlaintext),
		Age:       &reading.Age,
		Height:    &reading.Height,
		Status:    &reading.Status,
	}
	if err := p.store.CreateReading(record); err != nil {
		return nil, err
	}

	p.reconciler.Enqueue(record)
	return &Result{Reading: record, Interpreted: true}, nil
}

func (p *Pipeline) interpret(env *envelope.Envelope) (*envelope.Reading, error) {
	ciphertext, err := env.CiphertextBytes()
	if err != nil {
		return nil, err
	}

	plaintext, err := p.decryptor.Decrypt(ciphertext)
	if err != nil {
		return nil, err
	}

	return envelope.DecodeReading(plaintext)
}
