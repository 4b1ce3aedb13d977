package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-gateway/internal/codec"
	"telemetry-gateway/internal/common/errors"
	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/envelope"
	"telemetry-gateway/internal/registry"
	"telemetry-gateway/internal/storage"
	"telemetry-gateway/internal/storage/sqlite"
)

const (
	testAESKeyHex  = "000102030405060708090a0b0c0d0e0f"
	testIVHex      = "101112131415161718191a1b1c1d1e1f"
	testHMACKeyHex = "202122232425262728292a2b2c2d2e2f"
)

// fakeEnqueuer records what the pipeline hands to enrichment.
type fakeEnqueuer struct {
	enqueued []*storage.Reading
}

func (f *fakeEnqueuer) Enqueue(reading *storage.Reading) bool {
	f.enqueued = append(f.enqueued, reading)
	return true
}

type fixture struct {
	pipeline *Pipeline
	reader   *Reader
	store    storage.Storage
	secrets  *envelope.Secrets
	enqueuer *fakeEnqueuer
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{
		DatabasePath: filepath.Join(t.TempDir(), "pipeline.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	secrets, err := envelope.NewSecrets(testAESKeyHex, testIVHex, testHMACKeyHex)
	require.NoError(t, err)

	logger := logging.NewDefaultLogger()
	reg := registry.New(store, logger)
	enqueuer := &fakeEnqueuer{}

	require.NoError(t, store.CreateDevice(&storage.Device{UID: "T1", Name: "unit one", Gender: "female"}))

	return &fixture{
		pipeline: New(secrets, store, reg, enqueuer, logger),
		reader:   NewReader(secrets, store, logger),
		store:    store,
		secrets:  secrets,
		enqueuer: enqueuer,
	}
}

// sealHex builds a VersionHex envelope body for the given reading.
func sealHex(t *testing.T, secrets *envelope.Secrets, reading envelope.Reading) []byte {
	t.Helper()

	plaintext, err := json.Marshal(reading)
	require.NoError(t, err)

	ciphertext, err := envelope.NewDecryptor(secrets).Encrypt(plaintext)
	require.NoError(t, err)

	payload := codec.HexEncode(ciphertext)
	tag := envelope.NewVerifier(secrets).Tag([]byte(payload))

	body, err := json.Marshal(map[string]string{
		"payload": payload,
		"hmac":    codec.HexEncode(tag),
	})
	require.NoError(t, err)
	return body
}

// sealText is sealHex with base64 ciphertext, the VersionText variant.
func sealText(t *testing.T, secrets *envelope.Secrets, reading envelope.Reading) []byte {
	t.Helper()

	plaintext, err := json.Marshal(reading)
	require.NoError(t, err)

	ciphertext, err := envelope.NewDecryptor(secrets).Encrypt(plaintext)
	require.NoError(t, err)

	payload := base64.StdEncoding.EncodeToString(ciphertext)
	tag := envelope.NewVerifier(secrets).Tag([]byte(payload))

	body, err := json.Marshal(map[string]string{
		"payload": payload,
		"hmac":    codec.HexEncode(tag),
	})
	require.NoError(t, err)
	return body
}

func TestIngestEnvelopeRoundTrip(t *testing.T) {
	f := setup(t)

	reading := envelope.Reading{UID: "T1", Age: 12, Height: 75.0, Status: "normal"}

	for _, seal := range []struct {
		name    string
		body    []byte
		version string
	}{
		{name: "hex", body: sealHex(t, f.secrets, reading), version: "v2-hex"},
		{name: "text", body: sealText(t, f.secrets, reading), version: "v1-text"},
	} {
		t.Run(seal.name, func(t *testing.T) {
			result, err := f.pipeline.Ingest(context.Background(), seal.body)
			require.NoError(t, err)
			assert.True(t, result.Interpreted)
			assert.Equal(t, seal.version, result.Reading.Version)

			stored, err := f.store.GetReading(result.Reading.ID)
			require.NoError(t, err)
			require.True(t, stored.Interpreted())
			assert.Equal(t, "T1", *stored.DeviceUID)
			assert.Equal(t, 12, *stored.Age)
			assert.Equal(t, 75.0, *stored.Height)
			assert.Equal(t, "normal", *stored.Status)
		})
	}

	assert.Len(t, f.enqueuer.enqueued, 2)
}

func TestIngestTamperedTagLeavesStoreUnchanged(t *testing.T) {
	f := setup(t)

	body := sealHex(t, f.secrets, envelope.Reading{UID: "T1", Age: 12, Height: 75.0, Status: "normal"})

	var env map[string]string
	require.NoError(t, json.Unmarshal(body, &env))

	// Flip one bit in the tag.
	tag, err := codec.HexDecode(env["hmac"])
	require.NoError(t, err)
	tag[0] ^= 0x01
	env["hmac"] = codec.HexEncode(tag)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	before, err := f.store.CountReadings()
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(context.Background(), tampered)
	assert.True(t, errors.IsType(err, errors.ErrTypeIntegrity))

	after, err := f.store.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, before, after, "nothing may be persisted on integrity failure")
	assert.Empty(t, f.enqueuer.enqueued)
}

func TestIngestTamperedPayloadRejected(t *testing.T) {
	f := setup(t)

	body := sealHex(t, f.secrets, envelope.Reading{UID: "T1", Age: 12, Height: 75.0, Status: "normal"})

	var env map[string]string
	require.NoError(t, json.Unmarshal(body, &env))

	payload := []byte(env["payload"])
	if payload[0] == '0' {
		payload[0] = '1'
	} else {
		payload[0] = '0'
	}
	env["payload"] = string(payload)
	tampered, err := json.Marshal(env)
	require.NoError(t, err)

	_, err = f.pipeline.Ingest(context.Background(), tampered)
	assert.True(t, errors.IsType(err, errors.ErrTypeIntegrity))
}

func TestIngestUndecodableBodyStillAccepted(t *testing.T) {
	f := setup(t)

	// A correctly tagged envelope whose plaintext is not valid JSON.
	ciphertext, err := envelope.NewDecryptor(f.secrets).Encrypt([]byte("this is not json"))
	require.NoError(t, err)
	payload := codec.HexEncode(ciphertext)
	tag := envelope.NewVerifier(f.secrets).Tag([]byte(payload))
	body, err := json.Marshal(map[string]string{"payload": payload, "hmac": codec.HexEncode(tag)})
	require.NoError(t, err)

	result, err := f.pipeline.Ingest(context.Background(), body)
	require.NoError(t, err, "interpretation failure after persistence is not a request failure")
	assert.False(t, result.Interpreted)

	stored, err := f.store.GetReading(result.Reading.ID)
	require.NoError(t, err)
	assert.Equal(t, payload, stored.Payload)
	assert.Nil(t, stored.Recommendation)
	assert.False(t, stored.Interpreted())
	assert.Empty(t, f.enqueuer.enqueued, "uninterpreted records are not enriched")
}

func TestIngestUnregisteredDeviceRetained(t *testing.T) {
	f := setup(t)

	body := sealHex(t, f.secrets, envelope.Reading{UID: "ghost", Age: 6, Height: 60.0, Status: "normal"})

	result, err := f.pipeline.Ingest(context.Background(), body)
	require.NoError(t, err)
	assert.False(t, result.Interpreted)

	stored, err := f.store.GetReading(result.Reading.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DeviceUID)
	assert.Empty(t, f.enqueuer.enqueued)
}

func TestIngestMalformedBody(t *testing.T) {
	f := setup(t)

	for _, body := range []string{
		"not json at all",
		`{"something":"else"}`,
		`{"payload":"", "hmac":""}`,
	} {
		t.Run(body, func(t *testing.T) {
			_, err := f.pipeline.Ingest(context.Background(), []byte(body))
			assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
		})
	}
}

func TestIngestPlaintextDedup(t *testing.T) {
	f := setup(t)

	first := []byte(`{"uid":"T1","age":12,"height":74.0,"status":"at-risk"}`)
	second := []byte(`{"uid":"T1","age":12,"height":75.5,"status":"normal"}`)

	r1, err := f.pipeline.Ingest(context.Background(), first)
	require.NoError(t, err)
	assert.False(t, r1.Deduplicated)

	r2, err := f.pipeline.Ingest(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, r2.Deduplicated)
	assert.Equal(t, r1.Reading.ID, r2.Reading.ID, "second submission overwrites in place")

	count, err := f.store.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	stored, err := f.store.GetReading(r1.Reading.ID)
	require.NoError(t, err)
	assert.Equal(t, 75.5, *stored.Height)
	assert.Equal(t, "normal", *stored.Status)

	t.Run("DifferentAgeCreatesNewRecord", func(t *testing.T) {
		r3, err := f.pipeline.Ingest(context.Background(), []byte(`{"uid":"T1","age":13,"height":76.0,"status":"normal"}`))
		require.NoError(t, err)
		assert.False(t, r3.Deduplicated)

		count, err := f.store.CountReadings()
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})
}

func TestIngestPlaintextNeverClaimsEncryptedRecord(t *testing.T) {
	f := setup(t)

	body := sealHex(t, f.secrets, envelope.Reading{UID: "T1", Age: 12, Height: 75.0, Status: "normal"})
	r1, err := f.pipeline.Ingest(context.Background(), body)
	require.NoError(t, err)

	sealed, err := f.store.GetReading(r1.Reading.ID)
	require.NoError(t, err)

	// Same (device, age) over the plaintext protocol must not upsert
	// onto the envelope record.
	r2, err := f.pipeline.Ingest(context.Background(), []byte(`{"uid":"T1","age":12,"height":80.0,"status":"at-risk"}`))
	require.NoError(t, err)
	assert.False(t, r2.Deduplicated)
	assert.NotEqual(t, r1.Reading.ID, r2.Reading.ID)

	count, err := f.store.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	stored, err := f.store.GetReading(r1.Reading.ID)
	require.NoError(t, err)
	assert.Equal(t, sealed.Payload, stored.Payload, "ciphertext stays on file verbatim")
	assert.Equal(t, string(envelope.VersionHex), stored.Version)

	t.Run("PlaintextStillUpsertsItself", func(t *testing.T) {
		r3, err := f.pipeline.Ingest(context.Background(), []byte(`{"uid":"T1","age":12,"height":81.0,"status":"at-risk"}`))
		require.NoError(t, err)
		assert.True(t, r3.Deduplicated)
		assert.Equal(t, r2.Reading.ID, r3.Reading.ID)
	})
}

func TestIngestPlaintextUnknownDevice(t *testing.T) {
	f := setup(t)

	_, err := f.pipeline.Ingest(context.Background(), []byte(`{"uid":"ghost","age":12,"height":75.0,"status":"normal"}`))
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestReaderLazyDecryptAndOmission(t *testing.T) {
	f := setup(t)

	// One readable encrypted record.
	_, err := f.pipeline.Ingest(context.Background(), sealHex(t, f.secrets, envelope.Reading{
		UID: "T1", Age: 12, Height: 75.0, Status: "normal",
	}))
	require.NoError(t, err)

	// One stored record whose ciphertext cannot be decrypted. Written
	// directly to storage the way a decrypt-time bug would leave it.
	require.NoError(t, f.store.CreateReading(&storage.Reading{
		Payload: "deadbeef",
		Version: "v2-hex",
	}))

	views, err := f.reader.List()
	require.NoError(t, err)
	require.Len(t, views, 1, "undecryptable records are omitted, not errored")
	assert.Equal(t, "T1", views[0].UID)
	assert.Equal(t, 75.0, views[0].Height)

	t.Run("PerDevice", func(t *testing.T) {
		views, err := f.reader.ListByDevice("T1")
		require.NoError(t, err)
		assert.Len(t, views, 1)

		views, err = f.reader.ListByDevice("other")
		require.NoError(t, err)
		assert.Empty(t, views)
	})
}

func TestReaderLatestPerBucketVisibility(t *testing.T) {
	f := setup(t)

	// Two encrypted submissions for the same (device, age) bucket; the
	// store keeps both, the read path shows only the newest.
	for _, height := range []float64{70.0, 71.5} {
		_, err := f.pipeline.Ingest(context.Background(), sealHex(t, f.secrets, envelope.Reading{
			UID: "T1", Age: 9, Height: height, Status: "normal",
		}))
		require.NoError(t, err)
	}

	count, err := f.store.CountReadings()
	require.NoError(t, err)
	assert.Equal(t, 2, count, "encrypted variant appends, never overwrites")

	views, err := f.reader.List()
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, 71.5, views[0].Height)
}

func TestReaderMergesRecommendation(t *testing.T) {
	f := setup(t)

	result, err := f.pipeline.Ingest(context.Background(), sealHex(t, f.secrets, envelope.Reading{
		UID: "T1", Age: 12, Height: 75.0, Status: "normal",
	}))
	require.NoError(t, err)

	require.NoError(t, f.store.UpdateRecommendation(result.Reading.ID, "continue monitoring"))

	views, err := f.reader.List()
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Recommendation)
	assert.Equal(t, "continue monitoring", *views[0].Recommendation)
}

func TestIngestStorageFailure(t *testing.T) {
	f := setup(t)

	// Closing the store makes every query fail, which must surface as a
	// storage error rather than an accept.
	require.NoError(t, f.store.Close())

	body := sealHex(t, f.secrets, envelope.Reading{UID: "T1", Age: 12, Height: 75.0, Status: "normal"})
	_, err := f.pipeline.Ingest(context.Background(), body)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeStorage), fmt.Sprintf("got %v", err))
}
