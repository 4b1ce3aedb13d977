package enrichment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-gateway/internal/common/logging"
	"telemetry-gateway/internal/registry"
	"telemetry-gateway/internal/storage"
	"telemetry-gateway/internal/storage/sqlite"
)

func setupReconcilerDeps(t *testing.T, scorerURL string) (*Reconciler, storage.Storage) {
	t.Helper()

	store, err := sqlite.NewAdapter(&sqlite.Config{
		DatabasePath: filepath.Join(t.TempDir(), "enrichment.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger := logging.NewDefaultLogger()
	reg := registry.New(store, logger)

	scorer, err := NewScorer(scorerURL, 2*time.Second, nil)
	require.NoError(t, err)

	reconciler := NewReconciler(scorer, store, reg, ReconcilerConfig{
		Workers:     2,
		QueueSize:   8,
		CallTimeout: time.Second,
		MaxRetries:  1,
		RetryDelay:  10 * time.Millisecond,
	}, logger)
	t.Cleanup(reconciler.Stop)

	return reconciler, store
}

func seedReading(t *testing.T, store storage.Storage, uid string) *storage.Reading {
	t.Helper()

	require.NoError(t, store.CreateDevice(&storage.Device{UID: uid, Name: uid, Gender: "male"}))

	age := 30
	height := 88.0
	status := "at-risk"
	reading := &storage.Reading{
		DeviceUID: &uid,
		Payload:   "payload",
		Version:   "v1-text",
		Age:       &age,
		Height:    &height,
		Status:    &status,
	}
	require.NoError(t, store.CreateReading(reading))
	return reading
}

func TestReconcilerPatchesRecommendation(t *testing.T) {
	var gotGender atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ScoreRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotGender.Store(req.Gender)
		json.NewEncoder(w).Encode(map[string]string{"rekomendasi": "schedule a height check"})
	}))
	defer server.Close()

	reconciler, store := setupReconcilerDeps(t, server.URL)
	reconciler.Start()

	reading := seedReading(t, store, "dev-1")
	require.True(t, reconciler.Enqueue(reading))

	assert.Eventually(t, func() bool {
		got, err := store.GetReading(reading.ID)
		return err == nil && got.Recommendation != nil && *got.Recommendation == "schedule a height check"
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "male", gotGender.Load())
}

func TestReconcilerSwallowsScorerFailure(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	reconciler, store := setupReconcilerDeps(t, server.URL)
	reconciler.Start()

	reading := seedReading(t, store, "dev-2")
	require.True(t, reconciler.Enqueue(reading))

	// MaxRetries 1 means two attempts total, then give up.
	assert.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 2*time.Second, 20*time.Millisecond)

	got, err := store.GetReading(reading.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Recommendation)
}

func TestReconcilerRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"rekomendasi": "ok now"})
	}))
	defer server.Close()

	reconciler, store := setupReconcilerDeps(t, server.URL)
	reconciler.Start()

	reading := seedReading(t, store, "dev-3")
	require.True(t, reconciler.Enqueue(reading))

	assert.Eventually(t, func() bool {
		got, err := store.GetReading(reading.ID)
		return err == nil && got.Recommendation != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestReconcilerRejectsUninterpreted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("scorer must not be called for uninterpreted records")
	}))
	defer server.Close()

	reconciler, _ := setupReconcilerDeps(t, server.URL)
	reconciler.Start()

	assert.False(t, reconciler.Enqueue(nil))
	assert.False(t, reconciler.Enqueue(&storage.Reading{ID: "x", Payload: "deadbeef", Version: "v2-hex"}))
}

func TestReconcilerDropsWhenQueueFull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"rekomendasi": "x"})
	}))
	defer server.Close()

	reconciler, store := setupReconcilerDeps(t, server.URL)
	// Not started: nothing drains the queue, so it fills at QueueSize.

	reading := seedReading(t, store, "dev-4")
	for i := 0; i < 8; i++ {
		require.True(t, reconciler.Enqueue(reading))
	}
	assert.False(t, reconciler.Enqueue(reading), "ninth enqueue exceeds the bounded queue")
	assert.Equal(t, 8, reconciler.QueueDepth())
}

func TestReconcilerEnqueueDuringStop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"rekomendasi": "x"})
	}))
	defer server.Close()

	reconciler, store := setupReconcilerDeps(t, server.URL)
	reconciler.Start()

	reading := seedReading(t, store, "dev-5")

	// Hammer Enqueue while Stop runs; neither side may panic.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			reconciler.Enqueue(reading)
		}
	}()

	reconciler.Stop()
	<-done

	assert.False(t, reconciler.Enqueue(reading), "stopped reconciler refuses new work")
}
