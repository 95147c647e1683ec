package storage

import (
	"testing"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalRecord_PreservesVectorPrecision(t *testing.T) {
	record := &core.VectorRecord{
		ID:         "doc-0",
		DocumentID: "doc",
		Text:       "chunk text",
		Metadata:   map[string]string{"page": "1"},
		Embedding:  []float32{0.1, -0.33333334, 1e-7, 3.4028235e38},
		InsertedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := MarshalRecord(record)
	require.NoError(t, err)
	decoded, err := UnmarshalRecord(data)
	require.NoError(t, err)
	assert.Equal(t, record, decoded)
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalRecord([]byte("{truncated"))
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalState([]byte("nope"))
	assert.ErrorIs(t, err, ErrSerializationFailed)
}

func TestMarshalState(t *testing.T) {
	state := &core.RecoveryState{
		ID:         "ingest_document:abc",
		Type:       "ingest_document",
		Input:      map[string]string{"path": "/a.pdf"},
		Status:     core.StatusFailed,
		Error:      "corrupt document",
		RetryCount: 2,
		StartedAt:  time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:  time.Date(2025, 1, 2, 3, 5, 5, 0, time.UTC),
	}

	data, err := MarshalState(state)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"failed"`)

	decoded, err := UnmarshalState(data)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}
