package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	t.Run("generates id and timestamp", func(t *testing.T) {
		before := time.Now().UTC()
		env, err := NewEnvelope("documents", []byte(`{}`))

		require.NoError(t, err)
		assert.NotEmpty(t, env.ID)
		assert.Equal(t, "documents", env.Destination)
		assert.Empty(t, env.Key)
		assert.Empty(t, env.Headers)
		assert.False(t, env.Timestamp.Before(before))
	})

	t.Run("two envelopes get distinct ids", func(t *testing.T) {
		a, err := NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)
		b, err := NewEnvelope("documents", []byte(`{}`))
		require.NoError(t, err)

		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("rejects blank destination", func(t *testing.T) {
		_, err := NewEnvelope("  ", []byte(`{}`))
		assert.ErrorIs(t, err, ErrEmptyDestination)
	})

	t.Run("rejects nil payload", func(t *testing.T) {
		_, err := NewEnvelope("documents", nil)
		assert.ErrorIs(t, err, ErrNilPayload)
	})

	t.Run("accepts empty payload slice", func(t *testing.T) {
		env, err := NewEnvelope("documents", []byte{})
		require.NoError(t, err)
		assert.NotNil(t, env.Payload)
	})

	t.Run("applies options", func(t *testing.T) {
		env, err := NewEnvelope("documents", []byte(`{}`),
			WithKey("coll-123"),
			WithEventType("document.created"),
			WithCorrelationID("corr-1"),
			WithHeader("tenant", "acme"),
		)

		require.NoError(t, err)
		assert.Equal(t, "coll-123", env.Key)
		assert.Equal(t, "document.created", env.EventType())
		assert.Equal(t, "corr-1", env.CorrelationID())
		assert.Equal(t, "acme", env.Headers["tenant"])
	})

	t.Run("any non-empty key is accepted as opaque token", func(t *testing.T) {
		env, err := NewEnvelope("documents", []byte(`{}`), WithKey("::weird key//"))
		require.NoError(t, err)
		assert.Equal(t, "::weird key//", env.Key)
	})

	t.Run("merges header maps", func(t *testing.T) {
		env, err := NewEnvelope("documents", []byte(`{}`),
			WithHeaders(map[string]string{"a": "1", "b": "2"}),
			WithHeader("b", "3"),
		)

		require.NoError(t, err)
		assert.Equal(t, "1", env.Headers["a"])
		assert.Equal(t, "3", env.Headers["b"])
	})
}

func TestNewJSONEnvelope(t *testing.T) {
	t.Run("marshals payload", func(t *testing.T) {
		env, err := NewJSONEnvelope("documents", map[string]string{"documentId": "doc-1"})

		require.NoError(t, err)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(env.Payload, &decoded))
		assert.Equal(t, "doc-1", decoded["documentId"])
	})

	t.Run("rejects nil payload", func(t *testing.T) {
		_, err := NewJSONEnvelope("documents", nil)
		assert.ErrorIs(t, err, ErrNilPayload)
	})

	t.Run("rejects unmarshalable payload", func(t *testing.T) {
		_, err := NewJSONEnvelope("documents", make(chan int))
		assert.Error(t, err)
	})
}

func TestResult(t *testing.T) {
	t.Run("success has no error message", func(t *testing.T) {
		r := SuccessResult("msg-1", "documents")

		assert.True(t, r.Success)
		assert.Empty(t, r.ErrorMessage)
		assert.Nil(t, r.Partition)
		assert.Nil(t, r.Offset)
	})

	t.Run("placed result carries partition and offset", func(t *testing.T) {
		r := PlacedResult("msg-1", "documents", 3, 42)

		assert.True(t, r.Success)
		assert.Empty(t, r.ErrorMessage)
		require.NotNil(t, r.Partition)
		require.NotNil(t, r.Offset)
		assert.Equal(t, int32(3), *r.Partition)
		assert.Equal(t, int64(42), *r.Offset)
	})

	t.Run("failure always has an error message", func(t *testing.T) {
		r := FailureResult("msg-1", "documents", assert.AnError)
		assert.False(t, r.Success)
		assert.Equal(t, assert.AnError.Error(), r.ErrorMessage)

		r = FailureResult("msg-1", "documents", nil)
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.ErrorMessage)
	})
}
