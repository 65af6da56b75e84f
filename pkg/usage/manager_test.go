package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartRequestRejectsOverConcurrencyCap(t *testing.T) {
	m := NewManager(nil, nil, nil)
	h1, err := m.StartRequest("p", "c1", "/a", "", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, h1)

	_, err = m.StartRequest("p", "c1", "/a", "", 1, 1)
	assert.ErrorIs(t, err, ErrConcurrencyExceeded)

	m.EndRequest(h1)
	h2, err := m.StartRequest("p", "c1", "/a", "", 1, 1)
	require.NoError(t, err)
	require.NotNil(t, h2)
}

func TestEndRequestIsIdempotent(t *testing.T) {
	m := NewManager(nil, nil, nil)
	h, err := m.StartRequest("p", "c1", "/a", "", 1, 2)
	require.NoError(t, err)

	m.EndRequest(h)
	m.EndRequest(h) // must not double-decrement

	key := m.GetCandidateOrderingKey("p", "c1", "m")
	assert.EqualValues(t, 0, key.ActiveRequests)
}

func TestRecordSuccessUpdatesModelAndGroupStats(t *testing.T) {
	m := NewManager(nil, nil, nil)
	now := time.Now()
	m.RecordSuccess("p", "c1", "/a", "", 1, "model-a", "group-x", Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}, now)

	stats := m.GetStats("p")
	cs := stats.Providers["p"]["c1"]
	require.NotNil(t, cs.ModelUsage["model-a"])
	assert.EqualValues(t, 1, cs.ModelUsage["model-a"].Windows[PrimaryWindow].Requests)
	require.NotNil(t, cs.GroupUsage["group-x"])
	assert.EqualValues(t, 1, cs.GroupUsage["group-x"].Windows[PrimaryWindow].Requests)
	assert.EqualValues(t, 1, cs.Totals.Requests)
}

func TestSetExhaustedTriggersFairCycleResetWhenAllExhausted(t *testing.T) {
	m := NewManager(nil, nil, nil)
	now := time.Now()
	// seed three credentials for the same provider
	for _, id := range []string{"c1", "c2", "c3"} {
		_ = m.entry("p", id, "/"+id, "", 1)
	}

	m.SetExhausted("p", "c1", "g1", "quota_exceeded", now)
	m.SetExhausted("p", "c2", "g1", "quota_exceeded", now)
	assert.True(t, m.IsExhausted("p", "c1", "g1"))
	assert.True(t, m.IsExhausted("p", "c2", "g1"))
	assert.False(t, m.IsExhausted("p", "c3", "g1"))

	m.SetExhausted("p", "c3", "g1", "quota_exceeded", now)

	// all three exhausted -> fair-cycle reset clears every flag
	assert.False(t, m.IsExhausted("p", "c1", "g1"))
	assert.False(t, m.IsExhausted("p", "c2", "g1"))
	assert.False(t, m.IsExhausted("p", "c3", "g1"))
}

func TestOrderingKeyBucketsByPriority(t *testing.T) {
	m := NewManager(nil, nil, nil)
	_ = m.entry("p", "high", "/h", "", 1)
	_ = m.entry("p", "low", "/l", "", 5)

	kh := m.GetCandidateOrderingKey("p", "high", "m")
	kl := m.GetCandidateOrderingKey("p", "low", "m")
	assert.Less(t, kh.Bucket, kl.Bucket)
}
