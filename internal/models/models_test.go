package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestULIDRoundTrip(t *testing.T) {
	id := NewULID()
	assert.False(t, id.IsZero())
	assert.Len(t, id.String(), 26)

	parsed, err := ParseULID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	var scanned ULID
	require.NoError(t, scanned.Scan(id.String()))
	assert.Equal(t, id, scanned)

	val, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), val)
}

func TestULIDZeroValue(t *testing.T) {
	var id ULID
	assert.True(t, id.IsZero())

	val, err := id.Value()
	require.NoError(t, err)
	assert.Nil(t, val)

	data, err := id.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestCanonicalJSONSortsKeys(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"b":2,"a":1,"c":{"y":true,"x":false}}`))
	require.NoError(t, err)
	b, err := CanonicalJSON([]byte(`{"c":{"x":false,"y":true},"a":1,"b":2}`))
	require.NoError(t, err)

	assert.Equal(t, string(a), string(b))
	assert.Equal(t, `{"a":1,"b":2,"c":{"x":false,"y":true}}`, string(a))
}

func TestCanonicalJSONNormalizesNumbers(t *testing.T) {
	a, err := CanonicalJSON([]byte(`{"duration":60.0}`))
	require.NoError(t, err)
	b, err := CanonicalJSON([]byte(`{"duration":60}`))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	c, err := CanonicalJSON([]byte(`{"swing":0.5}`))
	require.NoError(t, err)
	assert.Equal(t, `{"swing":0.500000}`, string(c))
}

func TestCanonicalJSONPreservesArrayOrder(t *testing.T) {
	out, err := CanonicalJSON([]byte(`{"tags":["b","a"]}`))
	require.NoError(t, err)
	assert.Equal(t, `{"tags":["b","a"]}`, string(out))
}

func TestDedupeKeyStable(t *testing.T) {
	parent := NewULID()

	k1, err := DedupeKey(JobTypePipeline, []byte(`{"prompt":"lofi","duration_sec":60}`), parent)
	require.NoError(t, err)
	k2, err := DedupeKey(JobTypePipeline, []byte(`{"duration_sec":60.0,"prompt":"lofi"}`), parent)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)
}

func TestDedupeKeyDistinguishesTypeAndParent(t *testing.T) {
	params := []byte(`{"prompt":"lofi"}`)

	k1, err := DedupeKey(JobTypePlan, params, ULID{})
	require.NoError(t, err)
	k2, err := DedupeKey(JobTypeAudio, params, ULID{})
	require.NoError(t, err)
	k3, err := DedupeKey(JobTypePlan, params, NewULID())
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestJobNextBackoffDoubles(t *testing.T) {
	job := &Job{BackoffMS: 2000}

	job.Attempts = 1
	assert.Equal(t, 2*time.Second, job.NextBackoff())

	job.Attempts = 2
	assert.Equal(t, 4*time.Second, job.NextBackoff())

	job.Attempts = 3
	assert.Equal(t, 8*time.Second, job.NextBackoff())
}

func TestJobNextBackoffCapped(t *testing.T) {
	job := &Job{BackoffMS: 2000, Attempts: 30}
	assert.Equal(t, 10*time.Minute, job.NextBackoff())
}

func TestJobTransitions(t *testing.T) {
	now := time.Now()
	job := &Job{Type: JobTypeMix, Status: JobStatusQueued}

	job.MarkRunning("worker-1", now)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "worker-1", job.WorkerID)
	assert.False(t, job.IsTerminal())

	job.MarkRetry("transcoder exited 1", now.Add(2*time.Second))
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Empty(t, job.WorkerID)
	assert.False(t, job.IsEligible(now))
	assert.True(t, job.IsEligible(now.Add(3*time.Second)))

	job.MarkRunning("worker-2", now)
	job.MarkSucceeded(JSON(`{"ok":true}`), now)
	assert.Equal(t, JobStatusSucceeded, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.True(t, job.IsTerminal())
	assert.NotNil(t, job.CompletedAt)
}

func TestJobValidate(t *testing.T) {
	job := &Job{}
	assert.ErrorIs(t, job.Validate(), ErrJobTypeRequired)

	job.Type = JobTypePlan
	job.Progress = 101
	assert.ErrorIs(t, job.Validate(), ErrProgressOutOfRange)

	job.Progress = 100
	assert.NoError(t, job.Validate())
}

func TestClassify(t *testing.T) {
	err := NewClassifiedf(ErrClassTranscoderFailed, "exit status 1")
	assert.Equal(t, ErrClassTranscoderFailed, Classify(err))
	assert.Equal(t, ErrClassInternalError, Classify(assert.AnError))
	assert.False(t, IsFatal(err))
	assert.True(t, IsFatal(NewFatal(ErrClassTranscoderFailed, assert.AnError)))
}

func TestRetryablePolicy(t *testing.T) {
	const jobMax = 3

	transcoder := NewClassifiedf(ErrClassTranscoderFailed, "exit status 1")
	assert.True(t, Retryable(transcoder, 1, jobMax))
	assert.True(t, Retryable(transcoder, 2, jobMax))
	assert.False(t, Retryable(transcoder, 3, jobMax))

	timedOut := NewClassifiedf(ErrClassTimedOut, "wall clock exceeded")
	assert.True(t, Retryable(timedOut, 1, jobMax))
	assert.False(t, Retryable(timedOut, 2, jobMax))

	invalid := NewClassifiedf(ErrClassInvalidRequest, "duration out of range")
	assert.False(t, Retryable(invalid, 0, jobMax))

	fatal := NewFatal(ErrClassTranscoderFailed, assert.AnError)
	assert.False(t, Retryable(fatal, 1, jobMax))
}

func TestWindowStart(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535_000_000, time.UTC)
	start := WindowStart(ts)
	assert.Equal(t, time.Date(2026, 3, 14, 15, 9, 0, 0, time.UTC).UnixMilli(), start)
	assert.Equal(t, start, WindowStart(ts.Add(30*time.Second)))
	assert.NotEqual(t, start, WindowStart(ts.Add(time.Minute)))
}
