package history

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s
}

func TestAppendAndList(t *testing.T) {
	s := newTestStore(t)
	r := Record{ID: "f1", ProfileID: "bisque-cone06", Outcome: OutcomeComplete, PeakTempC: 999, StartTime: time.Unix(0, 0), EndTime: time.Unix(3600, 0)}
	require.NoError(t, s.Append(r))

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "f1", list[0].ID)
}

func TestAppendNewestFirst(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Append(Record{ID: "first"}))
	require.NoError(t, s.Append(Record{ID: "second"}))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "second", list[0].ID)
	assert.Equal(t, "first", list[1].ID)
}

func TestEvictionErasesTraceFile(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < MaxRecords; i++ {
		id := "firing-" + string(rune('a'+i))
		require.NoError(t, s.NewTrace(id))
		require.NoError(t, s.Append(Record{ID: id}))
	}
	oldestID := "firing-a"
	_, err := os.Stat(s.TracePath(oldestID))
	require.NoError(t, err, "sanity: trace file exists before eviction")

	require.NoError(t, s.NewTrace("firing-new"))
	require.NoError(t, s.Append(Record{ID: "firing-new"}))

	assert.Equal(t, MaxRecords, s.Count())
	_, err = os.Stat(s.TracePath(oldestID))
	assert.True(t, os.IsNotExist(err), "oldest record's trace file should be erased on eviction")
}

func TestAppendTraceSampleFormat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.NewTrace("f1"))
	require.NoError(t, s.AppendTraceSample("f1", 60, 123.45))

	data, err := os.ReadFile(s.TracePath("f1"))
	require.NoError(t, err)
	assert.Equal(t, "time_s,temp_c\n60,123.45\n", string(data))
}

func TestLoadPersistedHistoryAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	s1, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.Append(Record{ID: "persisted", Outcome: OutcomeComplete}))

	s2, err := NewStore(dir)
	require.NoError(t, err)
	list := s2.List()
	require.Len(t, list, 1)
	assert.Equal(t, "persisted", list[0].ID)
}

func TestPruneOrphanedTracesRemovesUnreferencedOldFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.NewTrace("orphan"))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.TracePath("orphan"), old, old))

	removed, err := s.PruneOrphanedTraces(time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(s.TracePath("orphan"))
	assert.True(t, os.IsNotExist(err))
}

func TestPruneOrphanedTracesKeepsKnownRecords(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.NewTrace("f1"))
	require.NoError(t, s.Append(Record{ID: "f1"}))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.TracePath("f1"), old, old))

	removed, err := s.PruneOrphanedTraces(time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = os.Stat(s.TracePath("f1"))
	assert.NoError(t, err)
}

func TestPruneOrphanedTracesSparesRecentFiles(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.NewTrace("in-progress"))

	removed, err := s.PruneOrphanedTraces(time.Hour, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "a freshly created trace file for an active firing should survive a prune")

	_, err = os.Stat(s.TracePath("in-progress"))
	assert.NoError(t, err)
}
