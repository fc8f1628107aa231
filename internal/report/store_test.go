package report

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(id string) *RunResult {
	script := 1
	return &RunResult{
		ID:        id,
		Kind:      Build,
		Status:    Fail,
		HostDir:   "/work/host",
		CloneDir:  "/work/host/.dependent-build",
		StartedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
		Duration:  3 * time.Second,
		Stages: []StageResult{
			{Name: StageResolveConfig, Status: Pass},
			{Name: StageRunBatches, Status: Fail, Detail: "exit code 1"},
		},
		Repos: []RepoResult{{
			Repository: "https://example.com/org/foo.git",
			Dir:        "/work/host/.dependent-build/foo",
			Cloned:     true,
			Status:     Fail,
			Scripts: []ScriptResult{
				{Index: 0, Script: "echo one", Status: Pass},
				{Index: 1, Script: "exit 1", Status: Fail, ExitCode: 1},
				{Index: 2, Script: "echo two", Status: Skipped},
			},
		}},
		Failure: &Failure{Kind: "NON_ZERO_EXIT", Message: "exit code 1", Script: &script, ExitCode: 1},
	}
}

func TestDiskStore_RoundTrip(t *testing.T) {
	s := NewDiskStore(filepath.Join(t.TempDir(), "reports"))
	want := sampleResult("run-1")
	require.NoError(t, s.Save(want))

	got, err := s.Load("run-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	dir, err := s.Dir()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "run-1.json"))
}

func TestDiskStore_LazyTempDir(t *testing.T) {
	s := NewDiskStore("")
	require.NoError(t, s.Save(sampleResult("run-2")))

	dir, err := s.Dir()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	assert.FileExists(t, filepath.Join(dir, "run-2.json"))
}

func TestDiskStore_InvalidID(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	for _, id := range []string{"", ".", "..", "../escape", `a\b`} {
		_, err := s.Load(id)
		assert.Error(t, err, id)
	}
}

func TestDiskStore_Missing(t *testing.T) {
	s := NewDiskStore(t.TempDir())
	_, err := s.Load("nope")
	assert.Error(t, err)
}

type countingStore struct {
	saved map[string]*RunResult
	loads int
}

func (c *countingStore) Save(r *RunResult) error {
	if c.saved == nil {
		c.saved = make(map[string]*RunResult)
	}
	c.saved[r.ID] = r
	return nil
}

func (c *countingStore) Load(id string) (*RunResult, error) {
	c.loads++
	if r, ok := c.saved[id]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

func TestLRUStore_WriteThroughAndEvict(t *testing.T) {
	back := &countingStore{}
	s := NewLRUStore(2, back)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(sampleResult(id)))
	}
	assert.Equal(t, 2, s.Len())
	assert.Len(t, back.saved, 3)

	// "a" was evicted and must come from the backing store.
	_, err := s.Load("a")
	require.NoError(t, err)
	assert.Equal(t, 1, back.loads)

	// "c" is still cached.
	_, err = s.Load("c")
	require.NoError(t, err)
	assert.Equal(t, 1, back.loads)
}

func TestLRUStore_LoadPromotes(t *testing.T) {
	back := &countingStore{}
	s := NewLRUStore(2, back)
	require.NoError(t, s.Save(sampleResult("a")))
	require.NoError(t, s.Save(sampleResult("b")))

	_, err := s.Load("a") // a becomes most recent
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleResult("c"))) // evicts b

	_, err = s.Load("a")
	require.NoError(t, err)
	assert.Equal(t, 0, back.loads)

	_, err = s.Load("b")
	require.NoError(t, err)
	assert.Equal(t, 1, back.loads)
}

func TestLRUStore_MissPropagatesError(t *testing.T) {
	s := NewLRUStore(0, &countingStore{})
	_, err := s.Load("missing")
	assert.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestRunResult_SetStage(t *testing.T) {
	r := &RunResult{}
	r.SetStage(StageLink, Pass, "")
	r.SetStage(StageUnlink, Fail, "boom")
	r.SetStage(StageLink, Fail, "again")

	require.Len(t, r.Stages, 2)
	s, ok := r.Stage(StageLink)
	require.True(t, ok)
	assert.Equal(t, Fail, s.Status)
	assert.Equal(t, "again", s.Detail)

	_, ok = r.Stage(StageClone)
	assert.False(t, ok)
}

func TestRunResult_Expect(t *testing.T) {
	r := sampleResult("x")
	assert.NoError(t, r.Expect(Build))
	assert.Error(t, r.Expect(Kind("other")))
}

func TestByRepository(t *testing.T) {
	r := sampleResult("x")
	assert.Len(t, ByRepository(r, ""), 1)
	assert.Len(t, ByRepository(r, "org/foo"), 1)
	assert.Len(t, ByRepository(r, "foo"), 1)
	assert.Empty(t, ByRepository(r, "bar"))
}

func TestRunResult_Summary(t *testing.T) {
	out := sampleResult("run-9").Summary()
	assert.Contains(t, out, "Status: FAIL")
	assert.Contains(t, out, "Run: run-9")
	assert.Contains(t, out, "[1] fail    exit 1")
	assert.Contains(t, out, "Failure: NON_ZERO_EXIT")
}
