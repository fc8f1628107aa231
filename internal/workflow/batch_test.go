package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/deixis/depbuild/internal/clone"
	"github.com/deixis/depbuild/internal/config"
	"github.com/deixis/depbuild/internal/env"
	"github.com/deixis/depbuild/internal/failure"
	"github.com/deixis/depbuild/internal/report"
	"github.com/deixis/depbuild/internal/runner"
	"github.com/deixis/depbuild/internal/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeRunner records every command and fails those listed in fail,
// keyed by Command.String().
type fakeRunner struct {
	mu      sync.Mutex
	calls   []runner.Command
	ctxErrs []error
	fail    map[string]error
	onRun   func(cmd runner.Command)
}

func (f *fakeRunner) Run(ctx context.Context, _ trace.Logger, cmd runner.Command) error {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()

	if f.onRun != nil {
		f.onRun(cmd)
	}
	if err, ok := f.fail[cmd.String()]; ok {
		return err
	}
	return nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

func (f *fakeRunner) count(command string) int {
	n := 0
	for _, c := range f.commands() {
		if c == command {
			n++
		}
	}
	return n
}

func exitErr(code int) error {
	fe := failure.New(failure.NonZeroExit, "run", nil)
	fe.ExitCode = code
	return fe
}

func observed() (trace.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(trace.TraceLevel)
	return trace.NewWithCore(core), logs
}

func callstack(e observer.LoggedEntry) string {
	v, _ := e.ContextMap()[trace.CallstackKey].(string)
	return v
}

func TestBatches(t *testing.T) {
	cfg := &config.Config{Entries: []config.Entry{
		{Repository: "repoA", Scripts: []string{"echo a"}},
		{Repository: "repoB", Scripts: []string{}},
	}}
	got := Batches(cfg)
	require.Len(t, got, 2)
	assert.Equal(t, Batch{Repository: "repoA", Scripts: []string{"echo a"}}, got[0])
	assert.Equal(t, "repoB", got[1].Repository)
	assert.Empty(t, got[1].Scripts)

	got[0].Scripts[0] = "changed"
	assert.Equal(t, "echo a", cfg.Entries[0].Scripts[0])
}

func TestSequencer_AllPass(t *testing.T) {
	fr := &fakeRunner{}
	s := &Sequencer{Runner: fr}

	results, err := s.RunAll(context.Background(), trace.Nop(), []string{"echo one", "echo two"}, "/work", []string{"A=1"}, "/host")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo one", "echo two"}, fr.commands())
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, report.Pass, r.Status)
	}
	for _, c := range fr.calls {
		assert.Equal(t, "/work", c.Dir)
		assert.Equal(t, []string{"A=1"}, c.Env)
	}
}

func TestSequencer_StopsAtFirstFailure(t *testing.T) {
	scripts := []string{"s0", "s1", "s2", "s3", "s4"}
	for k := range scripts {
		fr := &fakeRunner{fail: map[string]error{scripts[k]: exitErr(3)}}
		s := &Sequencer{Runner: fr}

		results, err := s.RunAll(context.Background(), trace.Nop(), scripts, "/work", nil, "/host")
		require.Error(t, err)
		assert.Equal(t, scripts[:k+1], fr.commands(), "failing script %d", k)

		fe, ok := failure.As(err)
		require.True(t, ok)
		assert.Equal(t, failure.NonZeroExit, fe.Kind)
		assert.Equal(t, k, fe.Script)
		assert.Equal(t, 3, failure.ExitCode(err))

		for i, r := range results {
			switch {
			case i < k:
				assert.Equal(t, report.Pass, r.Status)
			case i == k:
				assert.Equal(t, report.Fail, r.Status)
				assert.Equal(t, 3, r.ExitCode)
			default:
				assert.Equal(t, report.Skipped, r.Status)
				assert.Empty(t, r.Command)
			}
		}
	}
}

func TestSequencer_EmptyList(t *testing.T) {
	fr := &fakeRunner{}
	results, err := (&Sequencer{Runner: fr}).RunAll(context.Background(), trace.Nop(), nil, "/work", nil, "/host")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, fr.calls)
}

func TestSequencer_SubstitutesHostDir(t *testing.T) {
	fr := &fakeRunner{}
	s := &Sequencer{Runner: fr}

	results, err := s.RunAll(context.Background(), trace.Nop(), []string{"cp -r ${HOST_DIR}/dist ."}, "/work", nil, "/tmp/my host")
	require.NoError(t, err)
	assert.Equal(t, []string{"cp -r '/tmp/my host'/dist ."}, fr.commands())
	assert.Equal(t, "cp -r ${HOST_DIR}/dist .", results[0].Script)
	assert.Equal(t, "cp -r '/tmp/my host'/dist .", results[0].Command)
}

func TestSequencer_LogsEachScript(t *testing.T) {
	log, logs := observed()
	s := &Sequencer{Runner: &fakeRunner{fail: map[string]error{"false": exitErr(1)}}}

	_, err := s.RunAll(context.Background(), log.Derive("scripts"), []string{"true", "false"}, "/work", nil, "/host")
	require.Error(t, err)

	running := logs.FilterMessage("Running script").All()
	require.Len(t, running, 2)
	assert.Equal(t, "dependentBuild|scripts|script,0", callstack(running[0]))
	assert.Equal(t, "dependentBuild|scripts|script,1", callstack(running[1]))

	failed := logs.FilterMessage("Script failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.ErrorLevel, failed[0].Level)
	assert.Equal(t, string(failure.NonZeroExit), failed[0].ContextMap()["kind"])
}

func TestBatchRunner_Run(t *testing.T) {
	fr := &fakeRunner{}
	b := &BatchRunner{
		Sequencer: &Sequencer{Runner: fr},
		BaseEnv:   []string{"PATH=/usr/bin", "HOME=/home/u"},
	}
	repo := "https://example.com/org/foo.git"

	res, err := b.Run(context.Background(), trace.Nop(), "/host", "/host/.dependent-build", Batch{Repository: repo, Scripts: []string{"npm test"}})
	require.NoError(t, err)
	assert.Equal(t, report.Pass, res.Status)
	assert.Equal(t, repo, res.Repository)
	assert.Equal(t, filepath.Join("/host/.dependent-build", "foo"), res.Dir)

	require.Len(t, fr.calls, 1)
	cmd := fr.calls[0]
	assert.Equal(t, res.Dir, cmd.Dir)
	assert.Equal(t, "/home/u", env.Lookup(cmd.Env, "HOME"))
	assert.Equal(t, "/host", env.Lookup(cmd.Env, env.HostDirVar))

	path := strings.Split(env.Lookup(cmd.Env, "PATH"), string(os.PathListSeparator))
	assert.Equal(t, []string{
		"/usr/bin",
		filepath.Join("/host", env.DefaultBinDir),
		filepath.Join(res.Dir, env.DefaultBinDir),
	}, path)
}

func TestBatchRunner_FailureCarriesRepository(t *testing.T) {
	fr := &fakeRunner{fail: map[string]error{"exit 1": exitErr(1)}}
	b := &BatchRunner{Sequencer: &Sequencer{Runner: fr}}

	res, err := b.Run(context.Background(), trace.Nop(), "/host", "/clones", Batch{Repository: "repoA", Scripts: []string{"exit 1", "echo two"}})
	require.Error(t, err)
	assert.Equal(t, report.Fail, res.Status)
	assert.Equal(t, []string{"exit 1"}, fr.commands())

	fe, ok := failure.As(err)
	require.True(t, ok)
	assert.Equal(t, "repoA", fe.Repository)
	assert.Equal(t, 0, fe.Script)
	assert.Equal(t, failure.NonZeroExit, fe.Kind)
	assert.Contains(t, err.Error(), "repoA")
}

func TestBatchRunner_DirMatchesCloner(t *testing.T) {
	repo := "https://example.com/org/foo.git"
	parent := "/host/.dependent-build"

	cr := &fakeRunner{}
	pc := &clone.ProcessCloner{Runner: cr}
	require.NoError(t, pc.Clone(context.Background(), trace.Nop(), repo, parent))
	cloneCmd := cr.calls[0]
	cloned := filepath.Join(cloneCmd.Dir, cloneCmd.Argv[len(cloneCmd.Argv)-1])

	res, err := (&BatchRunner{Sequencer: &Sequencer{Runner: &fakeRunner{}}}).Run(context.Background(), trace.Nop(), "/host", parent, Batch{Repository: repo})
	require.NoError(t, err)
	assert.Equal(t, cloned, res.Dir)
	assert.Equal(t, "foo", filepath.Base(res.Dir))
}

func TestSequencer_PropagatesSpawnError(t *testing.T) {
	spawn := failure.New(failure.SpawnError, "run", errors.New("no such file"))
	fr := &fakeRunner{fail: map[string]error{"missing-tool": spawn}}

	_, err := (&Sequencer{Runner: fr}).RunAll(context.Background(), trace.Nop(), []string{"missing-tool"}, "/work", nil, "/host")
	assert.Equal(t, failure.SpawnError, failure.KindOf(err))
	assert.ErrorIs(t, err, spawn)
}
