package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calfeed/internal/config"
	"calfeed/internal/ics"
	"calfeed/internal/metrics"
	"calfeed/internal/model"
)

type mapSource struct {
	events map[string][]model.RawEvent
	failed map[string]bool
}

func (m mapSource) EventsForOwner(_ context.Context, owner string) ([]model.RawEvent, error) {
	if m.failed[owner] {
		return nil, errors.New("backend unavailable")
	}
	return m.events[owner], nil
}

type listingSource struct {
	mapSource
}

func (l listingSource) Owners(context.Context) ([]string, error) {
	return []string{"listed"}, nil
}

func newTestCompiler() *ics.Compiler {
	return ics.NewCompiler(ics.Options{
		ProductID: "-//test//calfeed//EN",
		Clock:     ics.FixedClock(time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)),
	})
}

func TestRunOnce_WritesEachOwner(t *testing.T) {
	dir := t.TempDir()
	src := mapSource{events: map[string][]model.RawEvent{
		"alice": {{ID: "1", Title: "Gym", StartDate: model.Text("2025-02-01T07:00:00Z")}},
	}}
	p := New(config.PublishConfig{Dir: dir, Owners: []string{"alice", "bob"}, Concurrency: 2}, src, newTestCompiler(), time.UTC)

	okBefore := testutil.ToFloat64(metrics.PublishRuns.WithLabelValues("ok"))
	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(metrics.PublishRuns.WithLabelValues("ok")))

	alice, err := os.ReadFile(filepath.Join(dir, "alice.ics"))
	require.NoError(t, err)
	assert.Contains(t, string(alice), "SUMMARY:Gym")

	bob, err := os.ReadFile(filepath.Join(dir, "bob.ics"))
	require.NoError(t, err)
	assert.NotContains(t, string(bob), "BEGIN:VEVENT")

	info, err := os.Stat(filepath.Join(dir, "alice.ics"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestRunOnce_FailureKeepsOthersAndOldFile(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "bob.ics")
	require.NoError(t, os.WriteFile(stale, []byte("previous"), 0o644))

	src := mapSource{
		events: map[string][]model.RawEvent{"alice": nil},
		failed: map[string]bool{"bob": true},
	}
	p := New(config.PublishConfig{Dir: dir, Owners: []string{"alice", "bob"}, Concurrency: 1}, src, newTestCompiler(), nil)

	n, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
	assert.Equal(t, 1, n)

	kept, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "previous", string(kept))
	assert.FileExists(t, filepath.Join(dir, "alice.ics"))
}

func TestRunOnce_OwnersFromSource(t *testing.T) {
	dir := t.TempDir()
	p := New(config.PublishConfig{Dir: dir}, listingSource{}, newTestCompiler(), nil)

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, filepath.Join(dir, "listed.ics"))
}

func TestRunOnce_NoOwners(t *testing.T) {
	p := New(config.PublishConfig{Dir: t.TempDir()}, mapSource{}, newTestCompiler(), nil)
	_, err := p.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRun_RejectsBadSchedule(t *testing.T) {
	p := New(config.PublishConfig{Cron: "not a schedule", Dir: t.TempDir()}, mapSource{}, newTestCompiler(), nil)
	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "not a schedule"))
}

func TestRun_StopsOnCancel(t *testing.T) {
	p := New(config.PublishConfig{Cron: "@every 1h", Dir: t.TempDir(), Owners: []string{"a"}}, mapSource{}, newTestCompiler(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not stop")
	}
}

func TestRunOnce_CollidingFileNames(t *testing.T) {
	dir := t.TempDir()
	src := mapSource{events: map[string][]model.RawEvent{
		"a.b": {{ID: "1", Title: "First", StartDate: model.Text("2025-02-01T07:00:00Z")}},
		"a_b": {{ID: "2", Title: "Second", StartDate: model.Text("2025-02-01T08:00:00Z")}},
		"a/b": {{ID: "3", Title: "Third", StartDate: model.Text("2025-02-01T09:00:00Z")}},
	}}
	p := New(config.PublishConfig{Dir: dir, Owners: []string{"a.b", "a_b", "a/b", "a.b"}, Concurrency: 3}, src, newTestCompiler(), nil)

	partialBefore := testutil.ToFloat64(metrics.PublishRuns.WithLabelValues("partial"))
	n, err := p.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, err.Error(), "a_b")
	assert.Contains(t, err.Error(), "a/b")
	assert.Equal(t, partialBefore+1, testutil.ToFloat64(metrics.PublishRuns.WithLabelValues("partial")))

	body, err := os.ReadFile(filepath.Join(dir, "a_b.ics"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "SUMMARY:First")
	assert.NotContains(t, string(body), "SUMMARY:Second")
	assert.NotContains(t, string(body), "SUMMARY:Third")
}

func TestClaimFileNames(t *testing.T) {
	kept, errs := claimFileNames([]string{"alice", "bob", "alice", "b@b", "b@b"})
	assert.Equal(t, []string{"alice", "bob", "b@b"}, kept)
	assert.Empty(t, errs)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "alice.ics", FileName("alice"))
	assert.Equal(t, "____etc_passwd.ics", FileName("/../etc/passwd"))
	assert.Equal(t, "user@example_com.ics", FileName("user@example.com"))
}
