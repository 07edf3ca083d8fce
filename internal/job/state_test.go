// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/customer-engine/internal/progress"
	"github.com/pdiddy/customer-engine/pkg/types"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to types.Status
		want     bool
	}{
		{types.StatusQueued, types.StatusProcessing, true},
		{types.StatusQueued, types.StatusFailed, true},
		{types.StatusQueued, types.StatusCompleted, false},
		{types.StatusProcessing, types.StatusCompleted, true},
		{types.StatusProcessing, types.StatusCompletedWithErrors, true},
		{types.StatusProcessing, types.StatusFailed, true},
		{types.StatusProcessing, types.StatusQueued, false},
		{types.StatusCompleted, types.StatusProcessing, false},
		{types.StatusFailed, types.StatusCompleted, false},
		{types.StatusCompletedWithErrors, types.StatusFailed, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransitionStampsTimes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := types.Job{Status: types.StatusQueued}

	require.NoError(t, transition(&j, types.StatusProcessing, now))
	assert.Equal(t, now, j.StartedAt)

	require.NoError(t, transition(&j, types.StatusCompleted, now.Add(time.Minute)))
	assert.Equal(t, now.Add(time.Minute), j.FinishedAt)

	err := transition(&j, types.StatusProcessing, now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, types.StatusCompleted, j.Status)
}

func TestApplyEventProgressNeverRegresses(t *testing.T) {
	j := types.Job{Status: types.StatusProcessing}
	now := time.Now()

	applyEvent(&j, progress.Event{Percent: 40, Message: "halfway"}, 50, now)
	applyEvent(&j, progress.Event{Percent: 20, Message: "late source"}, 50, now)
	assert.Equal(t, 40, j.Progress.Percent)
	assert.Equal(t, "late source", j.Progress.Message)

	applyEvent(&j, progress.Event{Percent: 100}, 50, now)
	assert.Equal(t, maxRunningPercent, j.Progress.Percent, "100 is reserved for terminal states")
}

func TestApplyEventMergesMetrics(t *testing.T) {
	j := types.Job{Status: types.StatusProcessing, Metrics: types.Metrics{"vendor_site.pages_checked": 2}}

	applyEvent(&j, progress.Event{Source: "peerspot", Metrics: types.Metrics{"pages_checked": 5}}, 50, time.Now())
	applyEvent(&j, progress.Event{Metrics: types.Metrics{"validation.total": 3}}, 50, time.Now())

	assert.Equal(t, types.Metrics{
		"vendor_site.pages_checked": 2,
		"peerspot.pages_checked":    5,
		"validation.total":          3,
	}, j.Metrics)
}

func TestApplyEventBoundsLogs(t *testing.T) {
	j := types.Job{Status: types.StatusProcessing}
	for i := range 8 {
		applyEvent(&j, progress.Event{Message: fmt.Sprintf("line %d", i), Log: true}, 5, time.Now())
	}
	applyEvent(&j, progress.Event{Message: "status only"}, 5, time.Now())

	require.Len(t, j.Logs, 5)
	assert.Equal(t, "line 3", j.Logs[0].Message)
	assert.Equal(t, "line 7", j.Logs[4].Message)
	assert.Equal(t, types.LevelInfo, j.Logs[4].Level)
}

func TestApplyEventPartialResults(t *testing.T) {
	j := types.Job{Status: types.StatusProcessing}
	two := []types.ResultRecord{{CandidateName: "Globex"}, {CandidateName: "Initech"}}
	one := []types.ResultRecord{{CandidateName: "Hooli"}}

	applyEvent(&j, progress.Event{Partial: two}, 50, time.Now())
	assert.Len(t, j.PartialResults, 2)

	applyEvent(&j, progress.Event{Partial: one}, 50, time.Now())
	assert.Len(t, j.PartialResults, 2, "a smaller set does not replace without superseding")

	applyEvent(&j, progress.Event{Partial: one, Supersedes: true}, 50, time.Now())
	assert.Equal(t, one, j.PartialResults)

	two[0].CandidateName = "mutated"
	applyEvent(&j, progress.Event{Partial: two}, 50, time.Now())
	two[1].CandidateName = "mutated again"
	assert.Equal(t, "Initech", j.PartialResults[1].CandidateName, "partials are copied")
}

func TestApplyEventIgnoredWhenTerminal(t *testing.T) {
	j := types.Job{Status: types.StatusCompleted, Progress: types.Progress{Percent: 100}}
	applyEvent(&j, progress.Event{Percent: 50, Message: "stale", Log: true}, 50, time.Now())
	assert.Equal(t, 100, j.Progress.Percent)
	assert.Empty(t, j.Logs)
}

func TestReport(t *testing.T) {
	partial := []types.ResultRecord{{CandidateName: "Globex"}}
	final := []types.ResultRecord{{CandidateName: "Globex"}, {CandidateName: "Hooli"}}

	r := Report(types.Job{Status: types.StatusProcessing, PartialResults: partial, Results: final})
	assert.True(t, r.Partial)
	assert.Equal(t, partial, r.Results)

	r = Report(types.Job{Status: types.StatusCompleted, PartialResults: partial, Results: final})
	assert.False(t, r.Partial)
	assert.Equal(t, final, r.Results)

	r = Report(types.Job{Status: types.StatusFailed, PartialResults: partial, Error: &types.JobError{Stage: "analysis"}})
	assert.True(t, r.Partial)
	assert.Equal(t, partial, r.Results)
	assert.Equal(t, "analysis", r.Error.Stage)

	r = Report(types.Job{Status: types.StatusQueued})
	assert.NotNil(t, r.Results)
	assert.NotNil(t, r.Logs)
	assert.NotNil(t, r.Metrics)
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue()
	q.push("a")
	q.push("b")
	q.push("c")

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.pop(ctx)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := newQueue()
	got := make(chan string)
	go func() {
		id, _ := q.pop(context.Background())
		got <- id
	}()

	select {
	case <-got:
		t.Fatal("pop returned before push")
	case <-time.After(20 * time.Millisecond):
	}
	q.push("x")
	select {
	case id := <-got:
		assert.Equal(t, "x", id)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestQueuePopStopsOnCancel(t *testing.T) {
	q := newQueue()
	q.push("left")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := q.pop(ctx)
	assert.False(t, ok)
	assert.Equal(t, []string{"left"}, q.drain())
}
