package main

import (
	"testing"

	"github.com/CZERTAINLY/batchdl/internal/model"
	"github.com/stretchr/testify/require"
)

func TestResult(t *testing.T) {
	t.Parallel()

	jobs := func(states ...model.JobState) []model.JobView {
		ret := make([]model.JobView, len(states))
		for i, s := range states {
			ret[i] = model.JobView{Job: model.Job{ID: i}, State: s, Slot: -1}
		}
		return ret
	}

	var testCases = []struct {
		scenario string
		given    model.Snapshot
		then     string
	}{
		{
			scenario: "all completed",
			given:    model.Snapshot{Completed: 2, Total: 2, Jobs: jobs(model.JobCompleted, model.JobCompleted)},
		},
		{
			scenario: "failed",
			given:    model.Snapshot{Completed: 1, Failed: 1, Total: 2, Jobs: jobs(model.JobCompleted, model.JobFailed)},
			then:     "1 of 2 job(s) failed",
		},
		{
			scenario: "cancelled",
			given:    model.Snapshot{Completed: 1, Failed: 1, Total: 3, Jobs: jobs(model.JobCompleted, model.JobFailed, model.JobCancelled)},
			then:     "batch cancelled: 1 of 3 job(s) completed",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			err := result(tc.given)
			if tc.then == "" {
				require.NoError(t, err)
				return
			}
			require.EqualError(t, err, tc.then)
		})
	}
}

func TestExists(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.False(t, exists(dir))
	require.False(t, exists(dir+"/missing.yaml"))
}
