package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveIntake("greeting", true)
	r.ObserveIntake("greeting", true)
	r.ObserveIntake("reject", false)
	r.ObserveDequeue(OutcomeAssigned, 20*time.Millisecond)
	r.ObserveDequeue(OutcomeQueueEmpty, time.Millisecond)
	r.IncRedirectRace()
	r.IncStaleQueueEntry()
	r.IncStaleQueueEntry()

	assert.InDelta(t, 2, testutil.ToFloat64(r.intakeTotal.WithLabelValues("greeting", "success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.intakeTotal.WithLabelValues("reject", "error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.dequeueTotal.WithLabelValues(OutcomeAssigned)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.redirectRaces), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.staleEntries), 0)

	n, err := testutil.GatherAndCount(reg, "callqueue_dequeue_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNop(t *testing.T) {
	r := Nop()
	r.ObserveIntake("greeting", true)
	r.ObserveDequeue(OutcomeError, time.Second)
	r.IncRedirectRace()
	r.IncStaleQueueEntry()
}
