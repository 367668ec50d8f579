package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/sweeney/bonsai-node/internal/update"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return New(prometheus.NewRegistry())
}

func TestObserveOutcome(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveOutcome(update.Outcome{Domain: update.DomainProgram, Result: update.ResultApplied, Succeeded: true})
	m.ObserveOutcome(update.Outcome{Domain: update.DomainConfig, Result: update.ResultFailed, ErrorClass: update.ClassIntegrityFailure})
	m.ObserveOutcome(update.Outcome{Domain: update.DomainConfig, Result: update.ResultFailed, ErrorClass: update.ClassIntegrityFailure})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpdateOutcomes.WithLabelValues("program", "applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdateOutcomes.WithLabelValues("config", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.UpdateErrors.WithLabelValues("config", "integrity_failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.UpdateErrors))
}

func TestObserveFuse(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveFuse("program", update.Fuse{Failures: 2})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FuseFailures.WithLabelValues("program")))
}

func TestObserveRebootAndCommand(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveReboot("normal", false)
	m.ObserveReboot("critical", true)
	m.ObserveCommand("pump", true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebootRequests.WithLabelValues("normal", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RebootRequests.WithLabelValues("critical", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("pump", "true")))
}

func TestGauges(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveSoil(4095, 0)
	SetBool(m.PumpOn, true)
	SetBool(m.SafeMode, false)

	assert.Equal(t, 4095.0, testutil.ToFloat64(m.SoilRaw))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Moisture))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PumpOn))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SafeMode))
}

func TestNewRegistersOncePerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
