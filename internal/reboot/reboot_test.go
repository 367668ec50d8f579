package reboot

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/power"
	"github.com/sweeney/bonsai-node/internal/store"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// rig simulates successive boots of one device sharing a state database.
type rig struct {
	t    *testing.T
	path string
	clk  *clock.FakeClock
	res  *power.Fake
	st   *store.Store
}

func newRig(t *testing.T) *rig {
	r := &rig{
		t:    t,
		path: filepath.Join(t.TempDir(), "state.db"),
		clk:  clock.Fake(epoch),
		res:  power.NewFake(),
	}
	t.Cleanup(func() {
		if r.st != nil {
			r.st.Close()
		}
	})
	return r
}

// boot starts a new process: uptime restarts, the store is reopened and a
// fresh governor runs Begin.
func (r *rig) boot() *Governor {
	r.t.Helper()
	if r.st != nil {
		require.NoError(r.t, r.st.Close())
	}
	r.clk.Reboot()
	st, err := store.Open(r.path)
	require.NoError(r.t, err)
	r.st = st
	ns, err := st.Claim(Namespace)
	require.NoError(r.t, err)
	g := New(ns, r.clk, r.res, nil)
	require.NoError(r.t, g.Begin())
	return g
}

func TestBegin_FirstBoot(t *testing.T) {
	r := newRig(t)
	g := r.boot()

	assert.Equal(t, StateNormal, g.State())
	assert.False(t, g.IsSafeMode())
	assert.Equal(t, ReasonPowerOn, g.ResetReason())
	rec := g.Record()
	assert.Equal(t, uint32(1), rec.BootCount)
	assert.Equal(t, uint32(1), rec.WindowCount)
	assert.Equal(t, epoch.Unix(), rec.WindowStart)
	assert.Equal(t, "reset_reason=POWERON boot_count=1 safe_mode=0 last_reason=", g.ResetSummary())
}

func TestBootStorm_SafeModeOnThirdBoot(t *testing.T) {
	r := newRig(t)

	g := r.boot()
	assert.False(t, g.IsSafeMode())
	r.clk.Advance(time.Minute)
	g = r.boot()
	assert.False(t, g.IsSafeMode())
	r.clk.Advance(time.Minute)
	g = r.boot()
	assert.True(t, g.IsSafeMode(), "third boot inside the window")
	assert.Equal(t, StateSafeMode, g.State())
	assert.Equal(t, uint32(3), g.Record().WindowCount)

	// Fourth boot after the window elapsed starts a new window.
	r.clk.Advance(11 * time.Minute)
	g = r.boot()
	assert.False(t, g.IsSafeMode())
	assert.Equal(t, uint32(1), g.Record().WindowCount)
	assert.Equal(t, uint32(4), g.Record().BootCount)
}

func TestBootStorm_ExactlyAtWindowEdgeStillCounts(t *testing.T) {
	r := newRig(t)
	r.boot()
	r.clk.Advance(5 * time.Minute)
	r.boot()
	r.clk.Advance(5 * time.Minute)
	g := r.boot()
	assert.True(t, g.IsSafeMode(), "10 minutes since window start is still inside it")
}

func TestRequestReboot_MinUptime(t *testing.T) {
	r := newRig(t)
	g := r.boot()

	r.clk.Advance(10 * time.Second)
	assert.False(t, g.RequestReboot("test", SeverityNormal))
	assert.Equal(t, 0, r.res.Restarts())

	r.clk.Advance(10 * time.Second)
	assert.True(t, g.RequestReboot("test", SeverityNormal))
	assert.Equal(t, 1, r.res.Restarts())
	assert.Equal(t, "test", g.Record().LastReason)
	assert.Equal(t, uint32(1), g.Record().Strikes)
}

func TestRequestReboot_CustomMinUptime(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	r.clk.Advance(30 * time.Second)
	assert.False(t, g.RequestRebootAfter("slow init", SeverityNormal, time.Minute))
	r.clk.Advance(30 * time.Second)
	assert.True(t, g.RequestRebootAfter("slow init", SeverityNormal, time.Minute))
}

func TestRequestReboot_CriticalAlwaysProceeds(t *testing.T) {
	r := newRig(t)
	r.boot()
	r.boot()
	g := r.boot()
	require.True(t, g.IsSafeMode())

	assert.False(t, g.RequestReboot("update", SeverityNormal), "uptime zero")
	r.clk.Advance(time.Minute)
	assert.False(t, g.RequestReboot("update", SeverityNormal), "safe mode")
	assert.False(t, g.RequestReboot("update", SeverityDeep), "safe mode")
	assert.True(t, g.RequestReboot("operator", SeverityCritical))
	assert.Equal(t, 1, r.res.Restarts())
}

func TestRequestReboot_CriticalAtZeroUptime(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	assert.True(t, g.RequestReboot("operator", SeverityCritical))
}

func TestRequestReboot_Backoff(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	r.clk.Advance(20 * time.Second)
	require.True(t, g.RequestReboot("sensor wedged", SeverityDeep))
	assert.Equal(t, []time.Duration{DeepSleepDuration}, r.res.Sleeps())
	nextOK := g.Record().NextOK
	assert.Equal(t, epoch.Add(20*time.Second+DeepBackoff).Unix(), nextOK)

	// Next boot: uptime is fine but the backoff has not elapsed.
	g = r.boot()
	assert.Equal(t, ReasonDeepSleep, g.ResetReason())
	r.clk.Advance(20 * time.Second)
	assert.False(t, g.RequestReboot("sensor wedged", SeverityNormal))
	assert.True(t, g.RequestReboot("operator", SeverityCritical))

	g = r.boot()
	assert.Equal(t, uint32(2), g.Record().Strikes)
}

func TestRequestReboot_BackoffElapses(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	r.clk.Advance(20 * time.Second)
	require.True(t, g.RequestReboot("a", SeverityNormal))

	g = r.boot()
	r.clk.Advance(20 * time.Second)
	assert.True(t, g.RequestReboot("b", SeverityNormal), "15s backoff already passed")
	assert.Equal(t, uint32(2), g.Record().Strikes)
}

func TestStrikes_CappedAndResetByFreshWindow(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	for i := 0; i < MaxStrikes+3; i++ {
		require.True(t, g.RequestReboot("operator", SeverityCritical))
	}
	assert.Equal(t, uint32(MaxStrikes), g.Record().Strikes)

	r.clk.Advance(Window + time.Second)
	g = r.boot()
	assert.Equal(t, uint32(0), g.Record().Strikes)
}

func TestResetReasons(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	assert.Equal(t, ReasonPowerOn, g.ResetReason())

	g = r.boot()
	assert.Equal(t, ReasonOther, g.ResetReason(), "no marker means crash or power loss")

	g.MarkCleanExit()
	g = r.boot()
	assert.Equal(t, ReasonExternal, g.ResetReason())

	require.True(t, g.RequestReboot("operator", SeverityCritical))
	g = r.boot()
	assert.Equal(t, ReasonSoftware, g.ResetReason())
	assert.Contains(t, g.ResetSummary(), "reset_reason=SOFTWARE")
	assert.Contains(t, g.ResetSummary(), "last_reason=operator")
}

func TestBegin_ReportsUnreadableMarker(t *testing.T) {
	r := newRig(t)
	st, err := store.Open(r.path)
	require.NoError(t, err)
	ns, err := st.Claim(Namespace)
	require.NoError(t, err)
	require.NoError(t, ns.PutInt64(keyCleanExit, -1))
	r.st = st

	g := New(ns, r.clk, r.res, nil)
	err = g.Begin()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "clean_exit")
	assert.Equal(t, StateNormal, g.State(), "boot still recorded")
	assert.Equal(t, ReasonPowerOn, g.ResetReason())

	g = r.boot()
	assert.Equal(t, ReasonOther, g.ResetReason(), "bad marker removed")
}

func TestRequestReboot_ResetterFailure(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	r.res.SetError(errors.New("EPERM"))
	r.clk.Advance(time.Minute)

	assert.False(t, g.RequestReboot("update", SeverityNormal))

	r.res.SetError(nil)
	g = r.boot()
	assert.Equal(t, ReasonOther, g.ResetReason(), "failed reset leaves no software marker")
}

func TestRequestReboot_BeforeResetHook(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	var got []Severity
	g.BeforeReset = func(s Severity) {
		got = append(got, s)
		assert.Equal(t, 0, r.res.Restarts(), "hook runs before the reset")
	}
	require.True(t, g.RequestReboot("operator", SeverityCritical))
	assert.Equal(t, []Severity{SeverityCritical}, got)
	assert.Contains(t, r.clk.Slept(), FlushDelay)
}

func TestRequestReboot_RefusedBeforeBegin(t *testing.T) {
	r := newRig(t)
	st, err := store.Open(r.path)
	require.NoError(t, err)
	r.st = st
	ns, err := st.Claim(Namespace)
	require.NoError(t, err)
	g := New(ns, r.clk, r.res, nil)
	r.clk.Advance(time.Minute)

	assert.Equal(t, StateFresh, g.State())
	assert.False(t, g.RequestReboot("early", SeverityNormal))
	assert.True(t, g.RequestReboot("operator", SeverityCritical))
}

func TestUnsyncedClock_SettleLeavesSafeMode(t *testing.T) {
	r := newRig(t)
	r.clk.SetSynced(false)
	r.boot()
	r.boot()
	g := r.boot()
	require.True(t, g.IsSafeMode())

	r.clk.Advance(5 * time.Minute)
	g.Settle()
	assert.True(t, g.IsSafeMode(), "not yet stable")

	r.clk.Advance(6 * time.Minute)
	g.Settle()
	assert.False(t, g.IsSafeMode())
	assert.Equal(t, uint32(1), g.Record().WindowCount)

	r.clk.Advance(time.Minute)
	assert.True(t, g.RequestReboot("update", SeverityNormal))
}

func TestUnsyncedClock_BackoffFallsBackToUptime(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	r.clk.Advance(20 * time.Second)
	require.True(t, g.RequestReboot("a", SeverityDeep)) // strikes 1

	r.clk.SetSynced(false)
	g = r.boot()
	r.clk.Advance(30 * time.Second)
	assert.False(t, g.RequestReboot("b", SeverityDeep), "uptime below 60s x 1 strike")
	r.clk.Advance(30 * time.Second)
	assert.True(t, g.RequestReboot("b", SeverityDeep))
	assert.Equal(t, int64(0), g.Record().NextOK, "no wall time to anchor backoff")
}

func TestEnterSleep(t *testing.T) {
	r := newRig(t)
	g := r.boot()
	require.NoError(t, g.EnterSleep(2*time.Hour))
	assert.Equal(t, []time.Duration{2 * time.Hour}, r.res.Sleeps())
	assert.Equal(t, uint32(0), g.Record().Strikes)

	g = r.boot()
	assert.Equal(t, ReasonDeepSleep, g.ResetReason())
}

func TestLoad_ReadOnly(t *testing.T) {
	r := newRig(t)
	r.boot()
	rec, err := Load(r.st.ReadOnly(Namespace))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.BootCount)
}
