package pump

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/bonsai-node/internal/clock"
	"github.com/sweeney/bonsai-node/internal/gpio"
	"github.com/sweeney/bonsai-node/internal/store"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func newController(t *testing.T) (*Controller, *gpio.FakeOutput, *clock.FakeClock) {
	t.Helper()
	out := gpio.NewFakeOutput()
	clk := clock.Fake(epoch)
	c := New(out, clk, 0, nil)
	require.NoError(t, c.Begin())
	return c, out, clk
}

func TestBegin_DeEnergizes(t *testing.T) {
	c, out, _ := newController(t)
	assert.Equal(t, []bool{false}, out.Writes())
	assert.False(t, c.State())
	assert.Equal(t, DefaultMaxRun, c.MaxRun())
}

func TestTurnOnOff(t *testing.T) {
	c, out, clk := newController(t)
	clk.Advance(time.Second)

	require.True(t, c.TurnOn())
	assert.True(t, out.On())
	assert.True(t, c.State())
	st := c.Status()
	assert.Equal(t, time.Second, st.StartedAt)

	assert.False(t, c.TurnOn(), "already on")

	clk.Advance(5 * time.Second)
	require.True(t, c.TurnOff())
	assert.False(t, out.On())
	assert.False(t, c.State())
	assert.Equal(t, 6*time.Second, c.Status().LastChangedAt)

	assert.False(t, c.TurnOff(), "already off")
}

func TestCeiling_EmergencyStopExactlyOnce(t *testing.T) {
	c, out, clk := newController(t)
	require.True(t, c.TurnOn())

	events := 0
	for i := 0; i < 130; i++ {
		clk.Advance(500 * time.Millisecond)
		if ev, ok := c.Tick(); ok {
			events++
			assert.Greater(t, ev.RanFor, DefaultMaxRun)
			assert.LessOrEqual(t, ev.RanFor, DefaultMaxRun+500*time.Millisecond)
		}
		if c.State() {
			assert.LessOrEqual(t, clk.Uptime()-c.Status().StartedAt, DefaultMaxRun)
		}
	}

	assert.Equal(t, 1, events)
	assert.False(t, c.State())
	assert.False(t, out.On())
	assert.True(t, c.IsEmergencyStop())

	assert.False(t, c.TurnOn(), "re-arm requires clearing first")
	assert.False(t, out.On())

	require.True(t, c.ClearEmergencyStop())
	assert.False(t, c.ClearEmergencyStop(), "nothing left to clear")
	assert.True(t, c.TurnOn())
}

func TestCeiling_AtExactlyMaxRunStillOn(t *testing.T) {
	c, _, clk := newController(t)
	require.True(t, c.TurnOn())
	clk.Advance(DefaultMaxRun)
	_, ok := c.Tick()
	assert.False(t, ok)
	assert.True(t, c.State())

	clk.Advance(time.Millisecond)
	_, ok = c.Tick()
	assert.True(t, ok)
}

func TestCeiling_ObservationEnforces(t *testing.T) {
	c, out, clk := newController(t)
	require.True(t, c.TurnOn())
	clk.Advance(2 * DefaultMaxRun)

	assert.False(t, c.State(), "never observed on past the ceiling")
	assert.False(t, out.On())

	ev, ok := c.Tick()
	require.True(t, ok, "event still surfaced by the next tick")
	assert.Equal(t, 2*DefaultMaxRun, ev.RanFor)
	_, ok = c.Tick()
	assert.False(t, ok)
}

func TestCustomMaxRun(t *testing.T) {
	out := gpio.NewFakeOutput()
	clk := clock.Fake(epoch)
	c := New(out, clk, 10*time.Second, nil)
	require.NoError(t, c.Begin())
	require.True(t, c.TurnOn())
	clk.Advance(11 * time.Second)
	_, ok := c.Tick()
	assert.True(t, ok)
}

func TestTurnOn_EnergizeFailure(t *testing.T) {
	c, out, _ := newController(t)
	out.Fail(1, errors.New("line busy"))
	assert.False(t, c.TurnOn())
	assert.False(t, c.State())
	assert.False(t, out.On())
}

func TestDeEnergizeFailureRetriedByTick(t *testing.T) {
	c, out, clk := newController(t)
	require.True(t, c.TurnOn())
	out.Fail(2, errors.New("line busy"))

	assert.False(t, c.TurnOff(), "write failed")
	assert.True(t, out.On(), "line still energized")
	assert.False(t, c.State())

	clk.Advance(200 * time.Millisecond)
	c.Tick()
	assert.True(t, out.On(), "second failure")

	clk.Advance(200 * time.Millisecond)
	c.Tick()
	assert.False(t, out.On(), "retry succeeded")
}

func TestSetState_BypassesGuardsAndRearms(t *testing.T) {
	c, out, clk := newController(t)
	require.True(t, c.TurnOn())
	clk.Advance(61 * time.Second)
	c.Tick()
	require.True(t, c.IsEmergencyStop())

	clk.Advance(time.Second)
	c.SetState(true)
	assert.True(t, c.State())
	assert.True(t, out.On())
	assert.False(t, c.IsEmergencyStop())
	assert.Equal(t, clk.Uptime(), c.Status().StartedAt)

	clk.Advance(DefaultMaxRun + time.Millisecond)
	_, ok := c.Tick()
	assert.True(t, ok, "ceiling applies after restore")

	c.SetState(false)
	assert.False(t, out.On())
}

func TestSnapshotRestore_CarriesElapsed(t *testing.T) {
	c, _, clk := newController(t)
	require.True(t, c.TurnOn())
	clk.Advance(40 * time.Second)
	snap := c.Snapshot()
	assert.True(t, snap.IsOn)
	assert.Equal(t, 40*time.Second, snap.Elapsed)
	assert.Equal(t, epoch.Add(40*time.Second).Unix(), snap.TakenAt)

	// New boot.
	clk.Reboot()
	out := gpio.NewFakeOutput()
	c = New(out, clk, 0, nil)
	require.NoError(t, c.Begin())
	c.Restore(snap)
	assert.True(t, out.On())

	clk.Advance(20 * time.Second)
	_, ok := c.Tick()
	assert.False(t, ok)
	clk.Advance(time.Millisecond)
	_, ok = c.Tick()
	assert.True(t, ok, "ceiling spans the sleep")
}

func TestRestore_EmergencyStop(t *testing.T) {
	c, out, _ := newController(t)
	c.Restore(Snapshot{EmergencyStop: true})
	assert.True(t, c.IsEmergencyStop())
	assert.False(t, out.On())
	assert.False(t, c.TurnOn())
}

func TestRestore_AlreadyPastCeiling(t *testing.T) {
	c, out, _ := newController(t)
	c.Restore(Snapshot{IsOn: true, Elapsed: 90 * time.Second})
	assert.False(t, out.On())
	assert.NotContains(t, out.Writes(), true, "never energized")
	assert.True(t, c.IsEmergencyStop())
	_, ok := c.Tick()
	assert.True(t, ok)
}

func TestSnapshot_UnsyncedClock(t *testing.T) {
	c, _, clk := newController(t)
	clk.SetSynced(false)
	assert.Zero(t, c.Snapshot().TakenAt)
}

func TestSnapshotPersistence(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer st.Close()
	ns, err := st.Claim(Namespace)
	require.NoError(t, err)

	_, ok, err := TakeSnapshot(ns)
	require.NoError(t, err)
	assert.False(t, ok)

	want := Snapshot{IsOn: true, Elapsed: 12 * time.Second, TakenAt: epoch.Unix()}
	require.NoError(t, SaveSnapshot(ns, want))

	peeked, ok, err := PeekSnapshot(ns)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, peeked)

	got, ok, err := TakeSnapshot(ns)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok, err = TakeSnapshot(ns)
	require.NoError(t, err)
	assert.False(t, ok, "consumed on read")
}

func TestTakeSnapshot_Corrupt(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer st.Close()
	ns, err := st.Claim(Namespace)
	require.NoError(t, err)

	require.NoError(t, ns.PutBytes("snapshot", []byte{0xff, 0x00}))
	_, ok, err := TakeSnapshot(ns)
	assert.Error(t, err)
	assert.False(t, ok)

	_, found, err := ns.Bytes("snapshot")
	require.NoError(t, err)
	assert.False(t, found, "corrupt snapshot is not retried")
}
