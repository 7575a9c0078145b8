package handoff

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxux/hombedded-faders/internal/channels"
	"github.com/maxux/hombedded-faders/internal/level"
	"github.com/maxux/hombedded-faders/internal/types"
)

var errFull = errors.New("buffer full")

// testOutput is a fixed capacity message buffer that never allocates after
// construction, like an engine port buffer.
type testOutput struct {
	buf    [][channels.MessageSize]byte
	n      int
	resets int
	// failOn rejects every message for this controller (0 disables)
	failOn byte
}

func newTestOutput(capacity int) *testOutput {
	return &testOutput{buf: make([][channels.MessageSize]byte, capacity)}
}

func (o *testOutput) Reset() {
	o.n = 0
	o.resets++
}

func (o *testOutput) Write(msg []byte) error {
	if o.n == len(o.buf) || (o.failOn != 0 && msg[1] == o.failOn) {
		return errFull
	}
	copy(o.buf[o.n][:], msg)
	o.n++
	return nil
}

func (o *testOutput) messages() [][channels.MessageSize]byte {
	return append([][channels.MessageSize]byte(nil), o.buf[:o.n]...)
}

// batch builds a fader batch; nil entries are non-integer entries.
func batch(values ...any) *types.Batch {
	b := &types.Batch{Samples: make([]types.Sample, len(values))}
	for i, v := range values {
		if n, ok := v.(int); ok {
			b.Samples[i] = types.Sample{Value: n, OK: true}
		}
	}
	return b
}

type fixture struct {
	state   *State
	updater *Updater
	emitter *Emitter
	out     *testOutput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := New(channels.Default())
	require.NoError(t, err)

	return &fixture{
		state:   s,
		updater: NewUpdater(s, UpdaterConfig{}),
		emitter: NewEmitter(s),
		out:     newTestOutput(16),
	}
}

func (f *fixture) update(t *testing.T, b *types.Batch) int {
	t.Helper()
	changed, err := f.updater.Update(b)
	require.NoError(t, err)
	return changed
}

// TestEndToEndScenario follows two batches from the broker to the wire.
func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 2, f.update(t, batch(0, 128)))
	assert.True(t, f.state.Pending())
	assert.False(t, f.state.Busy())
	assert.Equal(t, []uint8{0, 92}, f.state.shared.staged)

	assert.Equal(t, 2, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 0}, {0xB0, 50, 92}}, f.out.messages())
	assert.False(t, f.state.Pending())
	assert.Equal(t, []uint8{0, 92}, f.state.Levels())

	// index 1 drops from 92 to 0, so both channels move
	assert.Equal(t, 2, f.update(t, batch(255, 0)))
	assert.Equal(t, []uint8{127, 0}, f.state.shared.staged)

	assert.Equal(t, 2, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 127}, {0xB0, 50, 0}}, f.out.messages())
	assert.Equal(t, []uint8{127, 0}, f.state.Levels())
}

func TestIdenticalBatchIsIdempotent(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, 2, f.update(t, batch(10, 200)))
	f.emitter.Process(f.out)
	publishes := f.state.Stats().Publishes

	assert.Equal(t, 0, f.update(t, batch(10, 200)))
	assert.False(t, f.state.Pending())
	assert.Equal(t, publishes, f.state.Stats().Publishes)

	assert.Equal(t, 0, f.emitter.Process(f.out))
	assert.Empty(t, f.out.messages())
}

// TestNoPendingWritesNothing checks the fast path still clears the buffer.
func TestNoPendingWritesNothing(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 0, f.emitter.Process(f.out))
	}
	assert.Empty(t, f.out.messages())
	assert.Equal(t, 5, f.out.resets)

	stats := f.state.Stats()
	assert.Equal(t, uint64(5), stats.Periods)
	assert.Equal(t, uint64(0), stats.Drains)
	assert.Equal(t, "idle", stats.Phase)
}

func TestPublishIsEmittedExactlyOnce(t *testing.T) {
	f := newFixture(t)

	f.update(t, batch(64, 64))

	assert.Equal(t, 2, f.emitter.Process(f.out))
	assert.Equal(t, 0, f.emitter.Process(f.out))
	assert.Empty(t, f.out.messages())
	assert.Equal(t, uint64(2), f.state.Stats().Emitted)
}

// TestPublishesCoalesceUntilDrained publishes twice between two periods: the
// channel changed by the first publish must not be forgotten by the second.
func TestPublishesCoalesceUntilDrained(t *testing.T) {
	f := newFixture(t)

	require.Equal(t, 2, f.update(t, batch(0, 0)))
	f.emitter.Process(f.out)

	require.Equal(t, 1, f.update(t, batch(128, 0)))
	require.Equal(t, 1, f.update(t, batch(128, 255)))

	assert.Equal(t, 2, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 92}, {0xB0, 50, 127}}, f.out.messages())

	stats := f.state.Stats()
	assert.Equal(t, uint64(1), stats.Coalesced)
	assert.Equal(t, uint64(3), stats.Publishes)
	assert.Equal(t, uint64(2), stats.Drains)
}

func TestNonIntegerEntriesAreSkipped(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 1, f.update(t, batch(nil, 128)))
	assert.Equal(t, 1, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 50, 92}}, f.out.messages())

	// fader 0 still unknown, fader 1 unchanged
	assert.Equal(t, 0, f.update(t, batch(nil, nil)))
	assert.Equal(t, 0, f.update(t, batch()))
	assert.Equal(t, 0, f.update(t, &types.Batch{}))
	assert.False(t, f.state.Pending())

	// a missing entry keeps the last level instead of resetting it
	assert.Equal(t, 1, f.update(t, batch(255)))
	assert.Equal(t, []uint8{127, 92}, f.updater.Previous())
}

func TestExtraEntriesAreIgnored(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, 2, f.update(t, batch(0, 128, 255, 3)))
	assert.Equal(t, 0, f.update(t, batch(0, 128, 17)))
}

// TestWriteFailureSkipsOneMessage rejects the first channel: the second one
// must still go out, the failure must be recorded and the refused channel
// must still be owed to the mixer.
func TestWriteFailureSkipsOneMessage(t *testing.T) {
	f := newFixture(t)
	f.out.failOn = 47

	f.update(t, batch(255, 128))

	assert.Equal(t, 1, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 50, 92}}, f.out.messages())
	assert.True(t, f.state.Pending())
	assert.False(t, f.state.Busy())

	stats := f.state.Stats()
	assert.Equal(t, uint64(1), stats.WriteFailures)
	assert.Equal(t, uint64(1), stats.Emitted)

	ch, ok := f.state.LastWriteFailure()
	require.True(t, ok)
	assert.Equal(t, "Phones", ch.Name)

	// the refused level was never delivered
	assert.Equal(t, []uint8{0, 92}, f.state.Levels())
}

func TestBufferFullKeepsGoing(t *testing.T) {
	f := newFixture(t)
	f.out = newTestOutput(1)

	f.update(t, batch(1, 2))

	assert.Equal(t, 1, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 8}}, f.out.messages())
	assert.Equal(t, uint64(1), f.state.Stats().WriteFailures)
	assert.True(t, f.state.Pending())

	// the channel that did not fit goes out next period
	assert.Equal(t, 1, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 50, 11}}, f.out.messages())
	assert.False(t, f.state.Pending())
	assert.Equal(t, []uint8{8, 11}, f.state.Levels())
}

// TestRefusedChannelIsRetried keeps refusing one channel across periods: it
// stays owed until the output takes it, without the fader moving again, and
// a newer level staged meanwhile replaces the refused one.
func TestRefusedChannelIsRetried(t *testing.T) {
	f := newFixture(t)
	f.out.failOn = 47

	f.update(t, batch(255, 128))
	assert.Equal(t, 1, f.emitter.Process(f.out))

	assert.Equal(t, 0, f.emitter.Process(f.out))
	assert.Empty(t, f.out.messages())
	assert.True(t, f.state.Pending())
	assert.Equal(t, uint64(2), f.state.Stats().WriteFailures)

	// index 1 does not move; index 0 does while still owed
	assert.Equal(t, 1, f.update(t, batch(64, 128)))

	f.out.failOn = 0
	assert.Equal(t, 1, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 65}}, f.out.messages())
	assert.False(t, f.state.Pending())
	assert.Equal(t, []uint8{65, 92}, f.state.Levels())
	assert.Equal(t, f.updater.Previous(), f.state.Levels())
}

func TestResyncResendsKnownLevels(t *testing.T) {
	f := newFixture(t)

	n, err := f.updater.Resync()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.False(t, f.state.Pending())

	f.update(t, batch(255, 128))
	f.emitter.Process(f.out)

	n, err = f.updater.Resync()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 2, f.emitter.Process(f.out))
	assert.Equal(t, [][3]byte{{0xB0, 47, 127}, {0xB0, 50, 92}}, f.out.messages())
}

// fakeClock advances only when the updater sleeps.
type fakeClock struct {
	now    time.Time
	sleeps int
	onWake func()
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.sleeps++
	if c.onWake != nil {
		c.onWake()
	}
}

func TestUpdaterWaitsForDrain(t *testing.T) {
	f := newFixture(t)
	clock := &fakeClock{now: time.Unix(0, 0)}
	f.updater.now, f.updater.sleep = clock.Now, clock.Sleep

	f.state.phase.Store(uint32(phaseDraining))
	clock.onWake = func() {
		if clock.sleeps == 3 {
			f.state.phase.Store(uint32(phaseIdle))
		}
	}

	assert.Equal(t, 2, f.update(t, batch(0, 128)))
	assert.Equal(t, 3, clock.sleeps)
	assert.True(t, f.state.Pending())
}

func TestUpdaterReportsStuckEmitter(t *testing.T) {
	s, err := New(channels.Default())
	require.NoError(t, err)

	u := NewUpdater(s, UpdaterConfig{PollInterval: time.Millisecond, StuckTimeout: 10 * time.Millisecond})
	clock := &fakeClock{now: time.Unix(0, 0)}
	u.now, u.sleep = clock.Now, clock.Sleep

	s.phase.Store(uint32(phaseDraining))

	changed, err := u.Update(batch(0, 128))
	assert.ErrorIs(t, err, ErrEmitterStuck)
	assert.Equal(t, 0, changed)
	assert.Equal(t, 10, clock.sleeps)

	// nothing was published, the next attempt still sees the change
	assert.Equal(t, []uint8{0, 0}, u.Previous())
	s.phase.Store(uint32(phaseIdle))
	changed, err = u.Update(batch(0, 128))
	require.NoError(t, err)
	assert.Equal(t, 2, changed)
}

func TestMonitor(t *testing.T) {
	s, err := New(channels.Default())
	require.NoError(t, err)

	m := NewMonitor(s, 100*time.Millisecond)
	t0 := time.Unix(0, 0)

	require.NoError(t, m.Check(t0))

	s.phase.Store(uint32(phaseDraining))
	s.drains.Store(7)
	require.NoError(t, m.Check(t0))
	require.NoError(t, m.Check(t0.Add(50*time.Millisecond)))

	// a new drain restarts the clock
	s.drains.Store(8)
	require.NoError(t, m.Check(t0.Add(120*time.Millisecond)))
	require.NoError(t, m.Check(t0.Add(200*time.Millisecond)))

	err = m.Check(t0.Add(220 * time.Millisecond))
	require.ErrorIs(t, err, ErrEmitterStuck)

	s.phase.Store(uint32(phaseIdle))
	require.NoError(t, m.Check(t0.Add(300*time.Millisecond)))
}

func TestProcessDoesNotAllocate(t *testing.T) {
	f := newFixture(t)

	idle := testing.AllocsPerRun(100, func() {
		f.emitter.Process(f.out)
	})
	assert.Zero(t, idle)

	raw := 0
	busy := testing.AllocsPerRun(100, func() {
		// publish from the test goroutine outside the measured section is
		// not possible with AllocsPerRun, so stage directly
		f.state.shared.dirty[0] = true
		f.state.shared.staged[0] = uint8(raw % 128)
		f.state.phase.Store(uint32(phasePending))
		raw++
		f.emitter.Process(f.out)
	})
	assert.Zero(t, busy)
}

func TestNewRejectsInvalidTable(t *testing.T) {
	_, err := New(channels.Table{})
	assert.ErrorIs(t, err, channels.ErrEmptyTable)
}

// TestConcurrentHandoff runs both sides on their own goroutines. Raw values
// only increase, so every level seen on the wire must be non-decreasing and
// the last one must match the last publication.
func TestConcurrentHandoff(t *testing.T) {
	f := newFixture(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	var seen [2][]uint8

	wg.Add(1)
	go func() {
		defer wg.Done()
		out := newTestOutput(16)
		drain := func() {
			f.emitter.Process(out)
			for _, msg := range out.messages() {
				pos := 0
				if msg[1] == 50 {
					pos = 1
				}
				seen[pos] = append(seen[pos], msg[2])
			}
		}
		for {
			select {
			case <-done:
				for f.state.Pending() {
					drain()
				}
				return
			default:
				drain()
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()

	for raw := 0; raw <= level.RawMax; raw++ {
		_, err := f.updater.Update(batch(raw, raw/2))
		require.NoError(t, err)
	}
	close(done)
	wg.Wait()

	for pos := range seen {
		require.NotEmpty(t, seen[pos])
		for i := 1; i < len(seen[pos]); i++ {
			require.GreaterOrEqual(t, seen[pos][i], seen[pos][i-1])
		}
	}
	assert.Equal(t, level.Correct(level.RawMax), seen[0][len(seen[0])-1])
	assert.Equal(t, level.Correct(level.RawMax/2), seen[1][len(seen[1])-1])
	assert.Equal(t, f.updater.Previous(), f.state.Levels())
}
