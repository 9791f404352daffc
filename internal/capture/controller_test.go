package capture

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/relabs-tech/motion_logger/internal/imu"
	"github.com/relabs-tech/motion_logger/internal/orientation"
	"github.com/relabs-tech/motion_logger/internal/sensors"
	"github.com/relabs-tech/motion_logger/internal/sessionlog"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// periodicSource yields one Quat6 packet every period of fake time,
// reporting a backlog as PollSampleMore like the real FIFO.
type periodicSource struct {
	clock   *fakeClock
	period  time.Duration
	next    time.Time
	faults  int // polls that fail before the source recovers
	reinits int
	header  uint16
}

func newPeriodicSource(clock *fakeClock, period time.Duration) *periodicSource {
	return &periodicSource{clock: clock, period: period, next: clock.now, header: imu.HeaderQuat6}
}

func (s *periodicSource) Poll() (sensors.PollStatus, imu.DMPFrame, error) {
	if s.faults > 0 {
		s.faults--
		return sensors.PollEmpty, imu.DMPFrame{}, errors.New("dmp fault")
	}
	now := s.clock.Now()
	if now.Before(s.next) {
		return sensors.PollEmpty, imu.DMPFrame{}, nil
	}
	s.next = s.next.Add(s.period)
	frame := imu.DMPFrame{Header: s.header, Quat6: imu.Quat6{Q1: 1 << 20}}
	if !now.Before(s.next) {
		return sensors.PollSampleMore, frame, nil
	}
	return sensors.PollSample, frame, nil
}

// Reinit resets the FIFO, so packets missed during the fault are gone.
func (s *periodicSource) Reinit() error {
	s.reinits++
	s.next = s.clock.Now()
	return nil
}

func newTestController(t *testing.T, src Source, clock Clock) (*Controller, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shots.csv")
	return NewController(src, Options{
		LogPath:  path,
		Duration: 10 * time.Second,
		Backoff:  500 * time.Millisecond,
		Clock:    clock,
	}), path
}

// run steps the controller every tick until the session leaves Active.
func run(c *Controller, clock *fakeClock, tick time.Duration) {
	for c.Status() == StatusActive {
		c.Step()
		clock.Advance(tick)
	}
}

func TestSessionRecordsForBudget(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	c, path := newTestController(t, src, clock)

	if err := c.Begin(); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	run(c, clock, 10*time.Millisecond)

	if c.Status() != StatusComplete {
		t.Fatalf("status = %v, want complete", c.Status())
	}
	if c.Rows() != 1000 {
		t.Errorf("rows = %d, want 1000", c.Rows())
	}

	samples, err := sessionlog.ReadSamples(path)
	if err != nil {
		t.Fatalf("ReadSamples: %v", err)
	}
	if len(samples) != 1000 {
		t.Fatalf("file has %d samples, want 1000", len(samples))
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].ElapsedMS < samples[i-1].ElapsedMS {
			t.Fatalf("elapsed went backwards at row %d: %d < %d", i, samples[i].ElapsedMS, samples[i-1].ElapsedMS)
		}
	}
	if last := samples[len(samples)-1].ElapsedMS; last >= 10000 {
		t.Errorf("last sample at %d ms, past the budget", last)
	}
}

func TestSessionDrainsBacklog(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	c, _ := newTestController(t, src, clock)
	c.Begin()

	// the loop stalls for 100ms; one Step must catch up on the queue
	clock.Advance(95 * time.Millisecond)
	c.Step()
	if c.Rows() != 10 {
		t.Errorf("rows after stalled step = %d, want 10", c.Rows())
	}
}

func TestSessionSkipsNonQuatPackets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	src.header = imu.HeaderAccel
	c, _ := newTestController(t, src, clock)
	c.Begin()
	clock.Advance(50 * time.Millisecond)
	c.Step()
	if c.Rows() != 0 {
		t.Errorf("rows = %d, want 0 for accel-only packets", c.Rows())
	}
}

func TestSensorFaultBacksOffAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	src.faults = 1
	c, _ := newTestController(t, src, clock)
	c.Begin()

	c.Step() // fault
	if c.Status() != StatusActive {
		t.Fatal("a sensor fault must not end the session")
	}

	clock.Advance(100 * time.Millisecond)
	c.Step()
	if src.reinits != 0 {
		t.Errorf("re-init attempted %d times before backoff elapsed", src.reinits)
	}
	if c.Rows() != 0 {
		t.Errorf("sampled during backoff")
	}

	clock.Advance(400 * time.Millisecond)
	c.Step()
	if src.reinits != 1 {
		t.Errorf("reinits = %d, want 1", src.reinits)
	}
	if c.Rows() == 0 {
		t.Error("no samples after recovery")
	}

	run(c, clock, 10*time.Millisecond)
	if c.Rows() >= 1000 || c.Rows() < 900 {
		t.Errorf("rows = %d, want a gap of about 50 samples", c.Rows())
	}
}

func TestStopEndsSessionAndRestartTruncates(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	c, path := newTestController(t, src, clock)

	c.Begin()
	for i := 0; i < 20; i++ {
		c.Step()
		clock.Advance(10 * time.Millisecond)
	}
	c.Stop("control")
	if c.Status() != StatusComplete {
		t.Fatalf("status = %v after Stop", c.Status())
	}
	rows := c.Rows()

	// no appends once stopped
	clock.Advance(time.Second)
	c.Step()
	if c.Rows() != rows {
		t.Errorf("rows changed after Stop: %d -> %d", rows, c.Rows())
	}

	if err := c.Begin(); err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	if err := c.Begin(); err == nil {
		t.Error("Begin while active succeeded")
	}
	c.Step()
	c.Stop("control")

	samples, err := sessionlog.ReadSamples(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != c.Rows() {
		t.Errorf("file has %d samples, second session wrote %d", len(samples), c.Rows())
	}
}

func TestBeginFailsWhenStorageMissing(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c := NewController(newPeriodicSource(clock, time.Millisecond), Options{
		LogPath:  filepath.Join(t.TempDir(), "nope", "shots.csv"),
		Duration: time.Second,
		Clock:    clock,
	})
	if err := c.Begin(); err == nil {
		t.Fatal("expected error")
	}
	if c.Status() != StatusIdle {
		t.Errorf("status = %v, want idle", c.Status())
	}
}

// flakyLog wraps the real session log and fails appends while broken is set.
type flakyLog struct {
	*sessionlog.Log
	broken bool
}

func (l *flakyLog) Append(s orientation.Sample) error {
	if l.broken {
		return errors.New("card write error")
	}
	return l.Log.Append(s)
}

func TestAppendFailureDropsSampleAndKeepsSampling(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	src := newPeriodicSource(clock, 10*time.Millisecond)
	path := filepath.Join(t.TempDir(), "shots.csv")

	var flaky *flakyLog
	c := NewController(src, Options{
		LogPath:  path,
		Duration: 10 * time.Second,
		Backoff:  500 * time.Millisecond,
		Clock:    clock,
		OpenLog: func(path string) (SampleLog, error) {
			l, err := sessionlog.Begin(path)
			if err != nil {
				return nil, err
			}
			flaky = &flakyLog{Log: l}
			return flaky, nil
		},
	})
	if err := c.Begin(); err != nil {
		t.Fatal(err)
	}

	step := func(n int) {
		for i := 0; i < n; i++ {
			c.Step()
			clock.Advance(10 * time.Millisecond)
		}
	}

	step(5)
	if c.Rows() != 5 || c.Dropped() != 0 {
		t.Fatalf("rows=%d dropped=%d, want 5/0", c.Rows(), c.Dropped())
	}

	flaky.broken = true
	step(3)
	if c.Rows() != 5 {
		t.Errorf("rows = %d while appends fail, want 5", c.Rows())
	}
	if c.Dropped() != 3 {
		t.Errorf("dropped = %d, want 3", c.Dropped())
	}
	if c.Status() != StatusActive {
		t.Fatalf("status = %v, an append failure must not end the session", c.Status())
	}

	flaky.broken = false
	step(4)
	c.Stop("control")
	if c.Rows() != 9 {
		t.Errorf("rows = %d after recovery, want 9", c.Rows())
	}

	samples, err := sessionlog.ReadSamples(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(samples) != 9 {
		t.Errorf("file has %d samples, want 9", len(samples))
	}
}

func TestElapsedFrozenAfterCompletion(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	c, _ := newTestController(t, newPeriodicSource(clock, 10*time.Millisecond), clock)
	if c.Elapsed() != 0 {
		t.Errorf("Elapsed before any session = %s", c.Elapsed())
	}
	c.Begin()

	clock.Advance(2 * time.Second)
	if c.Elapsed() != 2*time.Second {
		t.Errorf("Elapsed while active = %s, want 2s", c.Elapsed())
	}
	c.Stop("control")

	clock.Advance(time.Minute)
	if c.Elapsed() != 2*time.Second {
		t.Errorf("Elapsed after completion = %s, want 2s", c.Elapsed())
	}

	c.Begin()
	clock.Advance(time.Second)
	if c.Elapsed() != time.Second {
		t.Errorf("Elapsed of second session = %s, want 1s", c.Elapsed())
	}
}
