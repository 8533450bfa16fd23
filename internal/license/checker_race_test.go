package license

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingChannel answers every check from its own goroutine after a random
// delay, sometimes with a response, sometimes with a failure and sometimes
// with both at once, so answers race the checker's real timers.
type racingChannel struct{}

func (racingChannel) Establish(events ConnectionEvents) error {
	go events.Connected()
	return nil
}

func (racingChannel) SendCheck(_ int32, _ string, sink ResultSink) error {
	go func() {
		time.Sleep(time.Duration(rand.IntN(2000)) * time.Microsecond)
		switch rand.IntN(3) {
		case 0:
			sink.Deliver(ServerResponse{})
		case 1:
			sink.Fail(errBoom)
		default:
			var wg sync.WaitGroup
			wg.Add(2)
			go func() { defer wg.Done(); sink.Deliver(ServerResponse{}) }()
			go func() { defer wg.Done(); sink.Fail(errBoom) }()
			wg.Wait()
		}
	}()
	return nil
}

func (racingChannel) Release() {}

// countingCallback counts every resolution of one check.
type countingCallback struct {
	calls atomic.Int32
	once  sync.Once
	done  chan struct{}
}

func newCountingCallback() *countingCallback {
	return &countingCallback{done: make(chan struct{})}
}

func (c *countingCallback) resolve() {
	c.calls.Add(1)
	c.once.Do(func() { close(c.done) })
}

func (c *countingCallback) Allow(Verdict)              { c.resolve() }
func (c *countingCallback) DontAllow(Verdict)          { c.resolve() }
func (c *countingCallback) ApplicationError(ErrorCode) { c.resolve() }

func TestCheckerConcurrentAnswersResolveEachCheckOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("stress test")
	}

	checker, err := NewChecker(CheckerConfig{
		Policy:    NewStrictPolicy(),
		Channel:   racingChannel{},
		Verifier:  &fakeVerifier{verdict: NotLicensed},
		PublicKey: testKey{},
		PackageID: "com.example.app",
		Timeout:   time.Millisecond,
	}, WithClock(clock.New()), WithLogger(discardLogger()))
	require.NoError(t, err)
	defer checker.Close(context.Background())

	const (
		workers  = 8
		perGroup = 250
	)
	callbacks := make([]*countingCallback, workers*perGroup)
	for i := range callbacks {
		callbacks[i] = newCountingCallback()
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(group []*countingCallback) {
			defer wg.Done()
			for _, cb := range group {
				checker.RequestCheck(context.Background(), cb)
			}
		}(callbacks[w*perGroup : (w+1)*perGroup])
	}
	wg.Wait()

	deadline := time.After(20 * time.Second)
	for i, cb := range callbacks {
		select {
		case <-cb.done:
		case <-deadline:
			t.Fatalf("check %d never resolved", i)
		}
	}

	// let stragglers (late answers, stale timers) run before counting
	time.Sleep(20 * time.Millisecond)
	stats := settle(t, checker)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.InFlight)

	for i, cb := range callbacks {
		assert.Equal(t, int32(1), cb.calls.Load(), "check %d", i)
	}
}
