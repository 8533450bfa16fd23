package license

import (
	"context"
	"crypto"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testKey stands in for a verification key; the fake verifiers ignore it.
type testKey struct{}

// newMockClock returns a mock clock set to a realistic wall time.
func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC))
	return mock
}

type sentCheck struct {
	nonce     int32
	packageID string
	sink      ResultSink
}

// fakeChannel records dispatched checks and lets tests drive connection events.
type fakeChannel struct {
	mu           sync.Mutex
	autoConnect  bool
	establishErr error
	sendErr      error
	events       ConnectionEvents
	establishes  int
	releases     int
	sent         chan sentCheck
}

func newFakeChannel(autoConnect bool) *fakeChannel {
	return &fakeChannel{autoConnect: autoConnect, sent: make(chan sentCheck, 16)}
}

func (f *fakeChannel) Establish(events ConnectionEvents) error {
	f.mu.Lock()
	f.establishes++
	f.events = events
	err := f.establishErr
	auto := f.autoConnect
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if auto {
		events.Connected()
	}
	return nil
}

func (f *fakeChannel) SendCheck(nonce int32, packageID string, sink ResultSink) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- sentCheck{nonce: nonce, packageID: packageID, sink: sink}
	return nil
}

func (f *fakeChannel) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeChannel) currentEvents() ConnectionEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

func (f *fakeChannel) establishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.establishes
}

func (f *fakeChannel) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

func (f *fakeChannel) awaitSent(t *testing.T) sentCheck {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a dispatched check")
		return sentCheck{}
	}
}

func (f *fakeChannel) assertNothingSent(t *testing.T) {
	t.Helper()
	select {
	case s := <-f.sent:
		t.Fatalf("unexpected dispatch of nonce %d", s.nonce)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeVerifier answers every request with a fixed verdict.
type fakeVerifier struct {
	mu       sync.Mutex
	verdict  Verdict
	extras   Extras
	requests []VerifyRequest
}

func (v *fakeVerifier) Verify(req VerifyRequest) (Verdict, Extras) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.requests = append(v.requests, req)
	return v.verdict, v.extras
}

func (v *fakeVerifier) set(verdict Verdict, extras Extras) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.verdict = verdict
	v.extras = extras
}

// keyCheckingVerifier refuses every key with err.
type keyCheckingVerifier struct {
	fakeVerifier
	err error
}

func (v *keyCheckingVerifier) ValidateKey(crypto.PublicKey) error {
	return v.err
}

// recordingPolicy is a StrictPolicy that remembers every verdict it was fed.
type recordingPolicy struct {
	*StrictPolicy
	mu    sync.Mutex
	calls []Verdict
}

func newRecordingPolicy() *recordingPolicy {
	return &recordingPolicy{StrictPolicy: NewStrictPolicy()}
}

func (p *recordingPolicy) ProcessServerResponse(v Verdict, extras Extras) {
	p.mu.Lock()
	p.calls = append(p.calls, v)
	p.mu.Unlock()
	p.StrictPolicy.ProcessServerResponse(v, extras)
}

func (p *recordingPolicy) recorded() []Verdict {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Verdict(nil), p.calls...)
}

// memoryPrefs is an in-memory PreferenceStore with staged writes.
type memoryPrefs struct {
	mu        sync.Mutex
	values    map[string]string
	staged    map[string]string
	commits   int
	commitErr error
}

func newMemoryPrefs() *memoryPrefs {
	return &memoryPrefs{values: map[string]string{}, staged: map[string]string{}}
}

func (m *memoryPrefs) GetString(key, def string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.values[key]; ok {
		return v
	}
	return def
}

func (m *memoryPrefs) PutString(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staged[key] = value
}

func (m *memoryPrefs) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits++
	if m.commitErr != nil {
		m.staged = map[string]string{}
		return m.commitErr
	}
	for k, v := range m.staged {
		m.values[k] = v
	}
	m.staged = map[string]string{}
	return nil
}

func awaitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for check result")
		return Result{}
	}
}

func assertNoResult(t *testing.T, results <-chan Result) {
	t.Helper()
	select {
	case r := <-results:
		t.Fatalf("unexpected extra result %s", r)
	case <-time.After(50 * time.Millisecond):
	}
}

// settle waits until every task posted so far has run on the worker.
func settle(t *testing.T, c *Checker) Stats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	return stats
}

var errBoom = errors.New("boom")
