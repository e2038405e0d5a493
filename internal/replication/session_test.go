package replication

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pglogrepl"
	"github.com/rs/zerolog"
)

// fakeStream is a scriptable stream for exercising SessionManager without a
// database. frames is consumed in order by ReadPending; readErrs is
// consumed in order before frames and forces an error.
type fakeStream struct {
	frames   [][]byte
	readErrs []error
	closed   bool
}

func (f *fakeStream) ReadPending(ctx context.Context) ([]byte, bool, error) {
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		return nil, false, err
	}
	if len(f.frames) == 0 {
		return nil, false, nil
	}
	frame := f.frames[0]
	f.frames = f.frames[1:]
	return frame, true, nil
}

func (f *fakeStream) StatusPosition() pglogrepl.LSN                   { return 0 }
func (f *fakeStream) ServerPosition() pglogrepl.LSN                   { return 0 }
func (f *fakeStream) SendStatus(context.Context, pglogrepl.LSN) error { return nil }
func (f *fakeStream) Close(context.Context)                          { f.closed = true }

func newTestSessionManager(streams ...*fakeStream) *SessionManager {
	s := NewSessionManager(SessionConfig{SlotName: "slot", Publication: "pub"}, NewChannelBus(16), nil, zerolog.Nop())
	idx := 0
	s.dial = func(ctx context.Context) (stream, error) {
		if idx >= len(streams) {
			return nil, errors.New("no more fake streams configured")
		}
		st := streams[idx]
		idx++
		return st, nil
	}
	return s
}

func TestScenarioS6_ReconnectAfterThreeFailures(t *testing.T) {
	failing := &fakeStream{readErrs: []error{
		errors.New("read error 1"),
		errors.New("read error 2"),
		errors.New("read error 3"),
	}}
	replacement := &fakeStream{}

	s := newTestSessionManager(failing, replacement)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.openStream(ctx); err != nil {
		t.Fatalf("openStream() error: %v", err)
	}

	for i := 0; i < reconnectThreshold; i++ {
		if err := s.iterate(ctx); err == nil {
			t.Fatalf("iterate() call %d expected an error", i)
		}
		s.consecutiveErrors++
	}
	if err := s.reconnect(ctx); err != nil {
		t.Fatalf("reconnect() error: %v", err)
	}
	cancel()

	if !failing.closed {
		t.Error("original stream was not closed on reconnect")
	}
	if s.current != replacement {
		t.Error("current stream was not replaced by reconnect")
	}
	if s.dialCount != 2 {
		t.Errorf("dialCount = %d, want 2 (one initial connect, one reconnect)", s.dialCount)
	}
	if s.cache.Len() != 0 {
		t.Errorf("relation cache Len() = %d, want 0 after reconnect", s.cache.Len())
	}
}

func TestIterate_PublishesDecodedEvent(t *testing.T) {
	relBuf := append([]byte{'R'}, relationBytes(1, "public", "widgets", [][2]string{{"id", ""}})...)
	var insBuf []byte
	insBuf = append(insBuf, 'I')
	insBuf = append(insBuf, u32(1)...)
	insBuf = append(insBuf, 'N')
	insBuf = append(insBuf, i16(1)...)
	insBuf = append(insBuf, textColumn("5")...)

	st := &fakeStream{frames: [][]byte{relBuf, insBuf}}
	bus := NewChannelBus(4)
	s := NewSessionManager(SessionConfig{SlotName: "slot", Publication: "pub"}, bus, nil, zerolog.Nop())
	s.dial = func(ctx context.Context) (stream, error) { return st, nil }

	ctx := context.Background()
	if err := s.openStream(ctx); err != nil {
		t.Fatalf("openStream() error: %v", err)
	}
	if err := s.iterate(ctx); err != nil {
		t.Fatalf("iterate() (relation) error: %v", err)
	}
	if err := s.iterate(ctx); err != nil {
		t.Fatalf("iterate() (insert) error: %v", err)
	}

	select {
	case got := <-bus.Events():
		want := `{"type":"insert","table":"widgets","data":{"id":"5"}}`
		if got != want {
			t.Errorf("published event = %s, want %s", got, want)
		}
	default:
		t.Fatal("no event was published")
	}
}

// TestIterate_BeginFrameLeavesTrailingBytesUnconsumed feeds a full 21-byte
// Begin message (tag + final LSN + commit timestamp + xid) to prove iterate
// dispatches it once and discards the 12 trailing bytes handleBegin never
// reads, rather than re-feeding them to Dispatch as a bogus next message.
func TestIterate_BeginFrameLeavesTrailingBytesUnconsumed(t *testing.T) {
	var buf []byte
	buf = append(buf, 'B')
	buf = append(buf, u64(12345)...) // final LSN (8 bytes, consumed)
	buf = append(buf, u64(67890)...) // commit timestamp (8 bytes, unconsumed)
	buf = append(buf, i32(1)...)     // xid (4 bytes, unconsumed)
	if len(buf) != 21 {
		t.Fatalf("test setup: Begin frame is %d bytes, want 21", len(buf))
	}

	st := &fakeStream{frames: [][]byte{buf}}
	bus := NewChannelBus(1)
	s := NewSessionManager(SessionConfig{SlotName: "slot", Publication: "pub"}, bus, nil, zerolog.Nop())
	s.dial = func(ctx context.Context) (stream, error) { return st, nil }

	ctx := context.Background()
	if err := s.openStream(ctx); err != nil {
		t.Fatalf("openStream() error: %v", err)
	}
	if err := s.iterate(ctx); err != nil {
		t.Fatalf("iterate() error: %v, want nil (trailing Begin bytes must not desync the dispatcher)", err)
	}

	select {
	case got := <-bus.Events():
		t.Fatalf("Begin published an event: %s, want none", got)
	default:
	}
}

// cancelOnReadStream cancels its context on the first ReadPending call, so
// Run performs exactly one (successful, idle) iteration and then returns.
type cancelOnReadStream struct {
	fakeStream
	cancel context.CancelFunc
}

func (c *cancelOnReadStream) ReadPending(ctx context.Context) ([]byte, bool, error) {
	c.cancel()
	return c.fakeStream.ReadPending(ctx)
}

func TestIterate_SuccessResetsConsecutiveErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &cancelOnReadStream{cancel: cancel}
	s := NewSessionManager(SessionConfig{SlotName: "slot", Publication: "pub"}, NewChannelBus(1), nil, zerolog.Nop())
	s.dial = func(ctx context.Context) (stream, error) { return st, nil }

	s.consecutiveErrors = 2
	if err := s.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if s.consecutiveErrors != 0 {
		t.Errorf("consecutiveErrors = %d, want 0 after a successful iteration", s.consecutiveErrors)
	}
	if !st.closed {
		t.Error("Run did not close the current stream on return")
	}
}
