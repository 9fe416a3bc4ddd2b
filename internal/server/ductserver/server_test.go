package ductserver

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/yndnr/dtnmesh-go/internal/cla/udp"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
		goleak.IgnoreAnyFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// fakeDucts is an in-memory duct handshake with one queue per duct.
type fakeDucts struct {
	mu        sync.Mutex
	owners    map[string]string
	queues    map[string]chan *service.Outbound
	succeeded []domain.BundleID
	failed    []domain.BundleID
	refused   map[domain.BundleID]domain.Reason
	enqueued  []uint64
	detached  chan string
}

func newFakeDucts(names ...string) *fakeDucts {
	f := &fakeDucts{
		owners:   make(map[string]string),
		queues:   make(map[string]chan *service.Outbound),
		refused:  make(map[domain.BundleID]domain.Reason),
		detached: make(chan string, 8),
	}
	for _, n := range names {
		f.queues[n] = make(chan *service.Outbound, 8)
	}
	return f
}

func (f *fakeDucts) Attach(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.queues[name]; !ok {
		return "", domain.ErrDuctNotFound.WithDetails(name)
	}
	if f.owners[name] != "" {
		return "", domain.ErrDuctBusy.WithDetails(name)
	}
	f.owners[name] = "ds-" + name
	return f.owners[name], nil
}

func (f *fakeDucts) Detach(_ context.Context, name, session string) error {
	f.mu.Lock()
	if f.owners[name] == session {
		delete(f.owners, name)
	}
	f.mu.Unlock()
	f.detached <- name
	return nil
}

func (f *fakeDucts) Dequeue(ctx context.Context, name string) (*service.Outbound, error) {
	f.mu.Lock()
	q := f.queues[name]
	f.mu.Unlock()
	select {
	case out, ok := <-q:
		if !ok {
			return nil, domain.ErrDuctClosed.WithDetails(name)
		}
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeDucts) XmitSucceeded(_ context.Context, id domain.BundleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.succeeded = append(f.succeeded, id)
	return nil
}

func (f *fakeDucts) XmitFailed(_ context.Context, id domain.BundleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeDucts) XmitRefused(_ context.Context, id domain.BundleID, reason domain.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refused[id] = reason
	return nil
}

func (f *fakeDucts) Enqueue(_ context.Context, raw []byte, sender uint64) (domain.BundleID, bool, error) {
	if len(raw) == 0 {
		return domain.BundleID{}, false, domain.ErrMalformedBundle
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, sender)
	return domain.BundleID{FragmentOffset: uint64(len(f.enqueued))}, len(f.enqueued) > 1, nil
}

func (f *fakeDucts) failedIDs() []domain.BundleID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.BundleID(nil), f.failed...)
}

func startServer(t *testing.T, ducts Ducts) (*Server, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "duct.sock")
	s := New(path, ducts, WithLogger(slog.New(slog.DiscardHandler)))
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()
	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", path)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, s.Shutdown(ctx))
		assert.NoError(t, <-errCh)
	})
	return s, path
}

func dial(t *testing.T, path string) *Client {
	t.Helper()
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServer_OutputSession(t *testing.T) {
	ducts := newFakeDucts("tcp/two")
	_, path := startServer(t, ducts)
	ctx := context.Background()

	c := dial(t, path)
	_, err := c.Dequeue(ctx, "tcp/two")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	session, err := c.Attach(ctx, "tcp/two")
	require.NoError(t, err)
	assert.Equal(t, "ds-tcp/two", session)

	// a second daemon cannot claim the same duct
	_, err = dial(t, path).Attach(ctx, "tcp/two")
	assert.ErrorIs(t, err, domain.ErrDuctBusy)
	_, err = dial(t, path).Attach(ctx, "tcp/missing")
	assert.ErrorIs(t, err, domain.ErrDuctNotFound)

	first := domain.BundleID{FragmentOffset: 1}
	second := domain.BundleID{FragmentOffset: 2}
	third := domain.BundleID{FragmentOffset: 3}
	for _, id := range []domain.BundleID{first, second, third} {
		ducts.queues["tcp/two"] <- &service.Outbound{ID: id, Wire: []byte("w"), Priority: domain.PriorityExpedited, DestAddr: "peer"}
	}

	out, err := c.Dequeue(ctx, "tcp/two")
	require.NoError(t, err)
	assert.Equal(t, first, out.ID)
	assert.Equal(t, "w", string(out.Wire))
	assert.Equal(t, domain.PriorityExpedited, out.Priority)
	assert.Equal(t, "peer", out.DestAddr)
	require.NoError(t, c.XmitSucceeded(ctx, first))

	// results for bundles this session never dequeued are refused
	assert.ErrorIs(t, c.XmitSucceeded(ctx, first), domain.ErrBundleNotFound)

	_, err = c.Dequeue(ctx, "tcp/two")
	require.NoError(t, err)
	require.NoError(t, c.XmitRefused(ctx, second, domain.ReasonTrafficPared))

	// the third bundle is outstanding when the daemon goes away
	_, err = c.Dequeue(ctx, "tcp/two")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case name := <-ducts.detached:
		assert.Equal(t, "tcp/two", name)
	case <-time.After(5 * time.Second):
		t.Fatal("session was not detached")
	}
	assert.Equal(t, []domain.BundleID{third}, ducts.failedIDs())
	assert.Equal(t, []domain.BundleID{first}, ducts.succeeded)
	assert.Equal(t, domain.ReasonTrafficPared, ducts.refused[second])
}

func TestServer_InputSession(t *testing.T) {
	ducts := newFakeDucts()
	_, path := startServer(t, ducts)
	ctx := context.Background()

	c := dial(t, path)
	_, _, err := c.Enqueue(ctx, []byte("bundle"), 4)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	require.NoError(t, c.AttachInput(ctx, "udp/in"))
	assert.ErrorIs(t, c.AttachInput(ctx, "udp/in"), domain.ErrInvalidArgument)

	id, dup, err := c.Enqueue(ctx, []byte("bundle"), 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id.FragmentOffset)
	assert.False(t, dup)

	_, dup, err = c.Enqueue(ctx, []byte("bundle"), 5)
	require.NoError(t, err)
	assert.True(t, dup)

	_, _, err = c.Enqueue(ctx, nil, 5)
	assert.ErrorIs(t, err, domain.ErrMalformedBundle)

	_, err = c.Dequeue(ctx, "udp/in")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Equal(t, []uint64{4, 5}, ducts.enqueued)
}

func TestServer_BadFrameClosesConnection(t *testing.T) {
	_, path := startServer(t, newFakeDucts())

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0, 0, 0, 1, 0, 0, 0, 0, byte(FrameAck)})
	require.NoError(t, err)

	br := bufio.NewReader(conn)
	typ, _, err := ReadFrame(br)
	require.NoError(t, err)
	assert.Equal(t, FrameError, typ)
	_, _, err = ReadFrame(br)
	assert.Error(t, err)
}

func TestServer_ShutdownReleasesBlockedDequeue(t *testing.T) {
	ducts := newFakeDucts("tcp/two")
	path := filepath.Join(t.TempDir(), "duct.sock")
	s := New(path, ducts, WithLogger(slog.New(slog.DiscardHandler)))
	errCh := make(chan error, 1)
	go func() { errCh <- s.ListenAndServe() }()

	var c *Client
	require.Eventually(t, func() bool {
		var err error
		c, err = Dial(context.Background(), path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer c.Close()
	_, err := c.Attach(context.Background(), "tcp/two")
	require.NoError(t, err)

	dequeued := make(chan error, 1)
	go func() {
		_, err := c.Dequeue(context.Background(), "tcp/two")
		dequeued <- err
	}()

	// the daemon is parked in Dequeue before shutdown starts
	time.Sleep(50 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-errCh)
	assert.Error(t, <-dequeued)
	assert.Equal(t, "tcp/two", <-ducts.detached)
}

func TestClient_ContextCancel(t *testing.T) {
	ducts := newFakeDucts("tcp/two")
	_, path := startServer(t, ducts)

	c := dial(t, path)
	_, err := c.Attach(context.Background(), "tcp/two")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Dequeue(ctx, "tcp/two")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_DrivesUDPOutput(t *testing.T) {
	peer, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer peer.Close()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	name := udp.DuctName(peer.LocalAddr().String())
	ducts := newFakeDucts(name)
	_, path := startServer(t, ducts)

	id := domain.BundleID{FragmentOffset: 7}
	ducts.queues[name] <- &service.Outbound{ID: id, Wire: []byte("over the socket")}
	close(ducts.queues[name])

	duct := domain.Duct{Name: name, Protocol: udp.Protocol, Address: peer.LocalAddr().String()}
	out := udp.NewOutput(dial(t, path), 3, duct, conn, slog.New(slog.DiscardHandler))
	require.NoError(t, out.Run(context.Background()))

	buf := make([]byte, udp.MaxDatagram)
	require.NoError(t, peer.SetReadDeadline(time.Now().Add(5*time.Second)))
	n, _, err := peer.ReadFrom(buf)
	require.NoError(t, err)
	sender, bundle, err := udp.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sender)
	assert.Equal(t, "over the socket", string(bundle))

	<-ducts.detached
	ducts.mu.Lock()
	defer ducts.mu.Unlock()
	assert.Equal(t, []domain.BundleID{id}, ducts.succeeded)
}
