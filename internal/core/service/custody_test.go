package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
)

// custodialTransfer routes a custodial bundle received from node 5 toward
// node 2 and reports its transmission. It returns the bundle id.
func custodialTransfer(t *testing.T, e *Engine) domain.BundleID {
	t.Helper()
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")
	addRoute(t, e, 5, "tcp/five")

	raw := remoteBundle(t, e, domain.IPN(5, 1), domain.IPN(2, 1), "custodial", func(b *domain.Bundle) {
		b.Flags |= domain.FlagCustodyRequested | domain.FlagSingletonDestination
		b.Custodian = domain.IPN(5, 0)
	})
	id, _, err := e.Ducts.Enqueue(ctx, raw, 5)
	require.NoError(t, err)
	drainIPN(t, e)

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	require.NotNil(t, b.Custody)
	assert.Equal(t, domain.CustodyHeld, b.Custody.State)
	assert.Equal(t, e.AdminEID(), b.Custodian)

	// the previous custodian is told
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sig, err := e.Ducts.Dequeue(dctx, "tcp/five")
	require.NoError(t, err)
	sb, payload, err := wire.DecodeBundle(sig.Wire)
	require.NoError(t, err)
	assert.Equal(t, domain.IPN(5, 0), sb.Destination)
	rec, err := wire.DecodeAdminRecord(payload)
	require.NoError(t, err)
	require.Equal(t, domain.AdminCustodySignal, rec.Type)
	assert.True(t, rec.CustodySignal.Accepted)
	assert.Equal(t, id, rec.CustodySignal.Subject)

	out, err := e.Ducts.Dequeue(dctx, "tcp/two")
	require.NoError(t, err)
	ob, _, err := wire.DecodeBundle(out.Wire)
	require.NoError(t, err)
	assert.Equal(t, e.AdminEID(), ob.Custodian)

	require.NoError(t, e.Ducts.XmitSucceeded(ctx, id))
	b, err = loadBundle(t, e, id)
	require.NoError(t, err)
	assert.True(t, b.Queue.IsZero())
	assert.Equal(t, domain.CustodyHeld, b.Custody.State)
	return id
}

func TestCustody_AcceptedSignalReleases(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	id := custodialTransfer(t, e)

	require.NoError(t, e.Custody.HandleSignal(ctx, &domain.CustodySignal{Accepted: true, Subject: id, Time: e.Now()}))
	_, err := loadBundle(t, e, id)
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)

	// repeated signals are ignored
	require.NoError(t, e.Custody.HandleSignal(ctx, &domain.CustodySignal{Accepted: true, Subject: id}))
	assert.ErrorIs(t, e.Custody.HandleSignal(ctx, nil), domain.ErrMalformedAdminRecord)
}

func TestCustody_RefusalRedispatches(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	id := custodialTransfer(t, e)

	require.NoError(t, e.Custody.HandleSignal(ctx, &domain.CustodySignal{Accepted: false, Reason: domain.ReasonDepletion, Subject: id}))
	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchQueue(domain.SchemeIPN), b.Queue)
	assert.Equal(t, domain.CustodyHeld, b.Custody.State)
}

func TestCustody_SweepReforwards(t *testing.T) {
	e, clock := newTestEngine(t, 1, func(c *Config) { c.CustodyRetry = 30 * time.Second })
	ctx := context.Background()
	id := custodialTransfer(t, e)

	n, err := e.Custody.Sweep(ctx, e.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(31 * time.Second)
	n, err = e.Custody.Sweep(ctx, e.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Custody.Epoch)
	assert.Equal(t, domain.DispatchQueue(domain.SchemeIPN), b.Queue)

	// a retained copy still queued only has its deadline moved
	drainIPN(t, e)
	clock.Advance(31 * time.Second)
	n, err = e.Custody.Sweep(ctx, e.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	b, err = loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), b.Custody.Epoch)
	assert.Equal(t, domain.DuctQueue("tcp/two", domain.PriorityStandard), b.Queue)
}

func TestCustody_DeliveredLocally(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 5, "tcp/five")

	raw := remoteBundle(t, e, domain.IPN(5, 1), domain.IPN(1, 4), "mine", func(b *domain.Bundle) {
		b.Flags |= domain.FlagCustodyRequested | domain.FlagSingletonDestination
		b.Custodian = domain.IPN(5, 0)
	})
	id, _, err := e.Ducts.Enqueue(ctx, raw, 5)
	require.NoError(t, err)
	drainIPN(t, e)

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CustodyReleased, b.Custody.State)
	assert.Equal(t, domain.DeliveryQueue(domain.IPN(1, 4)), b.Queue)
	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/five", domain.PriorityStandard)))
}

func TestCustody_NoRouteRefuses(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 5, "tcp/five")

	raw := remoteBundle(t, e, domain.IPN(5, 1), domain.IPN(9, 1), "nowhere", func(b *domain.Bundle) {
		b.Flags |= domain.FlagCustodyRequested | domain.FlagSingletonDestination
		b.Custodian = domain.IPN(5, 0)
	})
	_, _, err := e.Ducts.Enqueue(ctx, raw, 5)
	require.NoError(t, err)
	drainIPN(t, e)

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sig, err := e.Ducts.Dequeue(dctx, "tcp/five")
	require.NoError(t, err)
	_, payload, err := wire.DecodeBundle(sig.Wire)
	require.NoError(t, err)
	rec, err := wire.DecodeAdminRecord(payload)
	require.NoError(t, err)
	require.NotNil(t, rec.CustodySignal)
	assert.False(t, rec.CustodySignal.Accepted)
	assert.Equal(t, domain.ReasonNoRoute, rec.CustodySignal.Reason)
}

func TestCustody_RedundantReceptionSignalled(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	id := custodialTransfer(t, e)

	// node 5 missed our acceptance and retransmits
	raw := remoteBundle(t, e, domain.IPN(5, 1), domain.IPN(2, 1), "custodial", func(b *domain.Bundle) {
		b.Flags |= domain.FlagCustodyRequested | domain.FlagSingletonDestination
		b.Custodian = domain.IPN(5, 0)
	})
	again, dup, err := e.Ducts.Enqueue(ctx, raw, 5)
	require.NoError(t, err)
	require.True(t, dup)
	assert.Equal(t, id, again)
	drainIPN(t, e)

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	sig, err := e.Ducts.Dequeue(dctx, "tcp/five")
	require.NoError(t, err)
	_, payload, err := wire.DecodeBundle(sig.Wire)
	require.NoError(t, err)
	rec, err := wire.DecodeAdminRecord(payload)
	require.NoError(t, err)
	require.NotNil(t, rec.CustodySignal)
	assert.False(t, rec.CustodySignal.Accepted)
	assert.Equal(t, domain.ReasonRedundantReception, rec.CustodySignal.Reason)
	assert.Equal(t, id, rec.CustodySignal.Subject)

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, domain.CustodyHeld, b.Custody.State)
	assert.True(t, b.Queue.IsZero())
}

func TestCustody_RedundantReceptionReleases(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	id := custodialTransfer(t, e)

	require.NoError(t, e.Custody.HandleSignal(ctx, &domain.CustodySignal{
		Accepted: false,
		Reason:   domain.ReasonRedundantReception,
		Subject:  id,
		Time:     e.Now(),
	}))
	_, err := loadBundle(t, e, id)
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)
	assert.Zero(t, queueLen(t, e, domain.DispatchQueue(domain.SchemeIPN)))
}

func TestCustody_ReforwardEachDeadlineUntilExpiry(t *testing.T) {
	e, clock := newTestEngine(t, 1, func(c *Config) { c.CustodyRetry = 30 * time.Second })
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")
	addRoute(t, e, 5, "tcp/five")

	reports, err := e.Bundles.Open(ctx, domain.IPN(1, 7))
	require.NoError(t, err)
	defer reports.Close()

	raw := remoteBundle(t, e, domain.IPN(5, 1), domain.IPN(2, 1), "persistent", func(b *domain.Bundle) {
		b.Flags |= domain.FlagCustodyRequested | domain.FlagSingletonDestination | domain.FlagReportDeleted
		b.Custodian = domain.IPN(5, 0)
		b.ReportTo = domain.IPN(1, 7)
		b.Lifetime = uint64(100 * time.Second / time.Millisecond)
	})
	id, _, err := e.Ducts.Enqueue(ctx, raw, 5)
	require.NoError(t, err)
	drainIPN(t, e)

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for deadline := uint32(1); deadline <= 3; deadline++ {
		out, err := e.Ducts.Dequeue(dctx, "tcp/two")
		require.NoError(t, err)
		require.Equal(t, id, out.ID)
		require.NoError(t, e.Ducts.XmitSucceeded(ctx, id))

		clock.Advance(31 * time.Second)
		n, err := e.Custody.Sweep(ctx, e.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n, "deadline %d", deadline)

		// the same deadline never fires twice
		n, err = e.Custody.Sweep(ctx, e.Now())
		require.NoError(t, err)
		assert.Zero(t, n)

		b, err := loadBundle(t, e, id)
		require.NoError(t, err)
		assert.Equal(t, deadline, b.Custody.Epoch)
		assert.Equal(t, deadline, b.Reforwards)
		drainIPN(t, e)
	}

	out, err := e.Ducts.Dequeue(dctx, "tcp/two")
	require.NoError(t, err)
	require.NoError(t, e.Ducts.XmitSucceeded(ctx, out.ID))

	// past the lifetime the deadline no longer re-forwards
	clock.Advance(31 * time.Second)
	n, err := e.Custody.Sweep(ctx, e.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = e.Clock.Expire(ctx, e.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = loadBundle(t, e, id)
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)

	drainIPN(t, e)
	d, err := reports.Receive(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, d.AdminRecord)
	require.NotNil(t, d.AdminRecord.StatusReport)
	assert.Equal(t, domain.ReasonLifetimeExpired, d.AdminRecord.StatusReport.Reason)
	assert.Equal(t, id, d.AdminRecord.StatusReport.Subject)
}
