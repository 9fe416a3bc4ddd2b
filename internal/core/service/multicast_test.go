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

func TestMulticast_FanOutAndDedupe(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")
	addRoute(t, e, 3, "tcp/three")
	require.NoError(t, e.Multicast.AddKin(ctx, 2))
	require.NoError(t, e.Multicast.AddKin(ctx, 3))
	require.NoError(t, e.Multicast.HandlePetition(ctx, 2, &domain.Petition{Group: 7, Join: true}))
	require.NoError(t, e.Multicast.HandlePetition(ctx, 3, &domain.Petition{Group: 7, Join: true}))

	ep, err := e.Bundles.Open(ctx, domain.IMC(7, 1))
	require.NoError(t, err)
	defer ep.Close()

	members, err := e.Multicast.Members(ctx, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{1, 2, 3}, members)

	raw := remoteBundle(t, e, domain.IPN(9, 1), domain.IMC(7, 1), "news")
	_, _, err = e.Ducts.Enqueue(ctx, raw, 3)
	require.NoError(t, err)
	drainIMC(t, e)

	d, err := ep.Receive(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, ResultPayloadPresent, d.Result)
	assert.Equal(t, "news", string(d.Payload))

	// relayed to kin member 2 but not back to the sender
	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityStandard)))
	assert.Equal(t, 0, queueLen(t, e, domain.DuctQueue("tcp/three", domain.PriorityStandard)))

	// the same bundle arriving over another path is dropped
	_, dup, err := e.Ducts.Enqueue(ctx, raw, 2)
	require.NoError(t, err)
	assert.False(t, dup)
	drainIMC(t, e)
	d, err = ep.Receive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, ResultTimedOut, d.Result)
	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityStandard)))
}

func TestMulticast_LocalSendRelaysToKin(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")
	require.NoError(t, e.Multicast.AddKin(ctx, 2))
	require.NoError(t, e.Multicast.HandlePetition(ctx, 2, &domain.Petition{Group: 4, Join: true}))

	_, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IMC(4, 1), Lifetime: time.Hour, Priority: domain.PriorityStandard, Payload: []byte("g")})
	require.NoError(t, err)
	drainIMC(t, e)

	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := e.Ducts.Dequeue(dctx, "tcp/two")
	require.NoError(t, err)
	assert.NotZero(t, out.ID.Clone)
	b, payload, err := wire.DecodeBundle(out.Wire)
	require.NoError(t, err)
	assert.Equal(t, domain.IMC(4, 1), b.Destination)
	assert.Equal(t, "g", string(payload))
}

func TestMulticast_NoRelativesAbandons(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()

	id, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IMC(4, 1), Lifetime: time.Hour, Payload: []byte("g")})
	require.NoError(t, err)
	drainIMC(t, e)
	_, err = loadBundle(t, e, id)
	assert.ErrorIs(t, err, domain.ErrBundleNotFound)
}

func TestMulticast_JoinPetitionsKin(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Multicast.AddKin(ctx, 2))
	require.NoError(t, e.Multicast.AddKin(ctx, 3))
	addRoute(t, e, 2, "tcp/two")

	ep, err := e.Bundles.Open(ctx, domain.IMC(8, 1))
	require.NoError(t, err)
	drainIPN(t, e)

	petition := func() *domain.Petition {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		out, err := e.Ducts.Dequeue(dctx, "tcp/two")
		require.NoError(t, err)
		_, payload, err := wire.DecodeBundle(out.Wire)
		require.NoError(t, err)
		rec, err := wire.DecodeAdminRecord(payload)
		require.NoError(t, err)
		require.Equal(t, domain.AdminPetition, rec.Type)
		return rec.Petition
	}
	p := petition()
	assert.Equal(t, uint64(8), p.Group)
	assert.True(t, p.Join)

	// closing the last endpoint of the group leaves it
	ep.Close()
	drainIPN(t, e)
	p = petition()
	assert.False(t, p.Join)

	members, err := e.Multicast.Members(ctx, 8)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestMulticast_PetitionFromStranger(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()

	require.NoError(t, e.Multicast.HandlePetition(ctx, 6, &domain.Petition{Group: 3, Join: true}))
	members, err := e.Multicast.Members(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, members)

	assert.ErrorIs(t, e.Multicast.AddKin(ctx, 1), domain.ErrInvalidArgument)
	assert.ErrorIs(t, e.Multicast.HandlePetition(ctx, 6, nil), domain.ErrMalformedAdminRecord)
}

func TestMulticast_AddKinBriefs(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Multicast.Join(ctx, 5))
	addRoute(t, e, 2, "tcp/two")
	require.NoError(t, e.Multicast.AddKin(ctx, 2))
	drainIPN(t, e)

	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityStandard)))
	kin, err := e.Multicast.Kin(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, kin)

	require.NoError(t, e.Multicast.RemoveKin(ctx, 2))
	kin, err = e.Multicast.Kin(ctx)
	require.NoError(t, err)
	assert.Empty(t, kin)
}
