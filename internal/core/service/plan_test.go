package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

func TestPlanService_AddPlanErrors(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()

	assert.ErrorIs(t, e.Plans.AddPlan(ctx, &domain.Plan{}), domain.ErrInvalidArgument)
	require.NoError(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2, Continuous: true}))
	assert.ErrorIs(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2}), domain.ErrPlanExists)
	assert.ErrorIs(t, e.Plans.UpdatePlan(ctx, &domain.Plan{Node: 3}), domain.ErrPlanNotFound)
	assert.ErrorIs(t, e.Plans.RemovePlan(ctx, 3), domain.ErrPlanNotFound)

	_, err := e.Plans.Plan(ctx, 9)
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)

	require.NoError(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: "tcp/a", Protocol: "tcp"}))
	assert.ErrorIs(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: "tcp/a", Protocol: "tcp"}), domain.ErrDuctExists)
	assert.ErrorIs(t, e.Plans.RemoveDuct(ctx, "tcp/b"), domain.ErrDuctNotFound)
	assert.ErrorIs(t, e.Plans.BlockDuct(ctx, "tcp/b"), domain.ErrDuctNotFound)
}

func TestPlanService_Limbo(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2, Ducts: []string{"tcp/a"}, Continuous: true}))

	id, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Priority: domain.PriorityStandard, Payload: []byte("x")})
	require.NoError(t, err)
	drainIPN(t, e)
	require.Equal(t, 1, queueLen(t, e, domain.LimboQueue))

	// adding the missing duct releases limbo
	require.NoError(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: "tcp/a", Protocol: "tcp", Neighbor: 2}))
	require.Equal(t, 0, queueLen(t, e, domain.LimboQueue))
	drainIPN(t, e)
	ductQ := domain.DuctQueue("tcp/a", domain.PriorityStandard)
	require.Equal(t, 1, queueLen(t, e, ductQ))

	require.NoError(t, e.Plans.BlockDuct(ctx, "tcp/a"))
	assert.Equal(t, 0, queueLen(t, e, ductQ))
	assert.Equal(t, 1, queueLen(t, e, domain.LimboQueue))

	ducts, err := e.Plans.ListDucts(ctx)
	require.NoError(t, err)
	require.Len(t, ducts, 1)
	assert.True(t, ducts[0].Blocked)

	require.NoError(t, e.Plans.UnblockDuct(ctx, "tcp/a"))
	drainIPN(t, e)
	assert.Equal(t, 1, queueLen(t, e, ductQ))

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), b.Reforwards)
}

func TestPlanService_PreferredDuctFallback(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	for _, name := range []string{"tcp/slow", "tcp/fast"} {
		require.NoError(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: name, Protocol: "tcp", Neighbor: 2}))
	}
	require.NoError(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2, Ducts: []string{"tcp/slow", "tcp/fast"}, Continuous: true}))
	require.NoError(t, e.Plans.BlockDuct(ctx, "tcp/fast"))

	_, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Priority: domain.PriorityExpedited, Payload: []byte("x")})
	require.NoError(t, err)
	drainIPN(t, e)
	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/slow", domain.PriorityExpedited)))
}

func TestPlanService_ClosedPlanAssignedWhenContactOpens(t *testing.T) {
	e, clock := newTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: "tcp/two", Protocol: "tcp", Neighbor: 2}))
	require.NoError(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2, Ducts: []string{"tcp/two"}}))

	now := e.Now()
	_, err := e.ContactPlan.InsertContact(ctx, domain.Contact{
		FromTime: now + 10*60_000, ToTime: now + 40*60_000,
		FromNode: 1, ToNode: 2, Rate: 10_000, Confidence: 1,
	})
	require.NoError(t, err)

	_, err = e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Priority: domain.PriorityStandard, Payload: []byte("later")})
	require.NoError(t, err)
	drainIPN(t, e)
	planQ := domain.PlanQueue(2, domain.PriorityStandard)
	require.Equal(t, 1, queueLen(t, e, planQ))

	plans, err := e.Plans.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.False(t, plans[0].Open)
	assert.Equal(t, []int{0, 1, 0}, plans[0].Queued)

	n, err := e.Plans.Assign(ctx, 2, e.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(11 * time.Minute)
	require.NoError(t, e.Clock.Tick(ctx, e.Now()))
	assert.Equal(t, 0, queueLen(t, e, planQ))
	assert.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityStandard)))
}

func TestPlanService_ReforwardStranded(t *testing.T) {
	e, clock := newTestEngine(t, 1)
	ctx := context.Background()
	require.NoError(t, e.Plans.AddDuct(ctx, &domain.Duct{Name: "tcp/two", Protocol: "tcp", Neighbor: 2}))
	require.NoError(t, e.Plans.AddPlan(ctx, &domain.Plan{Node: 2, Ducts: []string{"tcp/two"}}))

	now := e.Now()
	c := domain.Contact{FromTime: now + 60_000, ToTime: now + 120_000, FromNode: 1, ToNode: 2, Rate: 10_000, Confidence: 1}
	_, err := e.ContactPlan.InsertContact(ctx, c)
	require.NoError(t, err)

	id, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Payload: []byte("x")})
	require.NoError(t, err)
	drainIPN(t, e)
	require.Equal(t, 1, queueLen(t, e, domain.PlanQueue(2, domain.PriorityBulk)))

	_, err = e.ContactPlan.RemoveContact(ctx, c.Key())
	require.NoError(t, err)
	clock.Advance(time.Second)
	n, err := e.Plans.ReforwardStranded(ctx, e.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := loadBundle(t, e, id)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchQueue(domain.SchemeIPN), b.Queue)
}

func TestPlanService_RemovePlanRedispatches(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")

	_, err := e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Payload: []byte("x")})
	require.NoError(t, err)
	drainIPN(t, e)
	require.Equal(t, 1, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityBulk)))

	require.NoError(t, e.Plans.RemovePlan(ctx, 2))
	assert.Equal(t, 1, queueLen(t, e, domain.DispatchQueue(domain.SchemeIPN)))

	// nothing routes to node 2 anymore
	drainIPN(t, e)
	assert.Equal(t, 0, queueLen(t, e, domain.DispatchQueue(domain.SchemeIPN)))
	assert.Equal(t, 0, queueLen(t, e, domain.DuctQueue("tcp/two", domain.PriorityBulk)))
}

func TestPlanService_RemoveDuctEndsDequeue(t *testing.T) {
	e, _ := newTestEngine(t, 1)
	ctx := context.Background()
	addRoute(t, e, 2, "tcp/two")

	require.NoError(t, e.Plans.RemoveDuct(ctx, "tcp/two"))
	_, err := e.Ducts.Dequeue(ctx, "tcp/two")
	assert.ErrorIs(t, err, domain.ErrDuctClosed)

	_, err = e.Bundles.Send(ctx, SendRequest{Destination: domain.IPN(2, 1), Lifetime: time.Hour, Payload: []byte("x")})
	require.NoError(t, err)
	drainIPN(t, e)
	assert.Equal(t, 1, queueLen(t, e, domain.LimboQueue))
}
