package domain

import (
	"reflect"
	"testing"
)

func TestPlan_DuctOrder(t *testing.T) {
	p := Plan{Node: 2, Ducts: []string{"udp/bulk", "udp/std"}}
	tests := []struct {
		pri  Priority
		want []string
	}{
		{PriorityBulk, []string{"udp/bulk", "udp/std"}},
		{PriorityStandard, []string{"udp/std", "udp/bulk"}},
		{PriorityExpedited, []string{"udp/std", "udp/bulk"}},
	}
	for _, tt := range tests {
		t.Run(tt.pri.String(), func(t *testing.T) {
			if got := p.DuctOrder(tt.pri); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DuctOrder() = %v, want %v", got, tt.want)
			}
		})
	}
	if (&Plan{Node: 1}).DuctOrder(PriorityBulk) != nil {
		t.Error("plan without ducts has no order")
	}
}

func TestPlan_Validate(t *testing.T) {
	if err := (&Plan{Node: 0}).Validate(); err == nil {
		t.Error("node 0 must be rejected")
	}
	if err := (&Plan{Node: 1, Ducts: []string{"a", "a"}}).Validate(); err == nil {
		t.Error("duplicate ducts must be rejected")
	}
	if err := (&Plan{Node: 1, Ducts: []string{"a"}}).Validate(); err != nil {
		t.Errorf("valid plan rejected: %v", err)
	}
}

func TestBlockList_SetAndFind(t *testing.T) {
	var l BlockList
	l = l.Set(HopCountBlock{Limit: 5, Count: 1})
	l = l.Set(PreviousNodeBlock{Node: AdminEID(3)})
	l = l.Set(HopCountBlock{Limit: 5, Count: 2})
	if len(l) != 2 {
		t.Fatalf("len = %d, want 2", len(l))
	}
	b, _ := l.Find(BlockHopCount)
	if hc := b.(HopCountBlock); hc.Count != 2 {
		t.Errorf("hop count = %d, want 2", hc.Count)
	}
	if (HopCountBlock{Limit: 2, Count: 2}).Exceeded() != true {
		t.Error("count at limit is exceeded")
	}
}
