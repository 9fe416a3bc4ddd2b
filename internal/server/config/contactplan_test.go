package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

const planYAML = `
contacts:
  - from: "+0s"
    to: "+1h"
    from_node: 1
    to_node: 2
    rate: 125000
  - from: "2025-03-01T13:00:00Z"
    to: "2025-03-01T14:00:00Z"
    from_node: 2
    to_node: 1
    rate: 1000
    confidence: 0.5
ranges:
  - from: "+0s"
    to: "+24h"
    from_node: 1
    to_node: 2
    owlt: 1
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadContactPlan(t *testing.T) {
	f, err := LoadContactPlan(writePlan(t, planYAML))
	if err != nil {
		t.Fatalf("LoadContactPlan() error = %v", err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	contacts, ranges, err := f.Resolve(now)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(contacts) != 2 || len(ranges) != 1 {
		t.Fatalf("got %d contacts and %d ranges", len(contacts), len(ranges))
	}
	if contacts[0].FromTime != domain.ToDTNTime(now) || contacts[0].ToTime != domain.ToDTNTime(now.Add(time.Hour)) {
		t.Errorf("relative window = %d..%d", contacts[0].FromTime, contacts[0].ToTime)
	}
	if contacts[0].Confidence != 1 {
		t.Errorf("default confidence = %v", contacts[0].Confidence)
	}
	if contacts[1].Confidence != 0.5 || contacts[1].FromTime != domain.ToDTNTime(now.Add(time.Hour)) {
		t.Errorf("absolute contact = %+v", contacts[1])
	}
	if ranges[0].OWLT != 1 {
		t.Errorf("range = %+v", ranges[0])
	}
}

func TestLoadContactPlan_Errors(t *testing.T) {
	if _, err := LoadContactPlan(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
	if _, err := LoadContactPlan(writePlan(t, "contacts:\n  - from_nod: 1\n")); err == nil {
		t.Error("unknown field should fail")
	}
	f, err := LoadContactPlan(writePlan(t, ""))
	if err != nil || len(f.Contacts) != 0 {
		t.Errorf("empty file = %+v, %v", f, err)
	}

	bad := &ContactPlanFile{Contacts: []ContactEntry{{From: "yesterday", To: "+1h", FromNode: 1, ToNode: 2}}}
	if _, _, err := bad.Resolve(time.Now()); err == nil {
		t.Error("unparseable time should fail")
	}
	inverted := &ContactPlanFile{Ranges: []RangeEntry{{From: "+1h", To: "+0s", FromNode: 1, ToNode: 2}}}
	if _, _, err := inverted.Resolve(time.Now()); err == nil {
		t.Error("inverted window should fail")
	}
}

type fakePlanner struct {
	contacts map[domain.ContactKey]domain.Contact
	ranges   int
}

func (p *fakePlanner) InsertContact(_ context.Context, c domain.Contact) (*domain.Contact, error) {
	if old, ok := p.contacts[c.Key()]; ok {
		if old != c {
			return nil, domain.ErrContactNotRevised
		}
		return &old, nil
	}
	p.contacts[c.Key()] = c
	return &c, nil
}

func (p *fakePlanner) InsertRange(_ context.Context, r domain.Range) (*domain.Range, error) {
	if p.ranges > 0 {
		return nil, domain.ErrRangeOverlap
	}
	p.ranges++
	return &r, nil
}

func TestApplyContactPlan(t *testing.T) {
	f, err := LoadContactPlan(writePlan(t, planYAML))
	if err != nil {
		t.Fatalf("LoadContactPlan() error = %v", err)
	}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePlanner{contacts: map[domain.ContactKey]domain.Contact{}}

	res, err := ApplyContactPlan(context.Background(), p, f, now)
	if err != nil {
		t.Fatalf("ApplyContactPlan() error = %v", err)
	}
	if res != (ApplyResult{Contacts: 2, Ranges: 1}) {
		t.Errorf("first apply = %+v", res)
	}

	f.Contacts[1].Rate = 2000
	res, err = ApplyContactPlan(context.Background(), p, f, now)
	if err != nil {
		t.Fatalf("ApplyContactPlan() error = %v", err)
	}
	if res != (ApplyResult{Contacts: 1, Skipped: 2}) {
		t.Errorf("second apply = %+v", res)
	}
}
