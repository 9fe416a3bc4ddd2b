package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/knadh/koanf/providers/file"
	"gopkg.in/yaml.v3"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// ContactPlanFile is the static contact plan read from contact_plan_file.
//
// Times are RFC 3339 timestamps or "+<duration>" offsets, which are resolved
// against the load time.
type ContactPlanFile struct {
	Contacts []ContactEntry `yaml:"contacts"`
	Ranges   []RangeEntry   `yaml:"ranges"`
}

// ContactEntry is one scheduled contact.
type ContactEntry struct {
	Region   uint32 `yaml:"region"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	FromNode uint64 `yaml:"from_node"`
	ToNode   uint64 `yaml:"to_node"`
	Rate     uint64 `yaml:"rate"`

	// Confidence defaults to 1.
	Confidence *float64 `yaml:"confidence"`
}

// RangeEntry is one one-way light time interval.
type RangeEntry struct {
	Region   uint32 `yaml:"region"`
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	FromNode uint64 `yaml:"from_node"`
	ToNode   uint64 `yaml:"to_node"`
	OWLT     uint32 `yaml:"owlt"`
}

// LoadContactPlan reads and decodes a contact-plan file.
func LoadContactPlan(path string) (*ContactPlanFile, error) {
	raw, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("read contact plan %s: %w", path, err)
	}
	var f ContactPlanFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode contact plan %s: %w", path, err)
	}
	return &f, nil
}

// Resolve converts the entries to contacts and ranges, resolving offsets
// against now.
func (f *ContactPlanFile) Resolve(now time.Time) ([]domain.Contact, []domain.Range, error) {
	contacts := make([]domain.Contact, 0, len(f.Contacts))
	for i, e := range f.Contacts {
		from, to, err := window(e.From, e.To, now)
		if err != nil {
			return nil, nil, fmt.Errorf("contacts[%d]: %w", i, err)
		}
		c := domain.Contact{
			Region: e.Region, FromTime: from, ToTime: to,
			FromNode: e.FromNode, ToNode: e.ToNode,
			Rate: e.Rate, Confidence: 1,
		}
		if e.Confidence != nil {
			c.Confidence = *e.Confidence
		}
		if err := c.Validate(); err != nil {
			return nil, nil, fmt.Errorf("contacts[%d]: %w", i, err)
		}
		contacts = append(contacts, c)
	}
	ranges := make([]domain.Range, 0, len(f.Ranges))
	for i, e := range f.Ranges {
		from, to, err := window(e.From, e.To, now)
		if err != nil {
			return nil, nil, fmt.Errorf("ranges[%d]: %w", i, err)
		}
		r := domain.Range{
			Region: e.Region, FromTime: from, ToTime: to,
			FromNode: e.FromNode, ToNode: e.ToNode, OWLT: e.OWLT,
		}
		if err := r.Validate(); err != nil {
			return nil, nil, fmt.Errorf("ranges[%d]: %w", i, err)
		}
		ranges = append(ranges, r)
	}
	return contacts, ranges, nil
}

func window(from, to string, now time.Time) (domain.DTNTime, domain.DTNTime, error) {
	f, err := domain.ParseDTNTime(from, now)
	if err != nil {
		return 0, 0, fmt.Errorf("from: %w", err)
	}
	t, err := domain.ParseDTNTime(to, now)
	if err != nil {
		return 0, 0, fmt.Errorf("to: %w", err)
	}
	return f, t, nil
}

// ContactPlanner inserts contacts and ranges.
type ContactPlanner interface {
	InsertContact(ctx context.Context, c domain.Contact) (*domain.Contact, error)
	InsertRange(ctx context.Context, r domain.Range) (*domain.Range, error)
}

// ApplyResult counts the outcome of ApplyContactPlan.
type ApplyResult struct {
	Contacts int
	Ranges   int
	Skipped  int
}

// ApplyContactPlan inserts the file's contacts and ranges. Entries that
// collide with existing ones are skipped; identical entries are accepted
// without change.
func ApplyContactPlan(ctx context.Context, p ContactPlanner, f *ContactPlanFile, now time.Time) (ApplyResult, error) {
	var res ApplyResult
	contacts, ranges, err := f.Resolve(now)
	if err != nil {
		return res, err
	}
	for _, c := range contacts {
		_, err := p.InsertContact(ctx, c)
		switch {
		case err == nil:
			res.Contacts++
		case errors.Is(err, domain.ErrContactOverlap), errors.Is(err, domain.ErrContactNotRevised):
			res.Skipped++
		default:
			return res, err
		}
	}
	for _, r := range ranges {
		_, err := p.InsertRange(ctx, r)
		switch {
		case err == nil:
			res.Ranges++
		case errors.Is(err, domain.ErrRangeOverlap):
			res.Skipped++
		default:
			return res, err
		}
	}
	return res, nil
}
