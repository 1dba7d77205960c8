package queue

import (
	"encoding/json"
	"testing"
	"time"
)

func TestJobID(t *testing.T) {
	cases := []struct {
		classNbr string
		term     string
		want     string
	}{
		{"12431", "2261", "2261-12431"},
		{"12432", "2261", "2261-12432"},
		{"8", "2268", "2268-8"},
	}
	for _, c := range cases {
		j := CheckSectionJob{ClassNbr: c.classNbr, Term: c.term}
		if got := j.ID(); got != c.want {
			t.Errorf("ID(%s, %s) = %q, want %q", c.term, c.classNbr, got, c.want)
		}
	}
}

func TestJobIDIsDeterministic(t *testing.T) {
	a := CheckSectionJob{ClassNbr: "12431", Term: "2261", StaggerGroup: "odd", EnqueuedAt: time.Now()}
	b := CheckSectionJob{ClassNbr: "12431", Term: "2261", StaggerGroup: "even", EnqueuedAt: time.Now().Add(time.Hour)}
	if a.ID() != b.ID() {
		t.Fatal("job ID must depend only on term and class number")
	}
}

func TestJobWireSchema(t *testing.T) {
	enq := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	j := CheckSectionJob{ClassNbr: "12431", Term: "2261", StaggerGroup: "even", EnqueuedAt: enq}
	raw, err := json.Marshal(j)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"class_nbr", "term", "stagger_group", "enqueued_at"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire schema missing %q", key)
		}
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	c := NewConsumer(ConsumerConfig{
		BackoffBase: 30 * time.Second,
		BackoffCap:  10 * time.Minute,
	}, nil, nil, nil)

	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute}, // capped
		{40, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := c.backoff(tc.attempts); got != tc.want {
			t.Errorf("backoff(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}
