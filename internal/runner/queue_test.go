package runner

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"
)

func TestPendingQueueOrder(t *testing.T) {
	t.Parallel()
	base := time.Unix(1_700_000_000, 0)
	var q pendingQueue
	q.push("low-old", nil, 0, base)
	q.push("high-new", nil, 10, base.Add(3*time.Second))
	q.push("low-new", nil, 0, base.Add(time.Second))
	q.push("high-old", nil, 10, base.Add(2*time.Second))
	q.push("mid", nil, 5, base.Add(4*time.Second))

	want := []string{"high-old", "high-new", "mid", "low-old", "low-new"}
	for _, id := range want {
		rec, ok := q.pop()
		if !ok {
			t.Fatalf("queue empty, want %s", id)
		}
		if rec.id != id {
			t.Fatalf("pop = %s, want %s", rec.id, id)
		}
	}
	if _, ok := q.pop(); ok || q.len() != 0 {
		t.Fatal("queue should be empty")
	}
}

func TestPendingQueueSequenceBreaksTimestampTies(t *testing.T) {
	t.Parallel()
	at := time.Unix(42, 0)
	var q pendingQueue
	for i := 0; i < 10; i++ {
		q.push(fmt.Sprint(i), nil, 1, at)
	}
	for i := 0; i < 10; i++ {
		rec, _ := q.pop()
		if rec.id != fmt.Sprint(i) {
			t.Fatalf("pop #%d = %s", i, rec.id)
		}
	}
}

// The heap must agree with a full stable sort by (-priority, submittedAt).
func TestPendingQueueMatchesFullSort(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	base := time.Unix(0, 0)

	var q pendingQueue
	var all []*taskRecord
	for i := 0; i < 500; i++ {
		at := base.Add(time.Duration(rng.Intn(50)) * time.Millisecond)
		all = append(all, q.push(fmt.Sprint(i), nil, rng.Intn(4), at))
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].priority != all[j].priority {
			return all[i].priority > all[j].priority
		}
		return all[i].submittedAt.Before(all[j].submittedAt)
	})
	for i, want := range all {
		got, _ := q.pop()
		if got != want {
			t.Fatalf("pop #%d = %s (p=%d), want %s (p=%d)", i, got.id, got.priority, want.id, want.priority)
		}
	}
}
