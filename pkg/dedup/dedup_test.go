package dedup

import (
	"testing"
	"time"
)

func TestShouldProcessWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	d := New(5*time.Second, 10)
	d.now = func() time.Time { return now }

	key := Key([]byte(`{"light":1}`))
	if !d.ShouldProcess(key) {
		t.Fatal("first sighting should be processed")
	}
	if d.ShouldProcess(key) {
		t.Fatal("repeat within ttl should be dropped")
	}

	now = now.Add(6 * time.Second)
	if !d.ShouldProcess(key) {
		t.Error("repeat after ttl should be processed")
	}
}

func TestEvictKeepsBound(t *testing.T) {
	now := time.Unix(1000, 0)
	d := New(time.Minute, 3)
	d.now = func() time.Time { return now }

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		now = now.Add(time.Millisecond)
		d.ShouldProcess(Key([]byte(p)))
	}
	if got := d.Len(); got != 3 {
		t.Errorf("len = %d, want 3", got)
	}
	// newest survives
	if d.ShouldProcess(Key([]byte("e"))) {
		t.Error("newest key was evicted")
	}
}

func TestNilAndEmpty(t *testing.T) {
	var d *Deduper
	if !d.ShouldProcess("x") {
		t.Error("nil deduper should process")
	}
	if !New(0, 0).ShouldProcess("") {
		t.Error("empty id should process")
	}
}
