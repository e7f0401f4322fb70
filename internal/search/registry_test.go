package search

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/vecpager/internal/models"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	defer r.Close()

	s := &Stream{}
	h := r.Add(s)
	if h == "" {
		t.Fatal("empty handle")
	}
	got, err := r.Get(h)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
	if err := r.Remove(h); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get(h); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Get after remove err = %v", err)
	}
	if err := r.Remove(h); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("second remove err = %v", err)
	}
}

func TestRegistry_Expiry(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	defer r.Close()

	var mu sync.Mutex
	now := time.Unix(1000, 0)
	r.mu.Lock()
	r.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	r.mu.Unlock()
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	idle := r.Add(&Stream{})
	active := r.Add(&Stream{})

	advance(40 * time.Minute)
	if _, err := r.Get(active); err != nil {
		t.Fatal(err)
	}
	advance(40 * time.Minute)

	if _, err := r.Get(idle); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("idle stream err = %v, want ErrNotFound", err)
	}
	if n := r.expire(); n != 1 {
		t.Errorf("expired %d, want 1", n)
	}
	if _, err := r.Get(active); err != nil {
		t.Errorf("recently used stream: %v", err)
	}
}
