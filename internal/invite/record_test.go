package invite

import (
	"sync"
	"testing"
)

func TestStoreRemoveClaimsOnce(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ChatID: -1, Link: "x"})

	if _, ok := s.Remove(-1); !ok {
		t.Fatal("first Remove should claim the record")
	}
	if _, ok := s.Remove(-1); ok {
		t.Fatal("second Remove should find nothing")
	}
}

func TestStoreRemoveClaimsOnceConcurrently(t *testing.T) {
	s := NewStore()
	s.Put(Record{ChatID: -1})

	const racers = 16
	var wg sync.WaitGroup
	claims := make(chan struct{}, racers)
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		go func() {
			defer wg.Done()
			if _, ok := s.Remove(-1); ok {
				claims <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(claims)

	if n := len(claims); n != 1 {
		t.Fatalf("record claimed %d times, want 1", n)
	}
}

func TestStoreSetAnnouncement(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ChatID: -2})

	if !s.SetAnnouncement(-2, 55) {
		t.Fatal("SetAnnouncement failed for live record")
	}
	rec, _ := s.Get(-2)
	if rec.MessageID != 55 {
		t.Errorf("MessageID = %d, want 55", rec.MessageID)
	}

	s.Remove(-2)
	if s.SetAnnouncement(-2, 77) {
		t.Error("SetAnnouncement succeeded for removed record")
	}
}

func TestStoreActiveTargets(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Put(Record{ChatID: -1})
	s.Put(Record{ChatID: -2, ThreadID: 7})
	s.Put(Record{ChatID: -1, Link: "replaced"}) // same chat, still one target

	targets := s.ActiveTargets()
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	byChat := map[int64]int{}
	for _, tg := range targets {
		byChat[tg.ChatID] = tg.ThreadID
	}
	if byChat[-2] != 7 {
		t.Errorf("thread id not carried for chat -2: %v", byChat)
	}
}
