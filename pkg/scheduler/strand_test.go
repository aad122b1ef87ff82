package scheduler

import (
	"sync"
	"testing"
)

func TestStrandRunsInOrder(t *testing.T) {
	s := NewStrand(16)
	go s.Run()
	defer s.Stop()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		s.Post(func() { got = append(got, i) })
	}
	if err := s.Do(func() {}); err != nil {
		t.Fatalf("Do: %v", err)
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v", got)
		}
	}
	if len(got) != 5 {
		t.Fatalf("ran %d of 5", len(got))
	}
}

func TestStrandSurvivesPanic(t *testing.T) {
	s := NewStrand(4)
	go s.Run()
	defer s.Stop()

	s.Post(func() { panic("bad script binding") })
	ran := false
	if err := s.Do(func() { ran = true }); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !ran {
		t.Error("strand stopped after a panic")
	}
}

func TestStrandStop(t *testing.T) {
	s := NewStrand(4)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Run()
	}()
	s.Do(func() {})
	s.Stop()
	wg.Wait()

	if s.Post(func() {}) {
		t.Error("Post succeeded on a stopped strand")
	}
	if err := s.Do(func() {}); err != ErrStrandStopped {
		t.Errorf("Do = %v, want ErrStrandStopped", err)
	}
	s.Stop()
}

func TestStrandStopWithoutRun(t *testing.T) {
	s := NewStrand(1)
	s.Stop()
	s.Run()
	if s.Post(func() {}) {
		t.Error("Post succeeded on a stopped strand")
	}
}
