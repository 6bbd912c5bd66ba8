package catalog

import "testing"

func TestStoreGetSetDelete(t *testing.T) {
	s := NewStore[int]()

	if _, ok := s.Get("a"); ok {
		t.Fatal("expected empty store to miss")
	}

	s.Set("a", 1)
	v, ok := s.Get("a")
	if !ok || v != 1 {
		t.Fatalf("got (%d, %v), want (1, true)", v, ok)
	}

	s.Set("a", 2)
	v, ok = s.Get("a")
	if !ok || v != 2 {
		t.Fatalf("Set should overwrite: got (%d, %v)", v, ok)
	}

	if !s.Delete("a") {
		t.Fatal("expected Delete to report present")
	}
	if s.Delete("a") {
		t.Fatal("expected second Delete to report absent")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("expected store to be empty after delete")
	}
}

func TestStoreListNegativeLimitReturnsAll(t *testing.T) {
	s := NewStore[int]()
	s.Set("charlie", 3)
	s.Set("alpha", 1)
	s.Set("bravo", 2)

	page := s.List(0, -1)
	if len(page) != 3 {
		t.Fatalf("got %d entries, want 3", len(page))
	}
	for name, want := range map[string]int{"alpha": 1, "bravo": 2, "charlie": 3} {
		if page[name] != want {
			t.Fatalf("entry %q = %d, want %d", name, page[name], want)
		}
	}
}

func TestStoreListExplicitZeroLimitReturnsNothing(t *testing.T) {
	s := NewStore[int]()
	s.Set("a", 1)
	s.Set("b", 2)

	page := s.List(0, 0)
	if len(page) != 0 {
		t.Fatalf("got %d entries, want 0 for an explicit zero limit", len(page))
	}
}

func TestStoreListPagination(t *testing.T) {
	s := NewStore[int]()
	names := []string{"a", "b", "c", "d", "e"}
	for i, n := range names {
		s.Set(n, i)
	}

	first := s.List(0, 2)
	if len(first) != 2 {
		t.Fatalf("got %d entries, want 2", len(first))
	}
	if _, ok := first["a"]; !ok {
		t.Fatal("expected page 1 to contain a")
	}
	if _, ok := first["b"]; !ok {
		t.Fatal("expected page 1 to contain b")
	}

	second := s.List(2, 2)
	if _, ok := second["c"]; !ok {
		t.Fatal("expected page 2 to contain c")
	}
	if _, ok := second["d"]; !ok {
		t.Fatal("expected page 2 to contain d")
	}

	last := s.List(4, 2)
	if len(last) != 1 {
		t.Fatalf("got %d entries, want 1", len(last))
	}
	if _, ok := last["e"]; !ok {
		t.Fatal("expected final page to contain e")
	}
}

func TestStoreListNegativeOffsetClampsToZero(t *testing.T) {
	s := NewStore[int]()
	s.Set("a", 1)

	page := s.List(-5, -1)
	if len(page) != 1 {
		t.Fatalf("got %d entries, want 1", len(page))
	}
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := NewStore[int]()
	done := make(chan struct{})

	go func() {
		for i := 0; i < 1000; i++ {
			s.Set("k", i)
		}
		close(done)
	}()

	for i := 0; i < 1000; i++ {
		s.Get("k")
	}
	<-done
}
