package ringbuf

import "testing"

func TestWindow_PushEvictsOldest(t *testing.T) {
	w := New[int](3)

	for i := 1; i <= 3; i++ {
		if _, evicted := w.Push(i); evicted {
			t.Fatalf("push %d should not evict", i)
		}
	}
	if !w.Full() || w.Len() != 3 {
		t.Fatalf("expected full window of 3, got len=%d", w.Len())
	}

	old, evicted := w.Push(4)
	if !evicted || old != 1 {
		t.Fatalf("expected eviction of 1, got %d evicted=%v", old, evicted)
	}

	want := []int{2, 3, 4}
	for i, v := range want {
		if got := w.At(i); got != v {
			t.Errorf("At(%d)=%d, want %d", i, got, v)
		}
	}
	if n, _ := w.Newest(); n != 4 {
		t.Errorf("Newest=%d, want 4", n)
	}
}

func TestWindow_AppendToOrder(t *testing.T) {
	w := New[int](4)
	for i := 0; i < 10; i++ {
		w.Push(i)
	}
	got := w.AppendTo([]int{-1})[1:]
	want := []int{6, 7, 8, 9}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestWindow_Reset(t *testing.T) {
	w := New[float64](2)
	w.Push(1)
	w.Push(2)
	w.Reset()
	if w.Len() != 0 {
		t.Fatalf("len after reset=%d", w.Len())
	}
	if _, ok := w.Newest(); ok {
		t.Fatal("Newest on empty window should report false")
	}
}

func TestWindow_MinimumCapacity(t *testing.T) {
	w := New[int](0)
	if w.Cap() != 1 {
		t.Fatalf("Cap=%d, want 1", w.Cap())
	}
}
