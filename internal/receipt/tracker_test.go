package receipt

import "testing"

func TestAddIsIdempotent(t *testing.T) {
	tr := NewTracker()

	if !tr.Add("m1", "bob") {
		t.Fatal("first Add() returned false")
	}
	for i := 0; i < 3; i++ {
		if tr.Add("m1", "bob") {
			t.Fatal("repeated Add() returned true")
		}
	}
	if tr.Count("m1") != 1 {
		t.Errorf("Count() = %d, want 1", tr.Count("m1"))
	}
}

func TestReadersAreMonotonic(t *testing.T) {
	tr := NewTracker()
	readers := []string{"a", "b", "c", "d"}

	for i, r := range readers {
		tr.Add("m1", r)
		for _, prev := range readers[:i+1] {
			if !tr.HasRead("m1", prev) {
				t.Fatalf("reader %s disappeared after adding %s", prev, r)
			}
		}
	}
	if tr.Count("m1") != len(readers) {
		t.Errorf("Count() = %d, want %d", tr.Count("m1"), len(readers))
	}
}

func TestForget(t *testing.T) {
	tr := NewTracker()
	tr.Add("m1", "a")
	tr.Add("m2", "a")

	tr.Forget("m1")
	if tr.HasRead("m1", "a") || tr.Count("m1") != 0 {
		t.Error("Forget() left readers behind")
	}
	if !tr.HasRead("m2", "a") {
		t.Error("Forget() touched another message")
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tr.Len())
	}
}
