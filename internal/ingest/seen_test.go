package ingest

import "testing"

func TestSeenSetTrimsToMostRecent(t *testing.T) {
	t.Parallel()

	s := NewSeenSet(10, 5)
	for id := int64(1); id <= 11; id++ {
		if !s.Add(id) {
			t.Fatalf("Add(%d) = false, want true", id)
		}
	}
	if s.Len() != 5 {
		t.Fatalf("Len = %d, want 5", s.Len())
	}
	for id := int64(1); id <= 6; id++ {
		if s.Contains(id) {
			t.Fatalf("Contains(%d) = true after trim", id)
		}
	}
	for id := int64(7); id <= 11; id++ {
		if !s.Contains(id) {
			t.Fatalf("Contains(%d) = false, want true", id)
		}
	}
	if s.Add(11) {
		t.Fatalf("Add(11) again = true, want false")
	}
}

func TestSeenSetDefaults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		capacity     int
		keep         int
		wantCapacity int
		wantKeep     int
	}{
		{"zero", 0, 0, DefaultSeenCapacity, DefaultSeenKeep},
		{"keep above capacity", 10, 20, 10, 10},
		{"explicit", 8, 3, 8, 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewSeenSet(tt.capacity, tt.keep)
			if s.capacity != tt.wantCapacity || s.keep != tt.wantKeep {
				t.Fatalf("capacity/keep = %d/%d, want %d/%d", s.capacity, s.keep, tt.wantCapacity, tt.wantKeep)
			}
		})
	}
}

func TestCursorNeverMovesBackwards(t *testing.T) {
	t.Parallel()

	c := NewCursor(0, 0)
	if c.Offset() != 0 {
		t.Fatalf("initial offset = %d, want 0", c.Offset())
	}
	c.Advance(41)
	if c.Offset() != 42 {
		t.Fatalf("offset = %d, want 42", c.Offset())
	}
	c.Advance(10)
	if c.Offset() != 42 {
		t.Fatalf("offset after older id = %d, want 42", c.Offset())
	}
}
