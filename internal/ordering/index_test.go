package ordering

import (
	"testing"

	"go.lionforge.dev/internal/id"
)

func TestAppendIsDuplicateFree(t *testing.T) {
	idx := New()
	a := id.New()
	idx.Append(a)
	idx.Append(a)
	if idx.Len() != 1 {
		t.Fatalf("expected len 1 after duplicate append, got %d", idx.Len())
	}
}

func TestPopFrontFIFO(t *testing.T) {
	idx := New()
	a, b, c := id.New(), id.New(), id.New()
	idx.Append(a)
	idx.Append(b)
	idx.Append(c)

	got, err := idx.PopFront()
	if err != nil || got != a {
		t.Fatalf("expected a first, got %v err %v", got, err)
	}
	if idx.Contains(a) {
		t.Fatal("popped id should no longer be contained")
	}
	if idx.Len() != 2 {
		t.Fatalf("expected len 2, got %d", idx.Len())
	}
}

func TestPopFrontEmptyFails(t *testing.T) {
	idx := New()
	if _, err := idx.PopFront(); err == nil {
		t.Fatal("expected error popping empty ordering")
	}
}

func TestInsertAtDuplicateFails(t *testing.T) {
	idx := New()
	a := id.New()
	idx.Append(a)
	if err := idx.InsertAt(0, a); err == nil {
		t.Fatal("expected AlreadyExists inserting duplicate id")
	}
}

func TestRemoveReindexes(t *testing.T) {
	idx := New()
	a, b, c := id.New(), id.New(), id.New()
	idx.Append(a)
	idx.Append(b)
	idx.Append(c)
	idx.Remove(b)

	if idx.IndexOf(c) != 1 {
		t.Fatalf("expected c reindexed to position 1, got %d", idx.IndexOf(c))
	}
}

func TestSlicePreservesOrder(t *testing.T) {
	idx := New()
	ids := []id.ID{id.New(), id.New(), id.New(), id.New()}
	for _, i := range ids {
		idx.Append(i)
	}
	sub := idx.Slice(1, 3)
	got := sub.ToSlice()
	if len(got) != 2 || got[0] != ids[1] || got[1] != ids[2] {
		t.Fatalf("slice mismatch: %v", got)
	}
}
