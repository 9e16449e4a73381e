// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ringbuf

import "testing"

func TestPushAndItems(t *testing.T) {
	r := New[int](3)

	r.Push(1)
	r.Push(2)

	items := r.Items()
	if len(items) != 2 || items[0] != 1 || items[1] != 2 {
		t.Fatalf("Items() = %v, want [1 2]", items)
	}
}

func TestOverwriteOldest(t *testing.T) {
	r := New[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}

	items := r.Items()
	if len(items) != 3 {
		t.Fatalf("Len = %d, want 3", len(items))
	}
	want := []int{3, 4, 5}
	for i, v := range want {
		if items[i] != v {
			t.Errorf("Items()[%d] = %d, want %d", i, items[i], v)
		}
	}
}

func TestLast(t *testing.T) {
	r := New[string](2)

	if _, ok := r.Last(); ok {
		t.Error("Last() on empty ring should report not ok")
	}

	r.Push("a")
	r.Push("b")
	r.Push("c")

	last, ok := r.Last()
	if !ok || last != "c" {
		t.Errorf("Last() = %q, %v; want \"c\", true", last, ok)
	}
}

func TestReset(t *testing.T) {
	r := New[int](4)
	r.Push(1)
	r.Push(2)
	r.Reset()

	if r.Len() != 0 {
		t.Errorf("Len after Reset = %d, want 0", r.Len())
	}
	r.Push(9)
	if items := r.Items(); len(items) != 1 || items[0] != 9 {
		t.Errorf("Items after Reset+Push = %v, want [9]", items)
	}
}

func TestDefaultCapacity(t *testing.T) {
	r := New[int](0)
	if r.Cap() != 100 {
		t.Errorf("Cap() = %d, want 100", r.Cap())
	}
}
