/*
Copyright 2026 The PennOS Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package job

import "testing"

func TestAddAssignsIncreasingIDs(t *testing.T) {
	tbl := NewTable()
	id1 := tbl.Add(10, "sleep 5")
	id2 := tbl.Add(11, "cat &")
	if id1 != 1 || id2 != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", id1, id2)
	}
}

func TestFindByIDAndPID(t *testing.T) {
	tbl := NewTable()
	id := tbl.Add(42, "sleep 5")

	j, ok := tbl.FindByID(id)
	if !ok || j.PID != 42 {
		t.Fatalf("FindByID(%d) = %v, %v", id, j, ok)
	}

	j2, ok := tbl.FindByPID(42)
	if !ok || j2.ID != id {
		t.Fatalf("FindByPID(42) = %v, %v", j2, ok)
	}

	if _, ok := tbl.FindByID(999); ok {
		t.Fatalf("FindByID(999) found a job, want none")
	}
}

func TestFindMostRecentStoppedPrefersHighestID(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, "a")
	id2 := tbl.Add(2, "b")
	tbl.SetState(1, Stopped)
	tbl.SetState(2, Stopped)

	j, ok := tbl.FindMostRecentStopped()
	if !ok || j.ID != id2 {
		t.Fatalf("FindMostRecentStopped = %v, want job %d", j, id2)
	}
}

func TestFindMostRecentStoppedOrBackgroundPrefersStopped(t *testing.T) {
	tbl := NewTable()
	tbl.Add(1, "a")
	idStopped := tbl.Add(2, "b")
	tbl.SetState(1, Background)
	tbl.SetState(2, Stopped)

	j, ok := tbl.FindMostRecentStoppedOrBackground()
	if !ok || j.ID != idStopped {
		t.Fatalf("FindMostRecentStoppedOrBackground = %v, want the stopped job %d", j, idStopped)
	}
}

func TestRemoveDropsJob(t *testing.T) {
	tbl := NewTable()
	tbl.Add(7, "x")
	tbl.Remove(7)
	if _, ok := tbl.FindByPID(7); ok {
		t.Fatalf("job for pid 7 still present after Remove")
	}
}

func TestAddFullTableReturnsNegativeOne(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < MaxJobs; i++ {
		if id := tbl.Add(uint16(i+1), "x"); id == -1 {
			t.Fatalf("Add failed before reaching MaxJobs at i=%d", i)
		}
	}
	if id := tbl.Add(9999, "overflow"); id != -1 {
		t.Fatalf("Add past MaxJobs = %d, want -1", id)
	}
}

func TestPrintFormatsEntries(t *testing.T) {
	tbl := NewTable()
	tbl.Add(5, "echo hi")
	out := tbl.Print()
	want := "[1] 5 Running    echo hi\n"
	if out != want {
		t.Fatalf("Print() = %q, want %q", out, want)
	}
}
