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

package kernel

import (
	"path/filepath"
	"testing"

	"pennos/pkg/process"
	"pennos/pkg/worker"
)

func newTestKernel(t *testing.T) (*Kernel, *process.Table) {
	t.Helper()
	procs := process.NewTable()
	k, err := New(procs, nil, filepath.Join(t.TempDir(), "log.txt"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(k.Close)
	return k, procs
}

// TestPickQueueRotationRatio keeps all three ready queues permanently
// non-empty and checks that one full pass over the 19-slot rotation
// yields exactly the 9:6:4 split scheduler.c's schedule array encodes.
func TestPickQueueRotationRatio(t *testing.T) {
	k, procs := newTestKernel(t)
	init := procs.Create(nil)

	for prio := 0; prio < NumPrio; prio++ {
		p := procs.Create(init)
		p.Priority = prio
		p.State = process.Ready
		k.Enqueue(p)
	}

	counts := map[int]int{}
	for i := 0; i < len(schedule); i++ {
		counts[k.pickQueue()]++
	}

	if counts[0] != 9 || counts[1] != 6 || counts[2] != 4 {
		t.Fatalf("rotation counts = %v, want {0:9 1:6 2:4}", counts)
	}
}

// TestPickQueueSkipsEmptyQueues checks that when only one priority is
// runnable, every rotation slot resolves to it regardless of what the
// schedule array says, matching k_pick_queue's fallback scan.
func TestPickQueueSkipsEmptyQueues(t *testing.T) {
	k, procs := newTestKernel(t)
	init := procs.Create(nil)
	p := procs.Create(init)
	p.Priority = 2
	p.State = process.Ready
	k.Enqueue(p)

	for i := 0; i < len(schedule); i++ {
		if got := k.pickQueue(); got != 2 {
			t.Fatalf("pickQueue() = %d, want 2", got)
		}
	}
}

// TestPickQueueAllEmpty checks the -1 "idle" sentinel.
func TestPickQueueAllEmpty(t *testing.T) {
	k, _ := newTestKernel(t)
	if got := k.pickQueue(); got != -1 {
		t.Fatalf("pickQueue() on empty kernel = %d, want -1", got)
	}
}

// TestDeliverTerminateZombifiesAndWakesParent exercises the kill path: a
// blocked parent waiting on any child (WakeTick == 0) should be unblocked
// once Deliver(Terminate) zombifies its child, matching k_signal_deliver
// plus k_terminate's wake-blocked-parent behavior.
func TestDeliverTerminateZombifiesAndWakesParent(t *testing.T) {
	k, procs := newTestKernel(t)
	init := procs.Create(nil)
	parent := procs.Create(init)
	child := procs.Create(parent)
	child.Worker = worker.New(func(w *worker.Worker, arg any) any {
		w.SuspendSelf()
		return nil
	}, nil)
	child.Worker.Continue()

	parent.State = process.Blocked
	parent.WakeTick = 0
	k.blocked = append(k.blocked, parent)

	k.Deliver(child.PID, Terminate)

	if child.State != process.Zombie {
		t.Fatalf("child.State = %v, want Zombie", child.State)
	}
	if child.ExitStatus != process.ExitSignaled {
		t.Fatalf("child.ExitStatus = %v, want ExitSignaled", child.ExitStatus)
	}
	if parent.State != process.Ready {
		t.Fatalf("parent.State = %v, want Ready after being woken", parent.State)
	}
}

// TestStopWakesBlockedParentAndRemovesFromQueues matches k_stop's removal
// from both ready and blocked queues plus its parent-wake condition.
func TestStopWakesBlockedParentAndRemovesFromQueues(t *testing.T) {
	k, procs := newTestKernel(t)
	init := procs.Create(nil)
	parent := procs.Create(init)
	child := procs.Create(parent)
	child.Priority = 1
	child.State = process.Ready
	k.Enqueue(child)

	parent.State = process.Blocked
	parent.WakeTick = 0
	k.blocked = append(k.blocked, parent)

	k.Stop(child)

	if child.State != process.Stopped {
		t.Fatalf("child.State = %v, want Stopped", child.State)
	}
	if len(k.ready[1]) != 0 {
		t.Fatalf("child still present in ready queue after Stop")
	}
	if parent.State != process.Ready {
		t.Fatalf("parent.State = %v, want Ready after child stopped", parent.State)
	}
}

// TestSetPriorityMovesBetweenReadyQueues matches k_set_priority's
// requeue-on-nice behavior for a currently-runnable process.
func TestSetPriorityMovesBetweenReadyQueues(t *testing.T) {
	k, procs := newTestKernel(t)
	init := procs.Create(nil)
	p := procs.Create(init)
	p.Priority = 0
	p.State = process.Ready
	k.Enqueue(p)

	k.SetPriority(p, 2)

	if p.Priority != 2 {
		t.Fatalf("p.Priority = %d, want 2", p.Priority)
	}
	if len(k.ready[0]) != 0 {
		t.Fatalf("old priority queue still holds p")
	}
	if len(k.ready[2]) != 1 || k.ready[2][0] != p {
		t.Fatalf("new priority queue = %v, want [p]", k.ready[2])
	}
}
