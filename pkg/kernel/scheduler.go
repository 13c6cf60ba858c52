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
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"pennos/pkg/process"
	"pennos/pkg/worker"
)

// suspendIfAlive calls Suspend unless w has already finished: there is
// nothing left to preempt once the worker's goroutine has returned.
func suspendIfAlive(w *worker.Worker) {
	select {
	case <-w.Done():
	default:
		w.Suspend()
	}
}

// pickQueue walks the 19-slot rotation starting from k.rotIdx and returns
// the priority of the first non-empty ready queue it finds, advancing
// rotIdx one slot past every slot it inspects (including the one it
// returns). Returns -1 without advancing rotIdx if every ready queue is
// empty, matching k_pick_queue's NULL-process case.
func (k *Kernel) pickQueue() int {
	k.mu.Lock()
	empty := true
	for i := range k.ready {
		if len(k.ready[i]) > 0 {
			empty = false
			break
		}
	}
	k.mu.Unlock()
	if empty {
		return -1
	}

	for i := 0; i < len(schedule); i++ {
		k.mu.Lock()
		prio := schedule[k.rotIdx]
		k.rotIdx = (k.rotIdx + 1) % len(schedule)
		runnable := len(k.ready[prio]) > 0
		k.mu.Unlock()
		if runnable {
			return prio
		}
	}
	return -1
}

// Run drives the scheduler loop until ctx is canceled or the process
// table's shutdown flag is set and nothing remains runnable, matching
// k_scheduler_run. One iteration: poll host signals, pick a queue, run
// the head process for one quantum, sleep-check the blocked queue, and
// re-enqueue the process if it is still Running.
func (k *Kernel) Run(ctx context.Context) {
	ticker := time.NewTicker(QuantumMillis * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		k.checkHostSignals()

		prio := k.pickQueue()
		if prio < 0 {
			if k.Procs.ShutdownRequested() {
				return
			}
			k.idle(ctx, ticker)
			k.TickSleepCheck(k.Tick())
			k.advanceTick()
			continue
		}

		proc := k.Dequeue(prio)
		if proc == nil {
			continue
		}

		proc.State = process.Running
		k.logEvent("SCHEDULE", proc)

		proc.Worker.Continue()

		select {
		case <-ctx.Done():
			suspendIfAlive(proc.Worker)
			return
		case <-ticker.C:
		case <-proc.Worker.Done():
			// The process ran to completion (exit, or a cancel-driven
			// unwind) within its own quantum; nothing left to suspend.
		}
		suspendIfAlive(proc.Worker)

		k.TickSleepCheck(k.Tick())

		if proc.State == process.Running {
			proc.State = process.Ready
			k.Enqueue(proc)
		}

		k.advanceTick()
	}
}

// idle waits out one quantum without a running process, matching k_idle's
// sigsuspend: there is nothing runnable, so the scheduler simply blocks
// until the next tick or cancellation.
func (k *Kernel) idle(ctx context.Context, ticker *time.Ticker) {
	select {
	case <-ctx.Done():
	case <-ticker.C:
	}
}

// Supervise runs the scheduler loop and the host-signal relay as one
// unit: canceling ctx (or either goroutine returning) stops both and
// tears down the signal relay via Close. This is the entry point
// cmd/pennos uses rather than calling Run directly.
func (k *Kernel) Supervise(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // Run returning (e.g. shutdown) should stop the relay too.
		k.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		k.Close()
		return nil
	})
	return g.Wait()
}

func (k *Kernel) advanceTick() {
	k.mu.Lock()
	k.tick++
	k.mu.Unlock()
}
