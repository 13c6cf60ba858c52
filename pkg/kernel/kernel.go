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

// Package kernel owns PennOS's scheduling state: the priority ready
// queues, the blocked queue, the tick counter, the structured event log,
// and the host/guest signal relay. It sits above pkg/process (which owns
// PCB lifecycle) and pkg/fat (the filesystem), and below pkg/syscalls
// (the user-facing facade).
package kernel

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"

	"pennos/pkg/fat"
	"pennos/pkg/process"
)

// NumPrio matches NUM_PRIO: three ready-queue priority levels.
const NumPrio = 3

// QuantumMillis is the scheduler's tick length, matching the reference
// kernel's 100ms SIGALRM interval timer.
const QuantumMillis = 100

// Kernel bundles every piece of global state the C original kept as
// file-scope statics across scheduler.c, queue.c and process.c.
type Kernel struct {
	mu sync.Mutex

	Procs  *process.Table
	Volume *fat.Volume

	ready   [NumPrio][]*process.PCB
	blocked []*process.PCB

	tick uint64

	logPath string

	rotIdx int

	stopSignals func()
}

// schedule is the 19-slot weighted rotation over the three priority
// levels (9:6:4), copied verbatim from scheduler.c.
var schedule = [19]int{0, 1, 0, 2, 0, 1, 0, 2, 0, 1, 0, 1, 0, 2, 0, 1, 0, 2, 1}

// New constructs a Kernel over an already-mounted volume and an empty
// process table, and truncates logPath, matching k_scheduler_init's
// fopen(log_fname, "w").
func New(procs *process.Table, vol *fat.Volume, logPath string) (*Kernel, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "kernel: truncate log file")
	}
	f.Close()

	k := &Kernel{
		Procs:   procs,
		Volume:  vol,
		logPath: logPath,
	}
	k.stopSignals = installHostSignals()
	return k, nil
}

// Close stops the host-signal relay, matching k_scheduler_cleanup's
// counterpart on the signal-handling side. Run's caller should call this
// once the scheduler loop has returned.
func (k *Kernel) Close() {
	if k.stopSignals != nil {
		k.stopSignals()
	}
}

// Tick returns the current scheduler tick.
func (k *Kernel) Tick() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// Enqueue places proc at the tail of its priority's ready queue, matching
// k_enqueue. It is a no-op unless proc is Ready and its priority is valid.
func (k *Kernel) Enqueue(proc *process.PCB) {
	if proc == nil || proc.State != process.Ready {
		return
	}
	if proc.Priority < 0 || proc.Priority >= NumPrio {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ready[proc.Priority] = append(k.ready[proc.Priority], proc)
}

// Dequeue pops the head of prio's ready queue, matching k_dequeue.
// Returns nil if prio is invalid or the queue is empty.
func (k *Kernel) Dequeue(prio int) *process.PCB {
	if prio < 0 || prio >= NumPrio {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	q := k.ready[prio]
	if len(q) == 0 {
		return nil
	}
	p := q[0]
	k.ready[prio] = q[1:]
	return p
}

func removeProc(s []*process.PCB, proc *process.PCB) []*process.PCB {
	for i, p := range s {
		if p == proc {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Block moves proc from its ready queue to the blocked queue, matching
// k_block.
func (k *Kernel) Block(proc *process.PCB) {
	if proc == nil {
		return
	}
	k.mu.Lock()
	proc.State = process.Blocked
	k.ready[proc.Priority] = removeProc(k.ready[proc.Priority], proc)
	k.blocked = append(k.blocked, proc)
	k.mu.Unlock()
	k.logEvent("BLOCKED", proc)
}

// Unblock moves proc from the blocked queue back onto its ready queue,
// matching k_unblock.
func (k *Kernel) Unblock(proc *process.PCB) {
	if proc == nil {
		return
	}
	k.mu.Lock()
	k.blocked = removeProc(k.blocked, proc)
	proc.State = process.Ready
	k.mu.Unlock()
	k.Enqueue(proc)
	k.logEvent("UNBLOCKED", proc)
}

// Stop removes proc from every queue and marks it Stopped without
// rescheduling it, matching k_stop. If proc's parent is blocked waiting
// (WakeTick == 0, i.e. waiting on a child rather than asleep), the parent
// is woken so waitpid can observe the stop.
func (k *Kernel) Stop(proc *process.PCB) {
	if proc == nil {
		return
	}
	k.mu.Lock()
	proc.State = process.Stopped
	proc.StoppedReported = false
	k.ready[proc.Priority] = removeProc(k.ready[proc.Priority], proc)
	k.blocked = removeProc(k.blocked, proc)
	parent := k.Procs.Get(proc.PPID)
	k.mu.Unlock()

	if parent != nil && parent.State == process.Blocked && parent.WakeTick == 0 {
		k.Unblock(parent)
	}
	k.logEvent("STOPPED", proc)
}

// Continue re-enqueues a Stopped process, matching k_continue. No-op if
// proc is not currently Stopped.
func (k *Kernel) Continue(proc *process.PCB) {
	if proc == nil || proc.State != process.Stopped {
		return
	}
	proc.State = process.Ready
	k.Enqueue(proc)
	k.logEvent("CONTINUED", proc)
}

// TickSleepCheck wakes every blocked process whose WakeTick has arrived,
// matching k_tick_sleep_check. A WakeTick of 0 means "blocked on a child
// state change" rather than asleep, and is left alone here.
func (k *Kernel) TickSleepCheck(tick uint64) {
	k.mu.Lock()
	due := make([]*process.PCB, 0)
	remaining := k.blocked[:0:0]
	for _, proc := range k.blocked {
		if proc.WakeTick > 0 && proc.WakeTick <= tick {
			proc.WakeTick = 0
			due = append(due, proc)
		} else {
			remaining = append(remaining, proc)
		}
	}
	k.blocked = remaining
	k.mu.Unlock()

	for _, proc := range due {
		proc.State = process.Ready
		k.Enqueue(proc)
		k.logEvent("UNBLOCKED", proc)
	}
}

// SetPriority changes proc's nice level, moving it between ready queues
// if it is currently runnable, matching k_set_priority.
func (k *Kernel) SetPriority(proc *process.PCB, prio int) {
	if proc == nil || prio < 0 || prio > 2 || proc.Priority == prio {
		return
	}
	old := proc.Priority
	k.mu.Lock()
	if proc.State == process.Ready {
		k.ready[old] = removeProc(k.ready[old], proc)
	}
	proc.Priority = prio
	k.mu.Unlock()

	k.logNiceEvent(proc, old, prio)

	if proc.State == process.Ready {
		k.Enqueue(proc)
	}
}

// RemoveFromQueues strips proc out of every ready and blocked queue,
// matching k_remove_from_queues. Called once a process becomes a zombie.
func (k *Kernel) RemoveFromQueues(proc *process.PCB) {
	if proc == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := range k.ready {
		k.ready[i] = removeProc(k.ready[i], proc)
	}
	k.blocked = removeProc(k.blocked, proc)
}

// logEvent appends one line to the scheduler log, matching k_log_event's
// "[%5lu] %-10s %-5d %-4d %s\n" format (tick, event, pid, priority, cmd).
func (k *Kernel) logEvent(event string, proc *process.PCB) {
	f, err := os.OpenFile(k.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%5d] %-10s %-5d %-4d %s\n", k.Tick(), event, proc.PID, proc.Priority, proc.CmdName)
}

// logNiceEvent appends a NICE event, matching k_log_nice_event's
// "[%5lu] %-10s %-3d %-3d %-2d %s\n" format (tick, "NICE", pid, old, new, cmd).
func (k *Kernel) logNiceEvent(proc *process.PCB, oldPrio, newPrio int) {
	f, err := os.OpenFile(k.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%5d] %-10s %-3d %-3d %-2d %s\n", k.Tick(), "NICE", proc.PID, oldPrio, newPrio, proc.CmdName)
}

// LogSimple appends an event line for a pid/priority pair that does not
// (or no longer) has a live PCB to hang the call off of, such as CREATE
// logged from Spawn before the child is enqueued, or EXITED/ZOMBIE logged
// after process state has already moved on.
func (k *Kernel) LogSimple(event string, pid uint16, prio int, cmd string) {
	f, err := os.OpenFile(k.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "[%5d] %-10s %-5d %-4d %s\n", k.Tick(), event, pid, prio, cmd)
}
