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

// Package process implements PennOS's process control block and process
// table, mirroring util/struct.h's pcb_t and process.c's lifecycle
// functions (k_proc_create, k_terminate, k_reap_zombie, k_adopt_orphans).
package process

import (
	"sync"

	"pennos/pkg/worker"
)

// MaxProc matches MAX_PROC: the process table's fixed capacity.
const MaxProc = 1024

// MaxFD matches MAX_FD: the size of each process's local FD table.
const MaxFD = 32

// PIDInit is the PID of the init process, matching PID_INIT.
const PIDInit = 1

// State mirrors pstate_t.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Stopped
	Zombie
)

// ExitStatus mirrors pexit_t.
type ExitStatus int

const (
	ExitNone ExitStatus = iota
	ExitExited
	ExitSignaled
	ExitStopped
)

// PCB is a process control block, matching pcb_t. The parent/child graph
// is PID-indexed rather than pointer-owned (see DESIGN.md): Children
// holds PID references resolved through the owning Table.
type PCB struct {
	PID  uint16
	PPID uint16

	CmdName string
	Args    []string

	State           State
	Priority        int // 0, 1, or 2
	WakeTick        uint64
	StoppedReported bool
	ExitStatus      ExitStatus

	Children []uint16

	// FDTable holds kernel FD indices into pkg/fat's open-file table;
	// -1 means the local slot is closed.
	FDTable [MaxFD]int

	Worker *worker.Worker
}

func newPCB(pid, ppid uint16) *PCB {
	p := &PCB{PID: pid, PPID: ppid, State: Ready}
	for i := range p.FDTable {
		p.FDTable[i] = -1
	}
	return p
}

// Table is the kernel-global process table, matching process_table plus
// the bookkeeping process.c keeps in file-scope statics (next_pid,
// terminal pgrp, shutdown flag).
type Table struct {
	mu sync.Mutex

	procs   [MaxProc + 1]*PCB // index 0 unused, matching PID_INVALID == 0
	nextPID uint16

	terminalPGID uint16
	shutdown     bool
}

// NewTable returns an empty process table with PID allocation starting
// at 1.
func NewTable() *Table {
	return &Table{nextPID: 1}
}

// Create allocates a new PCB, matching k_proc_create: if parent is
// non-nil, the child inherits its FD table and is registered as one of
// parent's Children. Returns nil if the table has issued MaxProc PIDs
// already (Open Question (i): PennOS never reuses a PID).
func (t *Table) Create(parent *PCB) *PCB {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.nextPID > MaxProc {
		return nil
	}
	pid := t.nextPID
	t.nextPID++

	var ppid uint16
	if parent != nil {
		ppid = parent.PID
	}
	p := newPCB(pid, ppid)

	if parent != nil {
		parent.Children = append(parent.Children, p.PID)
		p.FDTable = parent.FDTable
	}

	t.procs[pid] = p
	return p
}

// Get returns the PCB for pid, or nil if it does not exist.
func (t *Table) Get(pid uint16) *PCB {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pid == 0 || int(pid) >= len(t.procs) {
		return nil
	}
	return t.procs[pid]
}

// All returns every live PCB in the table, matching get_all_process.
func (t *Table) All() []*PCB {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*PCB, 0, MaxProc)
	for _, p := range t.procs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Cleanup removes proc from its parent's child list and from the process
// table, matching k_proc_cleanup. It does not adopt orphans; Terminate
// handles that immediately when a process becomes a zombie.
func (t *Table) Cleanup(proc *PCB) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if proc.PID != PIDInit {
		if parent := t.procs[proc.PPID]; parent != nil {
			parent.Children = removePID(parent.Children, proc.PID)
		}
	}
	t.procs[proc.PID] = nil
}

// Terminate transitions proc to Zombie, matching k_terminate: it adopts
// proc's children onto init and, if proc's parent is blocked waiting for
// a child state change, marks it ready to be woken by the scheduler.
// unblock is called with the parent that should be woken, or nil.
func (t *Table) Terminate(proc *PCB, unblock func(*PCB)) {
	t.mu.Lock()
	if proc.State == Zombie {
		t.mu.Unlock()
		return
	}
	proc.State = Zombie
	t.mu.Unlock()

	var wokeParent *PCB
	if proc.PID != PIDInit {
		wokeParent = t.adoptOrphans(proc)
	}

	t.mu.Lock()
	parent := t.procs[proc.PPID]
	t.mu.Unlock()
	if parent != nil && parent.State == Blocked && parent.WakeTick == 0 {
		wokeParent = parent
	}
	if wokeParent != nil && unblock != nil {
		unblock(wokeParent)
	}
}

// ReapZombie removes childpid from proc's children and cleans it up,
// matching k_reap_zombie. No-op if childpid is not a zombie child of
// proc.
func (t *Table) ReapZombie(proc *PCB, childpid uint16) {
	t.mu.Lock()
	child := t.procs[childpid]
	isChild := false
	for _, c := range proc.Children {
		if c == childpid {
			isChild = true
			break
		}
	}
	t.mu.Unlock()

	if child == nil || !isChild || child.State != Zombie {
		return
	}

	t.mu.Lock()
	proc.Children = removePID(proc.Children, childpid)
	t.mu.Unlock()

	t.Cleanup(child)
}

// adoptOrphans reassigns proc's children to init, matching k_adopt_orphans.
// Returns init if any adopted child was already a zombie and init is
// blocked (so the caller can wake it), or nil otherwise.
func (t *Table) adoptOrphans(proc *PCB) *PCB {
	t.mu.Lock()
	init := t.procs[PIDInit]
	children := proc.Children
	proc.Children = nil
	hasZombie := false
	for _, cpid := range children {
		child := t.procs[cpid]
		if child == nil {
			continue
		}
		child.PPID = PIDInit
		init.Children = append(init.Children, cpid)
		if child.State == Zombie {
			hasZombie = true
		}
	}
	t.mu.Unlock()

	if hasZombie && init != nil && init.State == Blocked && init.WakeTick == 0 {
		return init
	}
	return nil
}

// SetTerminalForeground sets the PID treated as the terminal's foreground
// process, matching k_set_terminal_pgrp_id.
func (t *Table) SetTerminalForeground(pid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.terminalPGID = pid
}

// TerminalForeground matches k_get_terminal_pgrp_id.
func (t *Table) TerminalForeground() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.terminalPGID
}

// RequestShutdown sets the shutdown flag, matching k_request_shutdown.
func (t *Table) RequestShutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutdown = true
}

// ShutdownRequested matches k_is_shutdown_requested.
func (t *Table) ShutdownRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shutdown
}

func removePID(s []uint16, pid uint16) []uint16 {
	for i, v := range s {
		if v == pid {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
