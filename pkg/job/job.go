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

// Package job implements the shell-visible job table: the mapping from a
// small job id to a pid and command line used for foreground/background
// job control, matching util/job.h/job.c.
package job

import (
	"fmt"
	"sync"
)

// MaxJobs matches MAX_JOBS: the job table's fixed capacity.
const MaxJobs = 256

// State mirrors job_state_t.
type State int

const (
	Running State = iota
	Stopped
	Background
	Done
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Background:
		return "Background"
	default:
		return "Done"
	}
}

// Job is one job table entry, matching job_t.
type Job struct {
	ID    int
	PID   uint16
	Cmd   string
	State State
}

// Table is the shell's job table, matching the file-scope job_table array
// plus next_job_id in job.c.
type Table struct {
	mu     sync.Mutex
	jobs   []Job
	nextID int
}

// NewTable returns an empty job table with job ids starting at 1.
func NewTable() *Table {
	return &Table{nextID: 1}
}

// Add registers pid/cmd as a new Running job, matching jobs_add. Returns
// the assigned job id, or -1 if the table is already at MaxJobs.
func (t *Table) Add(pid uint16, cmd string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.jobs) >= MaxJobs {
		return -1
	}
	id := t.nextID
	t.nextID++
	t.jobs = append(t.jobs, Job{ID: id, PID: pid, Cmd: cmd, State: Running})
	return id
}

// FindByID returns the job with the given id, matching jobs_find_by_id.
func (t *Table) FindByID(id int) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return Job{}, false
}

// FindByPID returns the job tracking pid, matching jobs_find_by_pid.
func (t *Table) FindByPID(pid uint16) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, j := range t.jobs {
		if j.PID == pid {
			return j, true
		}
	}
	return Job{}, false
}

// FindMostRecentStopped returns the highest-id Stopped job, matching
// jobs_find_most_recent_stopped.
func (t *Table) FindMostRecentStopped() (Job, bool) {
	return t.findMostRecent(Stopped)
}

// FindMostRecentStoppedOrBackground prefers a Stopped job over a
// Background one, matching jobs_find_most_recent_stopped_or_background
// (used by fg/bg with no explicit job id argument).
func (t *Table) FindMostRecentStoppedOrBackground() (Job, bool) {
	if j, ok := t.findMostRecent(Stopped); ok {
		return j, ok
	}
	return t.findMostRecent(Background)
}

func (t *Table) findMostRecent(state State) (Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := -1
	var bestJob Job
	for _, j := range t.jobs {
		if j.State == state && j.ID > best {
			best = j.ID
			bestJob = j
		}
	}
	return bestJob, best != -1
}

// SetState updates the state of the job tracking pid, if any.
func (t *Table) SetState(pid uint16, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.jobs {
		if t.jobs[i].PID == pid {
			t.jobs[i].State = state
			return
		}
	}
}

// Remove drops the job tracking pid from the table, matching jobs_remove.
func (t *Table) Remove(pid uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, j := range t.jobs {
		if j.PID == pid {
			t.jobs = append(t.jobs[:i], t.jobs[i+1:]...)
			return
		}
	}
}

// Print formats every job the way jobs_print does: "[id] pid state cmd".
func (t *Table) Print() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out string
	for _, j := range t.jobs {
		out += fmt.Sprintf("[%d] %d %-10s %s\n", j.ID, j.PID, j.State, j.Cmd)
	}
	return out
}

// All returns a snapshot of every job in the table.
func (t *Table) All() []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Job, len(t.jobs))
	copy(out, t.jobs)
	return out
}
