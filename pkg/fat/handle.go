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

package fat

import "sync"

// MaxHandles is the size of the kernel-global open-file table
// (GLOBAL_FD_TABLE). Slots 0-2 are reserved for stdio.
const MaxHandles = 1024

// Open mode / flag bits, matching F_READ/F_WRITE/F_APPEND.
const (
	FlagRead   = 0x01
	FlagWrite  = 0x02
	FlagAppend = 0x04
)

// Seek whence values, matching F_SEEK_SET/CUR/END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Handle is one entry in the kernel-global open-file table, matching
// open_file_t: cached metadata plus an fd-local offset and flag.
type Handle struct {
	Name          string
	Size          uint32
	Perm          uint8
	FirstBlock    uint16
	DirentOffset  int64
	Offset        uint64
	Flag          uint8
	isStdio       bool
}

// handleTable is the shared, kernel-global open-file table. Slots 0, 1, 2
// are pre-populated as STDIN/STDOUT/STDERR sinks at mount time, matching
// k_gdt_init.
type handleTable struct {
	mu      sync.Mutex
	handles [MaxHandles]*Handle
}

func newHandleTable() *handleTable {
	t := &handleTable{}
	t.handles[0] = &Handle{Name: "STDIN", Flag: FlagRead, isStdio: true}
	t.handles[1] = &Handle{Name: "STDOUT", Flag: FlagWrite, isStdio: true}
	t.handles[2] = &Handle{Name: "STDERR", Flag: FlagWrite, isStdio: true}
	return t
}

// AllocSlot finds the lowest free index >= 3 and installs h there,
// returning the index. Returns -1 if the table is full (ENFile).
func (t *handleTable) AllocSlot(h *Handle) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 3; i < MaxHandles; i++ {
		if t.handles[i] == nil {
			t.handles[i] = h
			return i
		}
	}
	return -1
}

// Get returns the handle installed at kfd, or nil if the slot is empty or
// out of range.
func (t *handleTable) Get(kfd int) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	if kfd < 0 || kfd >= MaxHandles {
		return nil
	}
	return t.handles[kfd]
}

// FreeSlot clears the slot at kfd; it writes nothing back. Close frees the
// slot first and then writes the handle's cached size and mtime to its
// directory entry from its own copy of the handle, so that LiveReferences
// no longer counts the handle being closed.
func (t *handleTable) FreeSlot(kfd int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if kfd >= 0 && kfd < MaxHandles {
		t.handles[kfd] = nil
	}
}

// HasWriter reports whether any currently open handle on fname holds
// F_WRITE or F_APPEND, matching k_have_write_opened. Used to reject a
// second writer before a file is opened for write/append.
func (t *handleTable) HasWriter(fname string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 3; i < MaxHandles; i++ {
		h := t.handles[i]
		if h == nil || h.isStdio {
			continue
		}
		if h.Name == fname && (h.Flag&(FlagWrite|FlagAppend)) != 0 {
			return true
		}
	}
	return false
}

// LiveReferences counts currently open handles whose cached directory
// entry offset equals direntOffset, matching k_is_file_still_open.
// Callers invoke this after removing their own handle from the table, so
// a zero result means no one else still has the file open.
func (t *handleTable) LiveReferences(direntOffset int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := 3; i < MaxHandles; i++ {
		h := t.handles[i]
		if h != nil && !h.isStdio && h.DirentOffset == direntOffset {
			n++
		}
	}
	return n
}
