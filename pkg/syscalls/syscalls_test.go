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

package syscalls

import (
	"path/filepath"
	"testing"
	"time"

	"pennos/pkg/errno"
	"pennos/pkg/fat"
	"pennos/pkg/kernel"
	"pennos/pkg/process"
	"pennos/pkg/worker"
)

// newTestSyscalls mounts a scratch volume and boots a kernel plus an init
// PCB with stdio wired to the global handle table's reserved slots 0-2,
// matching k_start_init_process's fd_table[0..2] = 0,1,2 assignment.
func newTestSyscalls(t *testing.T) (*Syscalls, *process.PCB) {
	t.Helper()
	imgPath := filepath.Join(t.TempDir(), "fs.img")
	if err := fat.Format(imgPath, 4, 0); err != nil {
		t.Fatalf("Format: %v", err)
	}
	vol, err := fat.Mount(imgPath)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(func() { vol.Unmount() })

	procs := process.NewTable()
	k, err := kernel.New(procs, vol, filepath.Join(t.TempDir(), "log.txt"))
	if err != nil {
		t.Fatalf("kernel.New: %v", err)
	}
	t.Cleanup(k.Close)

	init := procs.Create(nil)
	init.FDTable[0], init.FDTable[1], init.FDTable[2] = 0, 1, 2
	init.Worker = worker.New(func(w *worker.Worker, arg any) any { return nil }, init)

	return New(k), init
}

// runToCompletion grants an already-spawned child one turn directly (no
// scheduler loop involved) and waits for its worker to finish, failing the
// test if it has not finished within a second.
func runToCompletion(t *testing.T, child *process.PCB) {
	t.Helper()
	child.Worker.Continue()
	select {
	case <-child.Worker.Done():
	case <-time.After(time.Second):
		t.Fatalf("worker for pid %d did not finish", child.PID)
	}
}

func TestSpawnRunsEntryAndLogsCreate(t *testing.T) {
	s, init := newTestSyscalls(t)

	var ran bool
	pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
		ran = true
		proc := arg.(*process.PCB)
		return s.Exit(proc)
	}, []string{"true"}, "", "", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	child := s.K.Procs.Get(pid)
	if child == nil {
		t.Fatalf("child %d missing from process table", pid)
	}
	runToCompletion(t, child)

	if !ran {
		t.Fatalf("entry never ran")
	}
	if child.State != process.Zombie {
		t.Fatalf("child.State = %v, want Zombie", child.State)
	}
	if child.ExitStatus != process.ExitExited {
		t.Fatalf("child.ExitStatus = %v, want ExitExited", child.ExitStatus)
	}
}

func TestSpawnStdoutRedirectionWritesFile(t *testing.T) {
	s, init := newTestSyscalls(t)

	pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
		proc := arg.(*process.PCB)
		s.Write(proc, 1, []byte("hello"))
		return s.Exit(proc)
	}, []string{"echo"}, "", "out.txt", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	child := s.K.Procs.Get(pid)
	runToCompletion(t, child)

	if child.FDTable[1] != init.FDTable[1] {
		t.Fatalf("stdout redirection cleanup did not restore FDTable[1]")
	}

	lines, err := s.Ls("out.txt")
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("Ls(out.txt) = %v, want one entry", lines)
	}
}

func TestWaitpidReapsZombieChild(t *testing.T) {
	s, init := newTestSyscalls(t)

	pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
		return s.Exit(arg.(*process.PCB))
	}, []string{"true"}, "", "", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	child := s.K.Procs.Get(pid)
	runToCompletion(t, child)

	gotPid, ws, err := s.Waitpid(init, -1, false)
	if err != nil {
		t.Fatalf("Waitpid: %v", err)
	}
	if gotPid != pid {
		t.Fatalf("Waitpid returned pid %d, want %d", gotPid, pid)
	}
	if ws != WExited {
		t.Fatalf("Waitpid wait status = %v, want WExited", ws)
	}
	if s.K.Procs.Get(pid) != nil {
		t.Fatalf("reaped child %d is still in the process table", pid)
	}
}

func TestWaitpidNoHangReturnsZeroWithoutBlocking(t *testing.T) {
	s, init := newTestSyscalls(t)

	pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
		w.SuspendSelf()
		return s.Exit(arg.(*process.PCB))
	}, []string{"sleep"}, "", "", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	child := s.K.Procs.Get(pid)
	child.Worker.Continue()
	time.Sleep(10 * time.Millisecond) // let the child reach SuspendSelf

	got, ws, err := s.Waitpid(init, -1, true)
	if err != nil {
		t.Fatalf("Waitpid(nohang): %v", err)
	}
	if got != 0 || ws != 0 {
		t.Fatalf("Waitpid(nohang) = (%d, %v), want (0, 0)", got, ws)
	}
}

func TestWaitpidNoChildrenReturnsECHILD(t *testing.T) {
	s, init := newTestSyscalls(t)
	if _, _, err := s.Waitpid(init, -1, true); err != errno.EChild {
		t.Fatalf("Waitpid with no children = %v, want EChild", err)
	}
}

func TestKillRefusesInit(t *testing.T) {
	s, _ := newTestSyscalls(t)
	if err := s.Kill(process.PIDInit, 0); err != errno.EPerm {
		t.Fatalf("Kill(PIDInit) = %v, want EPerm", err)
	}
}

func TestKillTerminateZombifiesChild(t *testing.T) {
	s, init := newTestSyscalls(t)
	pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
		w.SuspendSelf()
		return s.Exit(arg.(*process.PCB))
	}, []string{"cat"}, "", "", false)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	child := s.K.Procs.Get(pid)
	child.Worker.Continue()
	time.Sleep(10 * time.Millisecond)

	if err := s.Kill(pid, 0); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if child.State != process.Zombie {
		t.Fatalf("child.State = %v, want Zombie", child.State)
	}
	if child.ExitStatus != process.ExitSignaled {
		t.Fatalf("child.ExitStatus = %v, want ExitSignaled", child.ExitStatus)
	}
}

func TestOpenWriteReadRoundTripsThroughLocalFD(t *testing.T) {
	s, init := newTestSyscalls(t)

	fd, err := s.Open(init, "data.txt", fat.FlagWrite)
	if err != nil {
		t.Fatalf("Open(write): %v", err)
	}
	if fd < 3 {
		t.Fatalf("Open returned local fd %d, want >= 3", fd)
	}
	if _, err := s.Write(init, fd, []byte("payload")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(init, fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rfd, err := s.Open(init, "data.txt", fat.FlagRead)
	if err != nil {
		t.Fatalf("Open(read): %v", err)
	}
	buf := make([]byte, 16)
	n, err := s.Read(init, rfd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "payload" {
		t.Fatalf("Read = %q, want %q", buf[:n], "payload")
	}
}

func TestReadWriteBadLocalFD(t *testing.T) {
	s, init := newTestSyscalls(t)
	if _, err := s.Read(init, 5, make([]byte, 1)); err != errno.EBadF {
		t.Fatalf("Read(unopened fd) = %v, want EBadF", err)
	}
}

func TestNiceRejectsInvalidPriority(t *testing.T) {
	s, init := newTestSyscalls(t)
	if err := s.Nice(init.PID, 9); err != errno.EInval {
		t.Fatalf("Nice(invalid) = %v, want EInval", err)
	}
}

func TestShutdownSetsFlag(t *testing.T) {
	s, _ := newTestSyscalls(t)
	s.Shutdown()
	if !s.K.Procs.ShutdownRequested() {
		t.Fatalf("Shutdown did not set the process table's shutdown flag")
	}
}
