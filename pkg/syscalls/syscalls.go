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

// Package syscalls is the user-facing facade over pkg/kernel, pkg/process
// and pkg/fat, matching syscall.h/syscall.c's s_* entry points. Every
// call takes the calling process's *process.PCB explicitly, since unlike
// the reference kernel (which recovers the caller from thread-local
// state via get_current_process) a PennOS process here is identified by
// the PCB its own goroutine is closed over.
package syscalls

import (
	"pennos/pkg/errno"
	"pennos/pkg/fat"
	"pennos/pkg/kernel"
	"pennos/pkg/process"
	"pennos/pkg/worker"
)

// WaitStatus mirrors the W_EXITED/W_SIGNALED/W_STOPPED bitmask s_waitpid
// reports through wstatus.
type WaitStatus int

const (
	WExited   WaitStatus = 1 << 0
	WSignaled WaitStatus = 1 << 1
	WStopped  WaitStatus = 1 << 2
)

// Syscalls wraps a Kernel and exposes PennOS's system call surface.
type Syscalls struct {
	K *kernel.Kernel
}

// New returns a Syscalls facade over k.
func New(k *kernel.Kernel) *Syscalls {
	return &Syscalls{K: k}
}

// Spawn creates a child of caller running entry, matching s_spawn. The
// child's own *process.PCB is what entry receives as its arg (PennOS
// commands reach their argv through child.Args rather than a raw argv
// pointer, since every syscall already needs the caller's PCB to reach
// its FDTable). stdinFile/stdoutFile are redirection targets ("" means
// no redirection); append controls whether stdoutFile is truncated or
// appended.
func (s *Syscalls) Spawn(caller *process.PCB, entry worker.Entry, argv []string, stdinFile, stdoutFile string, appnd bool) (uint16, error) {
	child := s.K.Procs.Create(caller)
	if child == nil {
		errno.Set(errno.ENoMem)
		return 0, errno.ENoMem
	}
	child.Priority = 1

	if len(argv) > 0 {
		child.CmdName = argv[0]
	} else {
		child.CmdName = "<unknown>"
	}
	child.Args = append([]string(nil), argv...)

	s.K.LogSimple("CREATE", child.PID, child.Priority, child.CmdName)

	wrapped := entry
	if stdinFile != "" || stdoutFile != "" {
		wrapped = s.redirectingEntry(entry, stdinFile, stdoutFile, appnd)
	}

	child.Worker = worker.New(wrapped, child)
	child.State = process.Ready
	s.K.Enqueue(child)
	return child.PID, nil
}

// redirectingEntry wraps entry so that, before it runs, stdout is opened
// first (so truncation happens ahead of any stdin read), then stdin,
// matching spawn_wrapper's ordering. A cleanup restoring the caller's
// original FDTable[0]/FDTable[1] is pushed so it runs even if the process
// is canceled mid-call, matching spawn_cleanup registered via
// pthread_cleanup_push.
func (s *Syscalls) redirectingEntry(entry worker.Entry, stdinFile, stdoutFile string, appnd bool) worker.Entry {
	return func(w *worker.Worker, arg any) any {
		proc := arg.(*process.PCB)

		if stdinFile != "" && stdoutFile != "" && appnd && stdinFile == stdoutFile {
			s.writeStderr(proc, "Error: Input and output files cannot be the same in append mode.\n")
			return s.Exit(proc)
		}

		savedStdin, savedStdout := proc.FDTable[0], proc.FDTable[1]
		w.PushCleanup(func() {
			if stdinFile != "" {
				if proc.FDTable[0] >= 0 && proc.FDTable[0] != savedStdin {
					s.closeLocal(proc, 0)
				}
				proc.FDTable[0] = savedStdin
			}
			if stdoutFile != "" {
				if proc.FDTable[1] >= 0 && proc.FDTable[1] != savedStdout {
					s.closeLocal(proc, 1)
				}
				proc.FDTable[1] = savedStdout
			}
		})

		if stdoutFile != "" {
			mode := uint8(fat.FlagWrite)
			if appnd {
				mode = fat.FlagAppend
			}
			if _, err := s.openInto(proc, 1, stdoutFile, mode); err != nil {
				s.writeStderr(proc, errno.Perror(stdoutFile)+"\n")
				return s.Exit(proc)
			}
		}
		if stdinFile != "" {
			if _, err := s.openInto(proc, 0, stdinFile, fat.FlagRead); err != nil {
				s.writeStderr(proc, errno.Perror(stdinFile)+"\n")
				return s.Exit(proc)
			}
		}

		return entry(w, arg)
	}
}

// openInto opens fname and installs the resulting kernel fd directly at
// proc's local slot localFD, moving any fd Open happened to land at into
// that slot, matching spawn_wrapper's "move the new fd to stdout/stdin
// position if it's not already there" dance.
func (s *Syscalls) openInto(proc *process.PCB, localFD int, fname string, mode uint8) (int, error) {
	newFD, err := s.Open(proc, fname, mode)
	if err != nil {
		return -1, err
	}
	if newFD != localFD {
		proc.FDTable[localFD] = proc.FDTable[newFD]
		proc.FDTable[newFD] = -1
	}
	return localFD, nil
}

func (s *Syscalls) writeStderr(proc *process.PCB, msg string) {
	s.K.Volume.Write(2, []byte(msg))
}

func (s *Syscalls) closeLocal(proc *process.PCB, localFD int) {
	if localFD < 0 || localFD >= process.MaxFD || proc.FDTable[localFD] < 0 {
		return
	}
	s.K.Volume.Close(proc.FDTable[localFD])
	proc.FDTable[localFD] = -1
}

// Waitpid blocks caller until a child matching pid (-1 for any child)
// changes state, matching s_waitpid. nohang makes it return (0, nil)
// immediately if no child has changed state yet.
func (s *Syscalls) Waitpid(caller *process.PCB, pid int32, nohang bool) (uint16, WaitStatus, error) {
	if len(caller.Children) == 0 {
		errno.Set(errno.EChild)
		return 0, 0, errno.EChild
	}

	for {
		for _, cpid := range caller.Children {
			if pid != -1 && uint16(pid) != cpid {
				continue
			}
			child := s.K.Procs.Get(cpid)
			if child == nil {
				continue
			}

			if child.State == process.Zombie {
				var ws WaitStatus
				switch child.ExitStatus {
				case process.ExitExited:
					ws = WExited
				case process.ExitSignaled:
					ws = WSignaled
				case process.ExitStopped:
					ws = WStopped
				}
				s.K.LogSimple("WAITED", cpid, child.Priority, child.CmdName)
				s.K.Procs.ReapZombie(caller, cpid)
				return cpid, ws, nil
			}

			if child.State == process.Stopped && !child.StoppedReported {
				child.StoppedReported = true
				return cpid, WStopped, nil
			}
		}

		if nohang {
			return 0, 0, nil
		}

		caller.WakeTick = 0
		s.K.Block(caller)
		caller.Worker.SuspendSelf()
	}
}

// Kill sends signal (0=Terminate, 1=Stop, 2=Continue) to pid, matching
// s_kill. PID 1 (init) may never be killed.
func (s *Syscalls) Kill(pid uint16, signal int) error {
	if pid == process.PIDInit {
		errno.Set(errno.EPerm)
		return errno.EPerm
	}
	target := s.K.Procs.Get(pid)
	if target == nil {
		errno.Set(errno.ESrch)
		return errno.ESrch
	}

	var sig kernel.Signal
	switch signal {
	case 0:
		sig = kernel.Terminate
		target.ExitStatus = process.ExitSignaled
	case 1:
		sig = kernel.Stop
	case 2:
		sig = kernel.Continue
	default:
		errno.Set(errno.EInval)
		return errno.EInval
	}

	s.K.Deliver(pid, sig)
	return nil
}

// Exit unconditionally terminates caller, matching s_exit. It returns the
// value Join should observe; callers invoke this as the final statement
// of a worker.Entry so its result flows through to ExitSelf.
func (s *Syscalls) Exit(caller *process.PCB) any {
	caller.ExitStatus = process.ExitExited
	s.K.LogSimple("EXITED", caller.PID, caller.Priority, caller.CmdName)
	s.K.Terminate(caller)
	return caller.Worker.ExitSelf(nil)
}

// Nice sets pid's scheduling priority, matching s_nice.
func (s *Syscalls) Nice(pid uint16, priority int) error {
	if priority < 0 || priority >= kernel.NumPrio {
		errno.Set(errno.EInval)
		return errno.EInval
	}
	target := s.K.Procs.Get(pid)
	if target == nil {
		errno.Set(errno.ESrch)
		return errno.ESrch
	}
	s.K.SetPriority(target, priority)
	return nil
}

// Sleep blocks caller for ticks clock ticks, matching s_sleep. The loop
// re-checks WakeTick after every wake so a STOP/CONT in the middle of the
// sleep (which wakes the process without clearing WakeTick) does not cut
// the sleep short, only an actual elapsed-time wake (WakeTick reset to 0
// by TickSleepCheck) or a SIGTERM-driven cancellation does.
func (s *Syscalls) Sleep(caller *process.PCB, ticks uint64) {
	if ticks == 0 {
		return
	}
	caller.WakeTick = s.K.Tick() + ticks
	for caller.WakeTick > 0 && s.K.Tick() < caller.WakeTick {
		s.K.Block(caller)
		caller.Worker.SuspendSelf()
	}
}

// Getpid returns caller's PID, matching s_getpid.
func (s *Syscalls) Getpid(caller *process.PCB) uint16 {
	return caller.PID
}

// GetAllProcesses returns every live PCB, matching s_get_all_process.
func (s *Syscalls) GetAllProcesses() []*process.PCB {
	return s.K.Procs.All()
}

// Shutdown requests PennOS-wide shutdown, matching s_shutdown.
func (s *Syscalls) Shutdown() {
	s.K.Volume.Write(2, []byte("Shutdown requested. PennOS will terminate.\n"))
	s.K.Procs.RequestShutdown()
}

// --- FS passthroughs, routed through the calling process's FDTable ---

// Open opens fname and installs it at the lowest free local fd >= 3 in
// caller's FDTable, matching s_open.
func (s *Syscalls) Open(caller *process.PCB, fname string, mode uint8) (int, error) {
	kfd, err := s.K.Volume.Open(fname, mode)
	if err != nil {
		return -1, err
	}
	for i := 3; i < process.MaxFD; i++ {
		if caller.FDTable[i] < 0 {
			caller.FDTable[i] = kfd
			return i, nil
		}
	}
	s.K.Volume.Close(kfd)
	errno.Set(errno.EMFile)
	return -1, errno.EMFile
}

// Close closes caller's local fd, matching s_close.
func (s *Syscalls) Close(caller *process.PCB, fd int) error {
	if fd < 0 || fd >= process.MaxFD || caller.FDTable[fd] < 0 {
		errno.Set(errno.EBadF)
		return errno.EBadF
	}
	err := s.K.Volume.Close(caller.FDTable[fd])
	caller.FDTable[fd] = -1
	return err
}

// Read reads from caller's local fd into buf.
func (s *Syscalls) Read(caller *process.PCB, fd int, buf []byte) (int, error) {
	kfd, err := s.resolve(caller, fd)
	if err != nil {
		return -1, err
	}
	return s.K.Volume.Read(kfd, buf)
}

// Write writes data to caller's local fd.
func (s *Syscalls) Write(caller *process.PCB, fd int, data []byte) (int, error) {
	kfd, err := s.resolve(caller, fd)
	if err != nil {
		return -1, err
	}
	return s.K.Volume.Write(kfd, data)
}

// Lseek repositions caller's local fd.
func (s *Syscalls) Lseek(caller *process.PCB, fd int, offset int64, whence int) error {
	kfd, err := s.resolve(caller, fd)
	if err != nil {
		return err
	}
	return s.K.Volume.Lseek(kfd, offset, whence)
}

func (s *Syscalls) resolve(caller *process.PCB, fd int) (int, error) {
	if fd < 0 || fd >= process.MaxFD || caller.FDTable[fd] < 0 {
		errno.Set(errno.EBadF)
		return -1, errno.EBadF
	}
	return caller.FDTable[fd], nil
}

// Unlink removes fname, matching s_unlink.
func (s *Syscalls) Unlink(fname string) error {
	return s.K.Volume.Unlink(fname)
}

// Rename renames src to dest, matching s_mv.
func (s *Syscalls) Rename(src, dest string) error {
	return s.K.Volume.Rename(src, dest)
}

// Copy copies source to dest, matching s_cp's three modes.
func (s *Syscalls) Copy(source, dest string, fromHost, toHost bool) error {
	return s.K.Volume.Copy(source, dest, fromHost, toHost)
}

// Chmod updates fname's permission bits, matching s_chmod.
func (s *Syscalls) Chmod(fname string, op uint8) error {
	return s.K.Volume.Chmod(fname, op)
}

// Ls lists fname's directory entries, matching s_ls.
func (s *Syscalls) Ls(fname string) ([]string, error) {
	return s.K.Volume.Ls(fname)
}

// Cat streams inputs to caller's local output fd, matching s_cat.
func (s *Syscalls) Cat(caller *process.PCB, inputs []string, outputFD int) error {
	kfd, err := s.resolve(caller, outputFD)
	if err != nil {
		return err
	}
	return s.K.Volume.Cat(inputs, kfd)
}
