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

// Package initproc boots PennOS's PID-1 process: the process that spawns
// the shell, restarts it if it exits, reaps orphaned children, and
// terminates the system once shutdown is requested, matching process.c's
// k_start_init_process and k_INIT_main.
package initproc

import (
	"pennos/pkg/job"
	"pennos/pkg/process"
	"pennos/pkg/syscalls"
	"pennos/pkg/worker"
)

// ShellEntry is the shell's process body, given the same *process.PCB its
// worker.Entry would receive. argv is init's shell_argv ({"shell"}).
type ShellEntry func(s *syscalls.Syscalls, jobs *job.Table, proc *process.PCB, argv []string) any

// Boot creates PID 1 and enqueues it on k, matching k_start_init_process.
// The init process itself runs mainLoop (below) once scheduled.
func Boot(s *syscalls.Syscalls, jobs *job.Table, shell ShellEntry) *process.PCB {
	init := s.K.Procs.Create(nil)
	if init == nil {
		return nil
	}
	init.Priority = 0
	init.CmdName = "init"
	init.FDTable[0], init.FDTable[1], init.FDTable[2] = 0, 1, 2

	s.K.LogSimple("CREATE", init.PID, init.Priority, init.CmdName)

	init.Worker = worker.New(func(w *worker.Worker, arg any) any {
		return mainLoop(s, jobs, init, shell)
	}, init)
	init.State = process.Ready
	s.K.Enqueue(init)
	return init
}

// mainLoop matches k_INIT_main: spawn the shell at priority 0, then loop
// waiting for any child's state to change, restarting the shell if it
// exited and reaping everything else (orphans adopted from dead
// processes), until shutdown is requested.
func mainLoop(s *syscalls.Syscalls, jobs *job.Table, init *process.PCB, shell ShellEntry) any {
	shellArgv := []string{"shell"}

	spawnShell := func() (uint16, bool) {
		pid, err := s.Spawn(init, func(w *worker.Worker, arg any) any {
			proc := arg.(*process.PCB)
			shell(s, jobs, proc, shellArgv)
			return s.Exit(proc)
		}, shellArgv, "", "", false)
		if err != nil {
			s.Write(init, 2, []byte("init: failed to spawn shell\n"))
			return 0, false
		}
		s.Nice(pid, 0)
		return pid, true
	}

	shellPID, ok := spawnShell()
	if !ok {
		return s.Exit(init)
	}

	for {
		if s.K.Procs.ShutdownRequested() {
			s.Write(init, 2, []byte("Shutdown requested. Terminating PennOS...\n"))
			return s.Exit(init)
		}

		waitedPID, _, err := s.Waitpid(init, -1, false)
		if err != nil {
			return s.Exit(init)
		}

		if s.K.Procs.ShutdownRequested() {
			s.Write(init, 2, []byte("Shutdown requested. Terminating PennOS...\n"))
			return s.Exit(init)
		}

		if waitedPID == shellPID {
			pid, ok := spawnShell()
			if !ok {
				return s.Exit(init)
			}
			shellPID = pid
		}
		// Any other reaped pid was an orphan already adopted onto init and
		// reaped by Waitpid itself; nothing further to do.
	}
}
