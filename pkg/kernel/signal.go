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
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"pennos/pkg/process"
)

// Signal is a guest signal delivered between PennOS processes, matching
// psignal_t. Unlike the host's signal set this is a closed four-value
// enum: PennOS programs only ever observe termination, stop, continue and
// child-state-change.
type Signal int

const (
	Terminate Signal = iota
	Stop
	Continue
	Child
)

// pendingHostSignal holds the last-seen host signal number, written only
// by the signal-handling goroutine and read/reset by checkHostSignals.
// It mirrors the C original's volatile int pending_host_signal, deferring
// all real work out of signal-handling context even though Go's signal
// delivery already happens on an ordinary goroutine.
var pendingHostSignal atomic.Int32

// installHostSignals starts relaying SIGINT, SIGTSTP and SIGQUIT into
// pendingHostSignal, matching setup_host_signals. It returns a stop
// function that should be called once during kernel teardown.
func installHostSignals() func() {
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTSTP, syscall.SIGQUIT)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				switch sig {
				case syscall.SIGINT:
					pendingHostSignal.Store(int32(syscall.SIGINT))
				case syscall.SIGTSTP:
					pendingHostSignal.Store(int32(syscall.SIGTSTP))
				case syscall.SIGQUIT:
					pendingHostSignal.Store(int32(syscall.SIGQUIT))
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// checkHostSignals drains pendingHostSignal and relays it to the terminal
// foreground process, matching k_check_host_signals. SIGINT maps to
// Terminate, SIGTSTP maps to Stop; SIGQUIT is reserved for a future
// guest-visible quit signal and is currently ignored, matching the
// reference handler's silent default case. Init is never a signal target.
func (k *Kernel) checkHostSignals() {
	signum := pendingHostSignal.Swap(0)
	if signum == 0 {
		return
	}

	fg := k.Procs.TerminalForeground()
	if fg == 0 || fg == process.PIDInit {
		return
	}

	var guest Signal
	switch syscall.Signal(signum) {
	case syscall.SIGINT:
		guest = Terminate
	case syscall.SIGTSTP:
		guest = Stop
	default:
		return
	}

	k.Deliver(fg, guest)
}

// Deliver sends a guest signal to pid, matching k_signal_deliver. It is
// the mechanism behind both the host-signal relay above and the kill
// system call.
func (k *Kernel) Deliver(pid uint16, sig Signal) {
	proc := k.Procs.Get(pid)
	if proc == nil {
		return
	}

	switch sig {
	case Terminate:
		if proc.State != process.Zombie {
			proc.ExitStatus = process.ExitSignaled
			k.Terminate(proc)
		}
	case Stop:
		if proc.State != process.Zombie {
			k.Stop(proc)
		}
	case Continue:
		if proc.State == process.Stopped {
			k.Continue(proc)
		}
	case Child:
		// Child state-change notification: waitpid polls process state
		// directly, so no action is needed here.
	}
}

// Terminate cancels proc's worker (if the exit was via a signal rather
// than a voluntary s_exit), removes it from every scheduling queue, and
// runs the zombie transition, matching k_terminate's handling of
// P_EXIT_SIGNALED combined with k_remove_from_queues. Callers (the kill
// relay above, and s_exit in pkg/syscalls) must set proc.ExitStatus
// before calling this.
func (k *Kernel) Terminate(proc *process.PCB) {
	if proc.ExitStatus == process.ExitSignaled {
		k.logEvent("SIGNALED", proc)
		if proc.Worker != nil {
			proc.Worker.Cancel()
		}
	}
	k.RemoveFromQueues(proc)
	if proc.PID != process.PIDInit {
		for _, cpid := range proc.Children {
			if child := k.Procs.Get(cpid); child != nil {
				k.logEvent("ORPHAN", child)
			}
		}
	}
	k.Procs.Terminate(proc, k.Unblock)
	k.logEvent("ZOMBIE", proc)
}
