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

package main

import (
	"pennos/pkg/job"
	"pennos/pkg/process"
	"pennos/pkg/syscalls"
)

// shellStandIn is the process init supervises in place of a real command
// shell (out of scope; see SPEC_FULL.md §1 Non-goals). It prints a
// banner, then idles, yielding every quantum, until shutdown is
// requested, so that init's respawn-on-exit and shutdown-observing logic
// has a concrete foreground process to drive.
func shellStandIn(s *syscalls.Syscalls, jobs *job.Table, proc *process.PCB, argv []string) any {
	s.Write(proc, 1, []byte("pennos: no shell built in this image; idling until shutdown\n"))
	for !s.K.Procs.ShutdownRequested() {
		proc.Worker.SuspendSelf()
	}
	return nil
}
