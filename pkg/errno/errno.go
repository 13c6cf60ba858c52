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

// Package errno holds the PennOS process-wide last-error register.
//
// PennOS's cooperative scheduler runs at most one process's code at a time
// (see pkg/kernel), so a single package-level register faithfully mirrors
// the reference kernel's global P_ERRNO without needing to be threaded
// through every call.
package errno

import (
	"fmt"
	"sync/atomic"
)

// Errno is a PennOS kernel error code. The zero value, ENoErr, means "no
// error", matching the reference kernel's P_NO_ERR sentinel.
type Errno int32

// All PennOS error codes. Every system call maps to at least one of these.
const (
	ENoErr Errno = iota // No error

	// Generic errors.
	EPerm  // Operation not permitted
	EInval // Invalid argument
	ENoMem // Out of memory

	// Process-related errors.
	EPid    // Process does not exist
	EChild  // No child process available to wait on
	ESrch   // No such process
	EThread // Thread creation failed

	// File system-related errors.
	ENoEnt // No such file or directory
	EExist // File already exists
	EIsDir // Is a directory (when it should not be)
	EBadF  // Invalid file descriptor
	EIO    // I/O error
	ENoSpc // No space left on device
	ERoFS  // Read-only file system
	ENoDev // No such device (filesystem not mounted)
	ENFile // File table overflow
	EBusy  // Resource busy (e.g. single-writer violation)
	EAccess // Permission denied
	EMFile  // Too many open files

	// Signal errors.
	ESigInt
	ESigTstp

	// Other errors.
	ENameTooLong // File name too long
	E2Big        // Argument list too long

	errMax // sentinel: number of error codes, never a real error
)

var messages = [errMax]string{
	ENoErr:       "no error",
	EPerm:        "operation not permitted",
	EInval:       "invalid argument",
	ENoMem:       "out of memory",
	EPid:         "no such process",
	EChild:       "no child processes",
	ESrch:        "no such process",
	EThread:      "thread creation failed",
	ENoEnt:       "no such file or directory",
	EExist:       "file exists",
	EIsDir:       "is a directory",
	EBadF:        "bad file descriptor",
	EIO:          "input/output error",
	ENoSpc:       "no space left on device",
	ERoFS:        "read-only file system",
	ENoDev:       "filesystem not mounted",
	ENFile:       "too many open files in system",
	EBusy:        "resource busy",
	EAccess:      "permission denied",
	EMFile:       "too many open files",
	ESigInt:      "failed to install SIGINT handler",
	ESigTstp:     "failed to install SIGTSTP handler",
	ENameTooLong: "file name too long",
	E2Big:        "argument list too long",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if e < 0 || e >= errMax {
		return fmt.Sprintf("errno %d", int32(e))
	}
	return messages[e]
}

var last atomic.Int32

// Set records e as the last error observed by the currently running
// process. Syscalls call this before returning a failure indication.
func Set(e Errno) {
	last.Store(int32(e))
}

// Last returns the most recently set error code.
func Last() Errno {
	return Errno(last.Load())
}

// Perror formats the last error the way the reference kernel's u_perror and
// f_perror helpers do: "prefix: message" if prefix is non-empty, otherwise
// just "message".
func Perror(prefix string) string {
	msg := Last().Error()
	if prefix == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", prefix, msg)
}
