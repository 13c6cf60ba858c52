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

// Command pennos boots the PennOS kernel over an on-disk FAT volume,
// matching pennos.c's main: mount the filesystem, start the init
// process, run the scheduler until shutdown, then unmount.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"pennos/pkg/fat"
	"pennos/pkg/initproc"
	"pennos/pkg/job"
	"pennos/pkg/kernel"
	"pennos/pkg/process"
	"pennos/pkg/syscalls"
)

// defaultLogFile matches LOG_FILENAME's "log/log.txt" default.
const defaultLogFile = "log/log.txt"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <fatfs_image> [log_fname]\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	fatfsImage := flag.Arg(0)
	logFile := defaultLogFile
	if flag.NArg() >= 2 {
		logFile = flag.Arg(1)
	}

	os.Exit(run(fatfsImage, logFile))
}

func run(fatfsImage, logFile string) int {
	vol, err := fat.Mount(fatfsImage)
	if err != nil {
		log.Printf("Failed to mount filesystem: %s: %v", fatfsImage, err)
		return 1
	}
	defer vol.Unmount()

	procs := process.NewTable()
	k, err := kernel.New(procs, vol, logFile)
	if err != nil {
		log.Printf("Failed to initialize kernel: %v", err)
		return 1
	}

	s := syscalls.New(k)
	jobs := job.NewTable()
	initproc.Boot(s, jobs, shellStandIn)

	ctx := context.Background()
	if err := k.Supervise(ctx); err != nil {
		log.Printf("scheduler: %v", err)
	}

	return 0
}
