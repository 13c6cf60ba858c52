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

import (
	"bytes"
	"path/filepath"
	"testing"

	"pennos/pkg/errno"
)

func mustFormatMount(t *testing.T, blocksInFAT, blockSizeConfig int) (*Volume, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fs.img")
	if err := Format(path, blocksInFAT, blockSizeConfig); err != nil {
		t.Fatalf("Format: %v", err)
	}
	v, err := Mount(path)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return v, path
}

func TestFormatMountUnmountIdempotence(t *testing.T) {
	v, path := mustFormatMount(t, 2, 0)
	if err := v.Unmount(); err != nil {
		t.Fatalf("Unmount: %v", err)
	}

	v2, err := Mount(path)
	if err != nil {
		t.Fatalf("remount: %v", err)
	}
	lines, err := v2.Ls("")
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected empty directory after remount, got %v", lines)
	}
	v2.Unmount()
}

func TestWriteReadRoundTrip(t *testing.T) {
	v, _ := mustFormatMount(t, 2, 0)
	defer v.Unmount()

	fd, err := v.Open("greeting.txt", FlagWrite)
	if err != nil {
		t.Fatalf("Open write: %v", err)
	}
	payload := []byte("hello, pennfat")
	n, err := v.Write(fd, payload)
	if err != nil || n != len(payload) {
		t.Fatalf("Write = %d, %v, want %d, nil", n, err, len(payload))
	}
	if err := v.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rfd, err := v.Open("greeting.txt", FlagRead)
	if err != nil {
		t.Fatalf("Open read: %v", err)
	}
	buf := make([]byte, 64)
	n, err = v.Read(rfd, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(buf[:n], payload) {
		t.Fatalf("Read = %q, want %q", buf[:n], payload)
	}
	v.Close(rfd)
}

func TestChmodAddRemoveAssign(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	fd, err := v.Open("f", FlagWrite)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	v.Close(fd)

	if err := v.Chmod("f", 0x40|PermWrite); err != nil { // remove write
		t.Fatalf("Chmod remove: %v", err)
	}
	if _, err := v.Open("f", FlagWrite); err == nil {
		t.Fatalf("expected write open to fail after chmod -w")
	}

	if err := v.Chmod("f", 0x80|PermWrite); err != nil { // add write back
		t.Fatalf("Chmod add: %v", err)
	}
	fd2, err := v.Open("f", FlagWrite)
	if err != nil {
		t.Fatalf("Open after chmod +w: %v", err)
	}
	v.Close(fd2)

	if err := v.Chmod("f", 0x20|PermRead); err != nil { // assign read-only
		t.Fatalf("Chmod assign: %v", err)
	}
	if _, err := v.Open("f", FlagWrite); err == nil {
		t.Fatalf("expected write open to fail after chmod =r")
	}
}

func TestRenameRoundTrip(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	fd, _ := v.Open("a", FlagWrite)
	v.Write(fd, []byte("x"))
	v.Close(fd)

	if err := v.Rename("a", "b"); err != nil {
		t.Fatalf("Rename a->b: %v", err)
	}
	if _, err := v.Open("a", FlagRead); err == nil {
		t.Fatalf("expected a to no longer exist")
	}
	if err := v.Rename("b", "a"); err != nil {
		t.Fatalf("Rename b->a: %v", err)
	}
	rfd, err := v.Open("a", FlagRead)
	if err != nil {
		t.Fatalf("Open a after rename back: %v", err)
	}
	v.Close(rfd)
}

func TestWriteExactlyOneBlock(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0) // block size 256
	defer v.Unmount()

	fd, _ := v.Open("block.txt", FlagWrite)
	data := bytes.Repeat([]byte{'z'}, v.blockSize)
	n, err := v.Write(fd, data)
	if err != nil || n != len(data) {
		t.Fatalf("Write = %d, %v", n, err)
	}
	v.Close(fd)

	// First block allocated, chain should terminate at EOF right after it.
	_, off := v.findFile("block.txt")
	d, err := v.readDirent(off)
	if err != nil {
		t.Fatalf("readDirent: %v", err)
	}
	if d.FirstBlock == 0 || v.entry(d.FirstBlock) != eofBlock {
		t.Fatalf("chain from block %d is not exactly one block long", d.FirstBlock)
	}
}

func TestLseekPastEndThenClosePersistsSize(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	fd, _ := v.Open("sparse.txt", FlagWrite)
	if err := v.Lseek(fd, 100, SeekSet); err != nil {
		t.Fatalf("Lseek: %v", err)
	}
	if err := v.Close(fd); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines, err := v.Ls("sparse.txt")
	if err != nil {
		t.Fatalf("Ls: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one entry, got %d", len(lines))
	}

	var size uint32
	if err := v.ScanDir("sparse.txt", func(d DirEntry) { size = d.Size }); err != nil {
		t.Fatalf("ScanDir: %v", err)
	}
	if size != 100 {
		t.Fatalf("persisted size = %d, want 100", size)
	}
}

func TestSecondOpenForWriteBusy(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	fd1, err := v.Open("w.txt", FlagWrite)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	defer v.Close(fd1)

	if _, err := v.Open("w.txt", FlagWrite); err != errno.EBusy {
		t.Fatalf("second writer open = %v, want EBusy", err)
	}
}

func TestUnlinkWhileOpenReadStillSucceeds(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	wfd, _ := v.Open("u.txt", FlagWrite)
	v.Write(wfd, []byte("data"))
	v.Close(wfd)

	rfd, err := v.Open("u.txt", FlagRead)
	if err != nil {
		t.Fatalf("open for read: %v", err)
	}

	if err := v.Unlink("u.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}

	buf := make([]byte, 16)
	n, err := v.Read(rfd, buf)
	if err != nil || n != 4 {
		t.Fatalf("Read after unlink = %d, %v, want 4, nil", n, err)
	}
	v.Close(rfd)

	if _, err := v.Open("u.txt", FlagRead); err == nil {
		t.Fatalf("expected open to fail after unlink+close")
	}
}

func TestUnlinkWhileOpenDoesNotOfferSlotToNewFile(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	wfd, _ := v.Open("a.txt", FlagWrite)
	v.Write(wfd, []byte("still alive"))
	v.Close(wfd)

	rfd, err := v.Open("a.txt", FlagRead)
	if err != nil {
		t.Fatalf("open a.txt for read: %v", err)
	}

	_, offA := v.findFile("a.txt")
	if err := v.Unlink("a.txt"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if found, _ := v.findFile("a.txt"); found {
		t.Fatalf("a.txt should no longer be findable by name after unlink")
	}
	if nameState(mustReadRec(t, v, offA)) != nameTombstone {
		t.Fatalf("a.txt's dirent should be tombstoned, not freed, while still open")
	}

	wfd2, err := v.Open("b.txt", FlagWrite)
	if err != nil {
		t.Fatalf("open b.txt: %v", err)
	}
	v.Write(wfd2, []byte("new file"))
	v.Close(wfd2)

	if nameState(mustReadRec(t, v, offA)) != nameTombstone {
		t.Fatalf("a.txt's tombstoned dirent was clobbered by creating b.txt")
	}

	buf := make([]byte, 32)
	n, err := v.Read(rfd, buf)
	if err != nil || string(buf[:n]) != "still alive" {
		t.Fatalf("Read a.txt through still-open handle = %q, %v, want %q, nil", buf[:n], err, "still alive")
	}
	v.Close(rfd)

	if _, err := v.Open("a.txt", FlagRead); err == nil {
		t.Fatalf("expected a.txt to be gone after its last handle closed")
	}
}

func mustReadRec(t *testing.T, v *Volume, off int64) []byte {
	t.Helper()
	rec := make([]byte, DirEntrySize)
	if _, err := v.file.ReadAt(rec, off); err != nil {
		t.Fatalf("ReadAt dirent: %v", err)
	}
	return rec
}

func TestCopyP2P(t *testing.T) {
	v, _ := mustFormatMount(t, 1, 0)
	defer v.Unmount()

	fd, _ := v.Open("src", FlagWrite)
	v.Write(fd, []byte("copy me"))
	v.Close(fd)

	if err := v.Copy("src", "dst", false, false); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	rfd, _ := v.Open("dst", FlagRead)
	buf := make([]byte, 32)
	n, _ := v.Read(rfd, buf)
	if string(buf[:n]) != "copy me" {
		t.Fatalf("dst content = %q, want %q", buf[:n], "copy me")
	}
	v.Close(rfd)
}
