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
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"pennos/pkg/errno"
)

// streamBufSize matches BUFFER_SIZE, the chunk size host<->PennFAT copies
// and cat's stream copies move at a time.
const streamBufSize = 4096

// Open finds or creates fname and installs a handle for it at the lowest
// free slot >= 3, matching k_open. mode is one of FlagRead, FlagWrite,
// FlagAppend.
func (v *Volume) Open(fname string, mode uint8) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return -1, errno.ENoDev
	}
	if mode != FlagRead && mode != FlagWrite && mode != FlagAppend {
		errno.Set(errno.EInval)
		return -1, errno.EInval
	}

	found, offset := v.findFile(fname)
	if !found && offset == -1 {
		var err error
		offset, err = v.extendRoot()
		if err != nil {
			return -1, err
		}
	}

	if found && (mode == FlagWrite || mode == FlagAppend) {
		if v.handles.HasWriter(fname) {
			errno.Set(errno.EBusy)
			return -1, errno.EBusy
		}
	}

	var (
		h   *Handle
		err error
	)
	switch mode {
	case FlagRead:
		h, err = v.openRead(fname, offset, found)
	case FlagWrite:
		h, err = v.openWrite(fname, offset, found)
	case FlagAppend:
		h, err = v.openAppend(fname, offset, found)
	}
	if err != nil {
		return -1, err
	}

	kfd := v.handles.AllocSlot(h)
	if kfd == -1 {
		errno.Set(errno.ENFile)
		return -1, errno.ENFile
	}
	return kfd, nil
}

func (v *Volume) readDirent(off int64) (DirEntry, error) {
	rec := make([]byte, DirEntrySize)
	if _, err := v.file.ReadAt(rec, off); err != nil {
		errno.Set(errno.EIO)
		return DirEntry{}, errors.Wrap(err, "reading directory entry")
	}
	return UnmarshalDirEntry(rec), nil
}

func (v *Volume) writeDirent(off int64, d DirEntry) error {
	rec := d.Marshal()
	if _, err := v.file.WriteAt(rec[:], off); err != nil {
		errno.Set(errno.EIO)
		return errors.Wrap(err, "writing directory entry")
	}
	return nil
}

func (v *Volume) openRead(fname string, offset int64, found bool) (*Handle, error) {
	if !found {
		errno.Set(errno.ENoEnt)
		return nil, errno.ENoEnt
	}
	d, err := v.readDirent(offset)
	if err != nil {
		return nil, err
	}
	if d.Type != TypeRegular {
		errno.Set(errno.EIsDir)
		return nil, errno.EIsDir
	}
	if d.Perm&PermRead == 0 {
		errno.Set(errno.EAccess)
		return nil, errno.EAccess
	}
	return &Handle{
		Name:         fname,
		Size:         d.Size,
		Perm:         d.Perm,
		FirstBlock:   d.FirstBlock,
		DirentOffset: offset,
		Flag:         FlagRead,
	}, nil
}

func (v *Volume) openWrite(fname string, offset int64, found bool) (*Handle, error) {
	var d DirEntry
	if !found {
		d = DirEntry{Name: fname, Type: TypeRegular, Perm: PermRead | PermWrite}
		if err := v.writeDirent(offset, d); err != nil {
			return nil, err
		}
	} else {
		var err error
		d, err = v.readDirent(offset)
		if err != nil {
			return nil, err
		}
		if d.Type != TypeRegular {
			errno.Set(errno.EIsDir)
			return nil, errno.EIsDir
		}
		if d.Perm&PermWrite == 0 {
			errno.Set(errno.EAccess)
			return nil, errno.EAccess
		}
		if d.Size > 0 {
			v.freeFATChain(d.FirstBlock)
			d.Size = 0
			d.FirstBlock = 0
			d.Mtime = newMtime()
			if err := v.writeDirent(offset, d); err != nil {
				return nil, err
			}
		}
	}
	return &Handle{
		Name:         fname,
		FirstBlock:   d.FirstBlock,
		DirentOffset: offset,
		Flag:         FlagWrite,
		Perm:         d.Perm,
	}, nil
}

func (v *Volume) openAppend(fname string, offset int64, found bool) (*Handle, error) {
	var d DirEntry
	if !found {
		d = DirEntry{Name: fname, Type: TypeRegular, Perm: PermRead | PermWrite}
		if err := v.writeDirent(offset, d); err != nil {
			return nil, err
		}
	} else {
		var err error
		d, err = v.readDirent(offset)
		if err != nil {
			return nil, err
		}
		if d.Type != TypeRegular {
			errno.Set(errno.EIsDir)
			return nil, errno.EIsDir
		}
		if d.Perm&PermWrite == 0 {
			errno.Set(errno.EAccess)
			return nil, errno.EAccess
		}
	}
	return &Handle{
		Name:         fname,
		Size:         d.Size,
		FirstBlock:   d.FirstBlock,
		DirentOffset: offset,
		Flag:         FlagAppend,
		Perm:         d.Perm,
		Offset:       uint64(d.Size),
	}, nil
}

// freeFATChain walks a block chain from first and marks every block free,
// matching k_free_fat_chain.
func (v *Volume) freeFATChain(first uint16) {
	blk := first
	for blk != 0 && blk != eofBlock {
		next := v.entry(blk)
		v.setEntry(blk, freeBlock)
		blk = next
	}
}

// updateDirent writes the handle's cached firstBlock/size/mtime back to
// its on-disk directory entry, matching k_update_dirent. Called whenever
// a write allocates the file's first block or grows it.
func (v *Volume) updateDirent(h *Handle) error {
	d, err := v.readDirent(h.DirentOffset)
	if err != nil {
		return err
	}
	d.FirstBlock = h.FirstBlock
	d.Size = h.Size
	d.Mtime = newMtime()
	return v.writeDirent(h.DirentOffset, d)
}

// Read reads up to len(buf) bytes from kfd into buf, matching k_read. kfd == 0 is
// delegated to host stdin.
func (v *Volume) Read(kfd int, buf []byte) (int, error) {
	if kfd == 0 {
		n, err := os.Stdin.Read(buf)
		if err != nil && err != io.EOF {
			return n, err
		}
		return n, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.handles.Get(kfd)
	if h == nil {
		errno.Set(errno.EBadF)
		return -1, errno.EBadF
	}
	if h.Flag&FlagRead == 0 {
		errno.Set(errno.EAccess)
		return -1, errno.EAccess
	}
	n := len(buf)
	if n <= 0 {
		return 0, nil
	}

	if h.Offset >= uint64(h.Size) {
		return 0, nil
	}
	if h.Offset+uint64(n) > uint64(h.Size) {
		n = int(uint64(h.Size) - h.Offset)
	}

	blockIndex := int(h.Offset) / v.blockSize
	bytesInBlock := int(h.Offset) % v.blockSize

	blk := h.FirstBlock
	for i := 0; i < blockIndex; i++ {
		blk = v.entry(blk)
		if blk == eofBlock || blk == 0 {
			errno.Set(errno.EInval)
			return -1, errno.EInval
		}
	}

	total := 0
	for total < n {
		if blk == eofBlock {
			break
		}
		remainingInBlock := v.blockSize - bytesInBlock
		remainingRequested := n - total
		toRead := remainingInBlock
		if remainingRequested < toRead {
			toRead = remainingRequested
		}

		off := v.blockOffset(blk) + int64(bytesInBlock)
		step, err := v.file.ReadAt(buf[total:total+toRead], off)
		if step <= 0 {
			if total > 0 {
				return total, nil
			}
			if err != nil && err != io.EOF {
				return -1, errors.Wrap(err, "reading file data")
			}
			return step, nil
		}
		total += step

		if total < n {
			blk = v.entry(blk)
			bytesInBlock = 0
		}
	}
	h.Offset += uint64(total)
	return total, nil
}

// Write writes up to len(data) bytes to kfd at its current offset,
// allocating and chaining new blocks as needed, matching k_write. kfd == 1
// or 2 is delegated to host stdout/stderr.
func (v *Volume) Write(kfd int, data []byte) (int, error) {
	if kfd == 1 {
		return os.Stdout.Write(data)
	}
	if kfd == 2 {
		return os.Stderr.Write(data)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	h := v.handles.Get(kfd)
	if h == nil {
		errno.Set(errno.EBadF)
		return -1, errno.EBadF
	}
	if h.Flag&(FlagWrite|FlagAppend) == 0 {
		errno.Set(errno.EAccess)
		return -1, errno.EAccess
	}
	n := len(data)
	if n <= 0 {
		return 0, nil
	}

	oldSize := h.Size
	blk := h.FirstBlock
	blockIndex := int(h.Offset) / v.blockSize
	byteInBlock := int(h.Offset) % v.blockSize

	checkHasBlock := byteInBlock == 0 && h.Offset > 0
	if blk != 0 {
		for i := 0; i < blockIndex; i++ {
			if checkHasBlock && i == blockIndex-1 && v.entry(blk) == eofBlock {
				byteInBlock = v.blockSize
				break
			}
			blk = v.entry(blk)
			if blk == eofBlock || blk == 0 {
				errno.Set(errno.EInval)
				return -1, errno.EInval
			}
		}
	}

	total := 0
	for total < n {
		if blk == 0 || byteInBlock == v.blockSize {
			next := v.findFreeBlock()
			if next == 0 {
				errno.Set(errno.ENoSpc)
				break
			}
			if blk == 0 {
				h.FirstBlock = next
				if err := v.updateDirent(h); err != nil {
					return total, err
				}
			} else {
				v.setEntry(blk, next)
			}
			blk = next
			v.setEntry(blk, eofBlock)
			byteInBlock = 0
		}

		remainingInBlock := v.blockSize - byteInBlock
		remainingRequested := n - total
		toWrite := remainingInBlock
		if remainingRequested < toWrite {
			toWrite = remainingRequested
		}

		off := v.blockOffset(blk) + int64(byteInBlock)
		step, err := v.file.WriteAt(data[total:total+toWrite], off)
		if step <= 0 {
			if total > 0 {
				break
			}
			return -1, errors.Wrap(err, "writing file data")
		}
		total += step
		byteInBlock += step
	}

	h.Offset += uint64(total)
	if h.Offset > uint64(oldSize) {
		h.Size = uint32(h.Offset)
		if err := v.updateDirent(h); err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close writes back a write/append handle's cached size and mtime,
// resolves a pending unlink tombstone if this was the last reference, and
// releases the slot, matching k_close.
func (v *Volume) Close(kfd int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	h := v.handles.Get(kfd)
	if h == nil {
		errno.Set(errno.EBadF)
		return errno.EBadF
	}
	if kfd <= 2 {
		v.handles.FreeSlot(kfd)
		return nil
	}

	v.handles.FreeSlot(kfd)

	rec := make([]byte, DirEntrySize)
	if _, err := v.file.ReadAt(rec, h.DirentOffset); err != nil {
		errno.Set(errno.EIO)
		return errors.Wrap(err, "reading directory entry")
	}
	d := UnmarshalDirEntry(rec)

	if h.Flag&(FlagWrite|FlagAppend) != 0 {
		d.Size = h.Size
		d.Mtime = newMtime()
	}

	out := d.Marshal()
	if nameState(rec) == nameTombstone {
		if v.handles.LiveReferences(h.DirentOffset) == 0 {
			v.freeFATChain(d.FirstBlock)
			out[0] = nameDeleted
		} else {
			out[0] = nameTombstone
		}
	}

	if _, err := v.file.WriteAt(out[:], h.DirentOffset); err != nil {
		errno.Set(errno.EIO)
		return errors.Wrap(err, "writing directory entry")
	}
	return nil
}

// setNameState writes just the name-state control byte (0 end, 1 deleted,
// 2 tombstoned) at a directory entry's offset, leaving the rest of the
// record untouched.
func (v *Volume) setNameState(off int64, state byte) error {
	if _, err := v.file.WriteAt([]byte{state}, off); err != nil {
		errno.Set(errno.EIO)
		return errors.Wrap(err, "writing directory entry state")
	}
	return nil
}

// Unlink removes fname from the root directory, matching k_unlink: if no
// handle currently references it, the FAT chain is freed and the entry is
// marked truly deleted; otherwise it is tombstoned so Close can finish the
// job once the last reference goes away.
func (v *Volume) Unlink(fname string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	found, offset := v.findFile(fname)
	if !found {
		errno.Set(errno.ENoEnt)
		return errno.ENoEnt
	}
	d, err := v.readDirent(offset)
	if err != nil {
		return err
	}
	if d.Type == TypeDir {
		errno.Set(errno.EIsDir)
		return errno.EIsDir
	}

	if v.handles.LiveReferences(offset) > 0 {
		return v.setNameState(offset, nameTombstone)
	}
	v.freeFATChain(d.FirstBlock)
	return v.setNameState(offset, nameDeleted)
}

// Lseek repositions kfd's offset, matching k_lseek. A write/append handle
// whose new position exceeds its cached size bumps that cached size
// without allocating any blocks; allocation happens lazily in Write.
func (v *Volume) Lseek(kfd int, offset int64, whence int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	h := v.handles.Get(kfd)
	if h == nil {
		errno.Set(errno.EBadF)
		return errno.EBadF
	}

	var newPos int64
	switch whence {
	case SeekSet:
		newPos = offset
	case SeekCur:
		newPos = int64(h.Offset) + offset
	case SeekEnd:
		newPos = int64(h.Size) + offset
	default:
		errno.Set(errno.EInval)
		return errno.EInval
	}
	if newPos < 0 {
		errno.Set(errno.EInval)
		return errno.EInval
	}

	if newPos > int64(h.Size) && h.Flag&(FlagWrite|FlagAppend) != 0 {
		h.Size = uint32(newPos)
	}
	h.Offset = uint64(newPos)
	return nil
}

// Chmod applies a chmod op-byte to fname's permission bits, matching
// k_chmod_update. High bits of op select add (0x80), remove (0x40), or
// assign (0x20); no high bit set means numeric assign, the original's
// fallback convention. The low three bits are the r/w/x mask.
func (v *Volume) Chmod(fname string, op uint8) error {
	const (
		opAdd    = 0x80
		opRemove = 0x40
		opAssign = 0x20
		valMask  = 0x07
	)

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	found, offset := v.findFile(fname)
	if !found {
		errno.Set(errno.ENoEnt)
		return errno.ENoEnt
	}
	d, err := v.readDirent(offset)
	if err != nil {
		return err
	}

	switch {
	case op&opAdd != 0:
		d.Perm |= op & valMask
	case op&opRemove != 0:
		d.Perm &^= op & valMask
	case op&opAssign != 0:
		d.Perm = op & valMask
	default:
		d.Perm = op & valMask
	}
	d.Mtime = newMtime()
	return v.writeDirent(offset, d)
}

// CheckExecutable reports whether fname exists, is a regular file, and
// has the execute bit set, matching k_check_executable.
func (v *Volume) CheckExecutable(fname string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	found, offset := v.findFile(fname)
	if !found {
		errno.Set(errno.ENoEnt)
		return errno.ENoEnt
	}
	d, err := v.readDirent(offset)
	if err != nil {
		return err
	}
	if d.Type != TypeRegular {
		errno.Set(errno.EIsDir)
		return errno.EIsDir
	}
	if d.Perm&PermExec == 0 {
		errno.Set(errno.EAccess)
		return errno.EAccess
	}
	return nil
}

// Rename renames source to dest in place (no block movement), matching
// k_mv: if dest already exists, it is unlinked first (requires dest write
// permission); source requires read permission.
func (v *Volume) Rename(source, dest string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}
	found, srcOff := v.findFile(source)
	if !found {
		errno.Set(errno.ENoEnt)
		return errno.ENoEnt
	}
	src, err := v.readDirent(srcOff)
	if err != nil {
		return err
	}
	if src.Perm&PermRead == 0 {
		errno.Set(errno.EAccess)
		return errno.EAccess
	}
	src.Name = dest
	src.Mtime = newMtime()

	if destFound, destOff := v.findFile(dest); destFound {
		destEntry, err := v.readDirent(destOff)
		if err != nil {
			return err
		}
		if destEntry.Perm&PermWrite == 0 {
			errno.Set(errno.EAccess)
			return errno.EAccess
		}
		if err := v.unlinkLocked(dest, destOff); err != nil {
			return err
		}
	}

	return v.writeDirent(srcOff, src)
}

// unlinkLocked is Unlink's body, callable while v.mu is already held (used
// by Rename to replace an existing destination).
func (v *Volume) unlinkLocked(fname string, offset int64) error {
	d, err := v.readDirent(offset)
	if err != nil {
		return err
	}
	if v.handles.LiveReferences(offset) > 0 {
		return v.setNameState(offset, nameTombstone)
	}
	v.freeFATChain(d.FirstBlock)
	return v.setNameState(offset, nameDeleted)
}

// ScanDir invokes visit for every live directory entry. If fname is
// non-empty, only that entry is visited. Matches k_scan_dir.
func (v *Volume) ScanDir(fname string, visit func(DirEntry)) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}

	if fname != "" {
		found, offset := v.findFile(fname)
		if !found {
			errno.Set(errno.ENoEnt)
			return errno.ENoEnt
		}
		d, err := v.readDirent(offset)
		if err != nil {
			return err
		}
		visit(d)
		return nil
	}

	blk := uint16(1)
	for blk != eofBlock {
		base := v.blockOffset(blk)
		for i := 0; i < v.entriesPerBlk; i++ {
			off := base + int64(i)*DirEntrySize
			rec := make([]byte, DirEntrySize)
			if _, err := v.file.ReadAt(rec, off); err != nil {
				errno.Set(errno.EIO)
				return errors.Wrap(err, "scanning directory")
			}
			switch nameState(rec) {
			case nameFreeOrEnd:
				return nil
			case nameDeleted, nameTombstone:
				continue
			}
			visit(UnmarshalDirEntry(rec))
		}
		blk = v.entry(blk)
	}
	return nil
}

// Ls formats entries the way k_format_dirent/k_print_dirent do: first
// block (or blank if unallocated), rwx mode string, size, mtime, name.
func (v *Volume) Ls(fname string) ([]string, error) {
	var lines []string
	err := v.ScanDir(fname, func(d DirEntry) {
		lines = append(lines, formatDirent(d))
	})
	return lines, err
}

func formatDirent(d DirEntry) string {
	if d.Name == "." {
		return ""
	}
	var blk string
	if d.FirstBlock == 0 {
		blk = "      "
	} else {
		blk = fmt.Sprintf("%5d ", d.FirstBlock)
	}
	mode := []byte("----")
	if d.Type == TypeDir {
		mode[0] = 'd'
	}
	if d.Perm&PermRead != 0 {
		mode[1] = 'r'
	}
	if d.Perm&PermWrite != 0 {
		mode[2] = 'w'
	}
	if d.Perm&PermExec != 0 {
		mode[3] = 'x'
	}
	mtime := timeFormat(d.Mtime)
	return fmt.Sprintf("%s%s %10d %s %s\n", blk, mode, d.Size, mtime, d.Name)
}

// Copy implements cp's three modes: PennFAT-to-PennFAT (P2P), host-to-
// PennFAT (H2P), and PennFAT-to-host (P2H), matching k_cp and its static
// helpers copy_stream_content / k_host_read_to_pennfat_write /
// k_pennfat_read_to_host_write.
func (v *Volume) Copy(source, dest string, fromHost, toHost bool) error {
	switch {
	case !fromHost && !toHost:
		srcFD, err := v.Open(source, FlagRead)
		if err != nil {
			return err
		}
		defer v.Close(srcFD)
		dstFD, err := v.Open(dest, FlagWrite)
		if err != nil {
			return err
		}
		defer v.Close(dstFD)
		return v.streamCopy(srcFD, dstFD)

	case fromHost && !toHost:
		dstFD, err := v.Open(dest, FlagWrite)
		if err != nil {
			return err
		}
		defer v.Close(dstFD)
		hostFile, err := os.Open(source)
		if err != nil {
			errno.Set(errno.EIO)
			return errors.Wrap(err, "opening host source")
		}
		defer hostFile.Close()
		buf := make([]byte, streamBufSize)
		for {
			n, rerr := hostFile.Read(buf)
			if n > 0 {
				if _, werr := v.Write(dstFD, buf[:n]); werr != nil {
					return werr
				}
			}
			if rerr == io.EOF {
				return nil
			}
			if rerr != nil {
				errno.Set(errno.EIO)
				return errors.Wrap(rerr, "reading host source")
			}
		}

	default: // !fromHost && toHost
		srcFD, err := v.Open(source, FlagRead)
		if err != nil {
			return err
		}
		defer v.Close(srcFD)
		hostFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o666)
		if err != nil {
			errno.Set(errno.EIO)
			return errors.Wrap(err, "creating host destination")
		}
		defer hostFile.Close()
		buf := make([]byte, streamBufSize)
		for {
			n, rerr := v.Read(srcFD, buf)
			if n > 0 {
				if _, werr := hostFile.Write(buf[:n]); werr != nil {
					errno.Set(errno.EIO)
					return errors.Wrap(werr, "writing host destination")
				}
			}
			if n == 0 {
				return nil
			}
			if rerr != nil {
				return rerr
			}
		}
	}
}

// streamCopy copies src to dst streamBufSize bytes at a time, matching
// copy_stream_content.
func (v *Volume) streamCopy(srcFD, dstFD int) error {
	buf := make([]byte, streamBufSize)
	for {
		n, err := v.Read(srcFD, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if _, err := v.Write(dstFD, buf[:n]); err != nil {
			return err
		}
	}
}

// Cat streams each input in turn to the output handle, continuing past a
// per-input open failure (matching k_cat's success-propagation behavior)
// and returning the first such error at the end. It stops immediately on
// an error while streaming an input to the output (read or write side)
// and returns that error.
func (v *Volume) Cat(inputs []string, outputFD int) error {
	if len(inputs) == 0 {
		return v.streamCopy(0, outputFD)
	}
	var firstErr error
	for _, name := range inputs {
		fd, err := v.Open(name, FlagRead)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		streamErr := v.streamCopy(fd, outputFD)
		if err := v.Close(fd); err != nil && firstErr == nil {
			firstErr = err
		}
		if streamErr != nil {
			return streamErr
		}
	}
	return firstErr
}
