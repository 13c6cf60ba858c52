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

// Package fat implements a PennFAT-style single-directory file system: a
// memory-mapped FAT region, a shared kernel-global open-file table, and the
// file system operations (open, read, write, ls, chmod, ...) layered on
// top of them.
package fat

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"pennos/pkg/errno"
)

// BlockSizeMap mirrors BLOCK_SIZE_MAP: the five block sizes selectable at
// mkfs time, indexed by block_size_config (0..4).
var BlockSizeMap = [5]int{256, 512, 1024, 2048, 4096}

const (
	freeBlock = 0x0000
	eofBlock  = 0xFFFF

	maxBlocksInFAT = 32
	minBlocksInFAT = 1

	entryUnmapped = 0xFFFF // clamp target when a 2-byte FAT would address 65536 entries
)

// Volume is a mounted PennFAT file system: the memory-mapped FAT region
// plus the metadata k_mount derives from FAT[0].
type Volume struct {
	mu sync.Mutex

	file *os.File
	fat  mmap.MMap // FAT region, reinterpreted as little-endian uint16 entries

	blockSize      int
	blocksInFAT    int
	fatSize        int64 // blockSize * blocksInFAT, in bytes
	numEntries     int   // FAT entry count, clamped at 65535
	entriesPerBlk  int   // DirEntrySize entries per data block
	dataRegionBase int64 // == fatSize; block 1 starts here

	mounted bool

	// handles is the process-shared open-file table layered on this volume.
	handles *handleTable
}

// Format creates a new PennFAT image file, matching mkfs: it lays out the
// FAT header, marks block 1 (the root directory) as a single-block
// end-of-chain, marks the rest of the data region free, and zero-fills
// every data block.
func Format(path string, blocksInFAT, blockSizeConfig int) error {
	if blocksInFAT < minBlocksInFAT || blocksInFAT > maxBlocksInFAT ||
		blockSizeConfig < 0 || blockSizeConfig >= len(BlockSizeMap) {
		errno.Set(errno.EInval)
		return errno.EInval
	}

	blockSize := BlockSizeMap[blockSizeConfig]
	fatSize := blockSize * blocksInFAT
	numEntries := fatSize / 2
	if numEntries == 65536 {
		numEntries--
	}
	dataRegionSize := blockSize * (numEntries - 1)
	totalSize := int64(fatSize + dataRegionSize)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o666)
	if err != nil {
		return errors.Wrap(err, "creating file system image")
	}
	defer f.Close()

	if err := f.Truncate(totalSize); err != nil {
		return errors.Wrap(err, "sizing file system image")
	}

	m, err := mmap.MapRegion(f, fatSize, mmap.RDWR, 0, 0)
	if err != nil {
		return errors.Wrap(err, "mapping FAT region for format")
	}
	defer m.Unmap()

	binary.LittleEndian.PutUint16(m[0:2], uint16(blocksInFAT<<8|blockSizeConfig))

	zero := make([]byte, blockSize)
	for i := 1; i < numEntries; i++ {
		var entry uint16
		if i == 1 {
			entry = eofBlock
		} else {
			entry = freeBlock
		}
		binary.LittleEndian.PutUint16(m[i*2:i*2+2], entry)

		off := int64(fatSize) + int64(i-1)*int64(blockSize)
		if _, err := f.WriteAt(zero, off); err != nil {
			return errors.Wrap(err, "zeroing data region")
		}
	}

	return nil
}

// Mount opens an existing PennFAT image and derives the volume's block
// size and FAT layout from FAT[0], matching mount().
func Mount(path string) (*Volume, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening file system image")
	}

	header := make([]byte, 2)
	if _, err := f.ReadAt(header, 0); err != nil {
		f.Close()
		errno.Set(errno.EIO)
		return nil, errors.Wrap(err, "reading FAT header")
	}
	fat0 := binary.LittleEndian.Uint16(header)
	blocksInFAT := int(fat0>>8) & 0xFF
	blockSizeConfig := int(fat0) & 0xFF

	if blocksInFAT < minBlocksInFAT || blocksInFAT > maxBlocksInFAT ||
		blockSizeConfig < 0 || blockSizeConfig >= len(BlockSizeMap) {
		f.Close()
		errno.Set(errno.EInval)
		return nil, errno.EInval
	}

	blockSize := BlockSizeMap[blockSizeConfig]
	fatSize := blockSize * blocksInFAT
	numEntries := fatSize / 2
	if numEntries == 65536 {
		numEntries--
	}

	m, err := mmap.MapRegion(f, fatSize, mmap.RDWR, 0, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mapping FAT region")
	}

	v := &Volume{
		file:           f,
		fat:            m,
		blockSize:      blockSize,
		blocksInFAT:    blocksInFAT,
		fatSize:        int64(fatSize),
		numEntries:     numEntries,
		entriesPerBlk:  blockSize / DirEntrySize,
		dataRegionBase: int64(fatSize),
		mounted:        true,
	}
	v.handles = newHandleTable()
	return v, nil
}

// Unmount releases the FAT mapping and closes the backing file, matching
// unmount(). It is an error to call Unmount on a volume that was not
// successfully mounted.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		errno.Set(errno.ENoDev)
		return errno.ENoDev
	}

	var firstErr error
	if err := v.fat.Unmap(); err != nil {
		firstErr = errors.Wrap(err, "unmapping FAT region")
	}
	if err := v.file.Close(); err != nil && firstErr == nil {
		firstErr = errors.Wrap(err, "closing file system image")
	}
	v.mounted = false
	return firstErr
}

// entry reads FAT[i].
func (v *Volume) entry(i uint16) uint16 {
	return binary.LittleEndian.Uint16(v.fat[int(i)*2 : int(i)*2+2])
}

// setEntry writes FAT[i] = val.
func (v *Volume) setEntry(i uint16, val uint16) {
	binary.LittleEndian.PutUint16(v.fat[int(i)*2:int(i)*2+2], val)
}

// blockOffset returns the byte offset of data block blk (blk >= 1) within
// the backing file: the data region starts immediately after the FAT.
func (v *Volume) blockOffset(blk uint16) int64 {
	return v.dataRegionBase + int64(blk-1)*int64(v.blockSize)
}

// findFreeBlock returns the first FAT index i (i >= 1) with FAT[i] ==
// free, or 0 if the volume is full, matching k_find_free_block.
func (v *Volume) findFreeBlock() uint16 {
	for i := 1; i < v.numEntries; i++ {
		if v.entry(uint16(i)) == freeBlock {
			return uint16(i)
		}
	}
	return 0
}

// zeroBlock writes a block of zero bytes at blk, matching the zeroing
// done by mkfs/k_extend_root whenever a block enters the chain.
func (v *Volume) zeroBlock(blk uint16) error {
	zero := make([]byte, v.blockSize)
	_, err := v.file.WriteAt(zero, v.blockOffset(blk))
	return err
}

// extendRoot walks the root directory's chain to its tail, allocates one
// free block, appends it to the chain, zero-fills it, and returns the
// byte offset of the new block's first entry slot. Matches k_extend_root.
func (v *Volume) extendRoot() (int64, error) {
	var blk uint16 = 1
	var last uint16 = 1
	for blk != eofBlock {
		last = blk
		blk = v.entry(blk)
	}

	free := v.findFreeBlock()
	if free == 0 {
		errno.Set(errno.ENoSpc)
		return -1, errno.ENoSpc
	}

	v.setEntry(last, free)
	v.setEntry(free, eofBlock)
	if err := v.zeroBlock(free); err != nil {
		return -1, errors.Wrap(err, "zeroing extended root block")
	}
	return v.blockOffset(free), nil
}

// findFile scans the root directory chain for fname. If found, it returns
// (true, offset of the matching entry). If not found, it returns (false,
// offset of the first reusable slot: a deleted entry or the first
// never-written end-of-directory slot; tombstoned entries are skipped and
// never offered), or (false, -1) if the directory has no free slot in any
// allocated block. Matches k_find_file.
func (v *Volume) findFile(fname string) (bool, int64) {
	var freeSlot int64 = -1
	blk := uint16(1)
	for {
		base := v.blockOffset(blk)
		for i := 0; i < v.entriesPerBlk; i++ {
			off := base + int64(i)*DirEntrySize
			rec := make([]byte, DirEntrySize)
			if _, err := v.file.ReadAt(rec, off); err != nil {
				break
			}
			switch nameState(rec) {
			case nameFreeOrEnd:
				if freeSlot == -1 {
					freeSlot = off
				}
				return false, freeSlot
			case nameDeleted:
				if freeSlot == -1 {
					freeSlot = off
				}
			case nameTombstone:
				// Still owns a live FAT chain referenced by an open handle;
				// reusable only once no reader remains (see handle.go's
				// LiveReferences), never offered as a free slot here.
			default:
				d := UnmarshalDirEntry(rec)
				if d.Name == fname {
					return true, off
				}
			}
		}
		next := v.entry(blk)
		if next == eofBlock {
			break
		}
		blk = next
	}
	return false, freeSlot
}
