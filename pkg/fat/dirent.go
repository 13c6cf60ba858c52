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
	"encoding/binary"
	"time"
)

// DirEntrySize is the on-disk size of one directory entry, in bytes.
// A block holds BlockSize/DirEntrySize entries.
const DirEntrySize = 64

// Name field states used to distinguish live entries from deleted and
// tombstoned ones when scanning a directory block.
const (
	nameFreeOrEnd = 0 // end of directory (never written past)
	nameDeleted   = 1 // truly deleted, slot reusable
	nameTombstone = 2 // unlinked while still open; reusable only once no reader remains
)

// Entry types.
const (
	TypeRegular = 1
	TypeDir     = 2
)

// Permission bits, matching chmod's op-byte low three bits.
const (
	PermRead  = 0x4
	PermWrite = 0x2
	PermExec  = 0x1
	PermAll   = PermRead | PermWrite | PermExec
)

// DirEntry is the in-memory form of one 64-byte on-disk directory entry.
type DirEntry struct {
	Name       string
	Size       uint32
	FirstBlock uint16
	Type       uint8
	Perm       uint8
	Mtime      int64 // unix seconds, matching the original's time_t mtime
}

// nameBytes returns Name padded/truncated to 32 bytes, matching the
// original's fixed char name[32].
func (d *DirEntry) nameBytes() [32]byte {
	var b [32]byte
	copy(b[:], d.Name)
	return b
}

// Marshal packs d into a 64-byte on-disk record. Layout mirrors dir_entry_t:
// name[32], size uint32, firstBlock uint16, type uint8, perm uint8,
// mtime int64, reserved[16].
func (d *DirEntry) Marshal() [DirEntrySize]byte {
	var out [DirEntrySize]byte
	name := d.nameBytes()
	copy(out[0:32], name[:])
	binary.LittleEndian.PutUint32(out[32:36], d.Size)
	binary.LittleEndian.PutUint16(out[36:38], d.FirstBlock)
	out[38] = d.Type
	out[39] = d.Perm
	binary.LittleEndian.PutUint64(out[40:48], uint64(d.Mtime))
	// out[48:64] reserved, left zero.
	return out
}

// UnmarshalDirEntry unpacks a 64-byte on-disk record.
func UnmarshalDirEntry(b []byte) DirEntry {
	var d DirEntry
	nameEnd := 0
	for nameEnd < 32 && b[nameEnd] != 0 {
		nameEnd++
	}
	d.Name = string(b[0:nameEnd])
	d.Size = binary.LittleEndian.Uint32(b[32:36])
	d.FirstBlock = binary.LittleEndian.Uint16(b[36:38])
	d.Type = b[38]
	d.Perm = b[39]
	d.Mtime = int64(binary.LittleEndian.Uint64(b[40:48]))
	return d
}

// nameState returns the entry's first byte as a name-state marker (0, 1, or
// 2), matching k_scan_dir's name[0] checks. Valid names never start with
// these control bytes because PennOS file names are printable text.
func nameState(b []byte) byte {
	return b[0]
}

func newMtime() int64 {
	return time.Now().Unix()
}

// timeFormat renders an entry's mtime the way k_format_dirent does with
// strftime("%b %e %H:%M:%S %Y").
func timeFormat(mtime int64) string {
	return time.Unix(mtime, 0).Format("Jan _2 15:04:05 2006")
}
