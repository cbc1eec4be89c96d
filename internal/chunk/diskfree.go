package chunk

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// checkFreeSpace refuses a split when the chunks volume has less free space
// than the source file. The chunks are a near byte-for-byte copy of the
// source, so running out of disk partway through is otherwise guaranteed on
// a tight volume.
func checkFreeSpace(dir string, need int64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		// Some filesystems (and fuzzing sandboxes) reject statfs; the split
		// then proceeds without the preflight rather than failing outright.
		return nil
	}
	free := int64(st.Bavail) * st.Bsize
	if free < need {
		return fmt.Errorf("chunk: not enough free space on %s: need %s, have %s",
			dir, humanize.Bytes(uint64(need)), humanize.Bytes(uint64(free)))
	}
	return nil
}
