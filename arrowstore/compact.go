package arrowstore

import (
	"fmt"
	"os"

	bolt "go.etcd.io/bbolt"
)

// compactTxSize bounds the size of each copy transaction during compaction.
const compactTxSize = 64 << 20

// Compact rewrites the closed file at path without free pages. The result
// is written next to it and renamed over it only on success; on failure the
// original file is untouched.
func Compact(path string, opts Options) error {
	tmp := path + ".~repacked~"
	os.Remove(tmp)
	if err := compactTo(path, tmp, opts); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("repack %s: %w", path, err)
	}
	return nil
}

func compactTo(src, dst string, opts Options) error {
	in, err := bolt.Open(src, 0o644, &bolt.Options{ReadOnly: true, Timeout: opts.Timeout})
	if err != nil {
		return fmt.Errorf("repack %s: %w", src, err)
	}
	defer in.Close()

	out, err := bolt.Open(dst, 0o644, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return fmt.Errorf("repack %s: %w", dst, err)
	}
	if err := bolt.Compact(out, in, compactTxSize); err != nil {
		out.Close()
		return fmt.Errorf("repack %s: %w", src, err)
	}
	return out.Close()
}
