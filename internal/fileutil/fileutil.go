// Package fileutil holds the file copy and write helpers shared by stages.
// Every helper writes to a temporary sibling first and renames it into
// place, so readers never observe a partial file.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyFile copies src to dst with mode 0o644.
func CopyFile(src, dst string) error {
	_, err := copyFile(src, dst, false)
	return err
}

// CopyFileVerified copies src to dst and checks size and SHA-256 of both
// sides. It returns the number of bytes copied.
func CopyFileVerified(src, dst string) (int64, error) {
	return copyFile(src, dst, true)
}

// WriteFileAtomic writes data to path through a temporary sibling.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	return writeAtomic(path, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func copyFile(src, dst string, verify bool) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}

	srcHash := sha256.New()
	dstHash := sha256.New()
	var written int64
	err = writeAtomic(dst, 0o644, func(w io.Writer) error {
		var reader io.Reader = in
		if verify {
			reader = io.TeeReader(in, srcHash)
			w = io.MultiWriter(w, dstHash)
		}
		n, err := io.Copy(w, reader)
		written = n
		if err != nil || !verify {
			return err
		}
		if n != info.Size() {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), n)
		}
		if !bytes.Equal(srcHash.Sum(nil), dstHash.Sum(nil)) {
			return fmt.Errorf("copy hash mismatch: %s changed during copy", src)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func writeAtomic(path string, mode os.FileMode, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := fill(tmp); err != nil {
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
