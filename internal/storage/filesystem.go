package storage

import (
	"errors"
	"os"
	"syscall"
)

// CopyFile copies the contents of srcPath into a newly created destPath.
func CopyFile(srcPath string, destPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	destFile, err := os.Create(destPath)
	if err != nil {
		return err
	}

	if _, err := destFile.ReadFrom(srcFile); err != nil {
		_ = destFile.Close()
		_ = os.Remove(destPath)
		return err
	}

	if err := destFile.Sync(); err != nil {
		_ = destFile.Close()
		_ = os.Remove(destPath)
		return err
	}

	return destFile.Close()
}

// MoveFile renames srcPath to destPath, falling back to copy-and-remove when
// the two paths live on different filesystems.
func MoveFile(srcPath string, destPath string) error {
	err := os.Rename(srcPath, destPath)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	// NOTE(eteran): copy into a sibling temp name first so that readers never
	// observe a partially copied payload at destPath.
	partial := destPath + ".partial"
	if err := CopyFile(srcPath, partial); err != nil {
		return err
	}

	if err := os.Rename(partial, destPath); err != nil {
		_ = os.Remove(partial)
		return err
	}

	// Best-effort cleanup of the source file; ignore ENOENT in case it was
	// already removed.
	if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return nil
}
