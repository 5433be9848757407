package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyTree recursively copies the file, directory or symbolic link at src
// to dst. The destination must not exist; symbolic links are copied as
// links, never followed. A failed copy can leave dst partially written.
// The restore workflow uses it to put snapshot data back in place.
func CopyTree(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	srcInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("will not overwrite %q", dst)
	} else if !os.IsNotExist(err) {
		return err
	}
	switch mode := srcInfo.Mode(); mode & os.ModeType {
	case os.ModeSymlink:
		return copyLink(src, dst)
	case os.ModeDir:
		return copyDir(ctx, src, dst, mode)
	case 0:
		return copyFile(src, dst, mode)
	default:
		return fmt.Errorf("cannot copy file with mode %v", mode)
	}
}

func copyLink(src, dst string) error {
	target, err := os.Readlink(src)
	if err != nil {
		return err
	}
	return os.Symlink(target, dst)
}

func copyFile(src, dst string, mode os.FileMode) error {
	srcf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcf.Close() }()
	dstf, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	// The umask may have stripped bits at creation; restore the source mode.
	if err := os.Chmod(dst, mode.Perm()); err != nil {
		_ = dstf.Close()
		return err
	}
	_, err = io.Copy(dstf, srcf)
	if cerr := dstf.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	return nil
}

func copyDir(ctx context.Context, src, dst string, mode os.FileMode) error {
	srcf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = srcf.Close() }()
	createMode := mode.Perm()
	if mode&0o500 == 0 {
		// A copy of an unreadable directory could never be filled in;
		// create it widened and set the real mode at the end.
		createMode |= 0o500
	}
	if err := os.Mkdir(dst, createMode); err != nil {
		return err
	}
	for {
		names, err := srcf.Readdirnames(100)
		for _, name := range names {
			if cerr := CopyTree(ctx, filepath.Join(src, name), filepath.Join(dst, name)); cerr != nil {
				return cerr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read directory %q: %w", src, err)
		}
	}
	return os.Chmod(dst, mode.Perm())
}
