package backup

import (
	"archive/tar"
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"

	"github.com/loykin/craftctl/internal/errdefs"
)

// archive packs the snapshot directory into a single file next to it and
// returns the archive path. The snapshot name is the first path element
// of every member, so extraction reproduces the directory layout.
func (e *Engine) archive(ctx context.Context, dir, stamp string) (string, error) {
	path := filepath.Join(e.Dir, stamp+e.Mode.Ext())
	var err error
	switch e.Mode {
	case ModeTarGzip:
		err = buildTarGz(ctx, path, e.Dir, stamp)
	case ModeZip:
		err = buildZip(ctx, path, e.Dir, stamp)
	default:
		return "", fmt.Errorf("%w: %q", errdefs.ErrUnsupportedCompression, e.Mode.String())
	}
	if err != nil {
		// Do not leave a torn archive next to the intact snapshot.
		_ = os.Remove(path)
		return "", fmt.Errorf("backup: archive %s: %w", dir, err)
	}
	return path, nil
}

// walkSnapshot visits every entry under root/prefix with paths relative
// to root, so archive members keep the snapshot name as their root.
func walkSnapshot(ctx context.Context, root, prefix string, fn func(full, rel string, fi fs.FileInfo) error) error {
	return filepath.WalkDir(filepath.Join(root, prefix), func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return fn(p, rel, fi)
	})
}

func buildTarGz(ctx context.Context, dest, root, prefix string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	gzw := gzip.NewWriter(f)
	tw := tar.NewWriter(gzw)
	werr := walkSnapshot(ctx, root, prefix, func(full, rel string, fi fs.FileInfo) error {
		var link string
		if fi.Mode()&fs.ModeSymlink != 0 {
			var err error
			if link, err = os.Readlink(full); err != nil {
				return err
			}
		}
		hdr, err := tar.FileInfoHeader(fi, link)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if fi.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		src, err := os.Open(full)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(tw, src)
		return err
	})
	for _, c := range []io.Closer{tw, gzw, f} {
		if cerr := c.Close(); werr == nil {
			werr = cerr
		}
	}
	return werr
}

func buildZip(ctx context.Context, dest, root, prefix string) error {
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(f)
	// klauspost's flate is a drop-in for the stdlib one with far better
	// throughput on world data.
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	werr := walkSnapshot(ctx, root, prefix, func(full, rel string, fi fs.FileInfo) error {
		// Directories are implied by member paths; non-regular entries
		// have no portable zip representation.
		if !fi.Mode().IsRegular() {
			return nil
		}
		hdr, err := zip.FileInfoHeader(fi)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(full)
		if err != nil {
			return err
		}
		defer func() { _ = src.Close() }()
		_, err = io.Copy(w, src)
		return err
	})
	if cerr := zw.Close(); werr == nil {
		werr = cerr
	}
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr
}
