// Command tinflate is a small CLI around this module's decoders: cat a
// compressed file to stdout, list members of a tar.gz archive, or serve one
// over WebDAV. Grounded on the teacher's own main.go (a thin driver over its
// Wrapper filesystem) and the sibling example's targz/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"golang.org/x/net/webdav"

	"github.com/tinyworks/tinflate/containerfs"
	"github.com/tinyworks/tinflate/flate"
	"github.com/tinyworks/tinflate/gzip"
	"github.com/tinyworks/tinflate/zlib"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tinflate <cat|ls|serve> ...")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "cat":
		err = runCat(os.Args[2:])
	case "ls":
		err = runLs(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	default:
		err = fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
	if err != nil {
		slog.Error("tinflate", "err", err)
		os.Exit(1)
	}
}

// openDecompressor wraps f in whichever of gzip/zlib/raw-deflate its first
// bytes identify, defaulting to raw DEFLATE when no recognizable magic is
// present (this module has no "is this even compressed" sniffing of its
// own — spec.md's Non-goals exclude multi-format autodetection beyond
// gzip/zlib/raw).
func openDecompressor(f *os.File) (io.Reader, error) {
	head := make([]byte, 2)
	n, _ := io.ReadFull(f, head)
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	switch {
	case n == 2 && head[0] == 0x1f && head[1] == 0x8b:
		return gzip.NewReader(f)
	case n == 2 && head[0] == 0x78:
		return zlib.NewReader(f)
	default:
		dec := flate.NewRawDecoder()
		return &rawReader{dec: dec, src: f}, nil
	}
}

// rawReader adapts flate.Decoder's push model to io.Reader for a bare
// DEFLATE file with no framing of its own.
type rawReader struct {
	dec *flate.Decoder
	src io.Reader
	buf [32 * 1024]byte
}

func (r *rawReader) Read(p []byte) (int, error) {
	for {
		n, status, err := r.dec.Decode(p)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
		if status == flate.StatusStreamEnd {
			return 0, io.EOF
		}
		fn, rerr := r.src.Read(r.buf[:])
		if fn > 0 {
			r.dec.Feed(r.buf[:fn])
			continue
		}
		if rerr != nil {
			return 0, rerr
		}
	}
}

func runCat(args []string) error {
	fset := flag.NewFlagSet("cat", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return fmt.Errorf("usage: tinflate cat FILE")
	}
	f, err := os.Open(fset.Arg(0))
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := openDecompressor(f)
	if err != nil {
		return err
	}
	_, err = io.Copy(os.Stdout, r)
	return err
}

func runLs(args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	long := fset.Bool("l", false, "show size and inode")
	fset.Parse(args)
	if fset.NArg() < 1 {
		return fmt.Errorf("usage: tinflate ls ARCHIVE.tar.gz [PATTERN]")
	}

	archive, err := os.Open(fset.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	cfs, err := containerfs.Open(archive)
	if err != nil {
		return err
	}

	pattern := "**"
	if fset.NArg() >= 2 {
		pattern = fset.Arg(1)
	}
	names, err := containerfs.Find(cfs, pattern)
	if err != nil {
		return err
	}

	for _, name := range names {
		if !*long {
			fmt.Println(name)
			continue
		}
		info, err := fs.Stat(cfs, name)
		if err != nil {
			fmt.Printf("%s\t<error: %v>\n", name, err)
			continue
		}
		ino, ok := fileID(info)
		if ok {
			fmt.Printf("%8d  ino=%-10d  %s\n", info.Size(), ino, name)
		} else {
			fmt.Printf("%8d  %s\n", info.Size(), name)
		}
	}
	return nil
}

func runServe(args []string) error {
	fset := flag.NewFlagSet("serve", flag.ExitOnError)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return fmt.Errorf("usage: tinflate serve ARCHIVE.tar.gz ADDR")
	}

	archive, err := os.Open(fset.Arg(0))
	if err != nil {
		return err
	}
	defer archive.Close()

	cfs, err := containerfs.Open(archive)
	if err != nil {
		return err
	}

	handler := &webdav.Handler{
		FileSystem: webdavFS{cfs},
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				slog.Warn("webdav", "method", r.Method, "path", r.URL.Path, "err", err)
			}
		},
	}

	addr := fset.Arg(1)
	slog.Info("serving archive over webdav", "archive", fset.Arg(0), "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// webdavFS adapts an fs.FS (containerfs.FS) to webdav.FileSystem, the same
// read-only shim shape as the teacher's own internal/webdavadapter, trimmed
// to this binary's needs (Mkdir/RemoveAll/Rename return fs.ErrPermission:
// the archive is read-only).
type webdavFS struct{ inner fs.FS }

func (w webdavFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	return fs.ErrPermission
}
func (w webdavFS) RemoveAll(ctx context.Context, name string) error {
	return fs.ErrPermission
}
func (w webdavFS) Rename(ctx context.Context, oldName, newName string) error {
	return fs.ErrPermission
}

func (w webdavFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	f, err := w.inner.Open(strings.TrimPrefix(name, "/"))
	if err != nil {
		return nil, err
	}
	return webdavFile{f}, nil
}

func (w webdavFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	return fs.Stat(w.inner, strings.TrimPrefix(name, "/"))
}

type webdavFile struct{ fs.File }

func (f webdavFile) Write(p []byte) (int, error) { return 0, fs.ErrPermission }
func (f webdavFile) Seek(offset int64, whence int) (int64, error) {
	seeker, ok := f.File.(io.Seeker)
	if !ok {
		return 0, fs.ErrInvalid
	}
	return seeker.Seek(offset, whence)
}
func (f webdavFile) Readdir(count int) ([]os.FileInfo, error) {
	rdf, ok := f.File.(fs.ReadDirFile)
	if !ok {
		return nil, fs.ErrInvalid
	}
	entries, err := rdf.ReadDir(count)
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil {
			continue
		}
		infos = append(infos, info)
	}
	return infos, err
}
