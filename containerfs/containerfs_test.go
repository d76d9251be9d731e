package containerfs

import (
	"archive/tar"
	"bytes"
	"io"
	"path"
	"sort"
	"testing"
	"testing/fstest"
)

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	dirsWritten := map[string]bool{}
	writeDirs := func(name string) {
		dir := path.Dir(name)
		for dir != "." && dir != "/" && !dirsWritten[dir] {
			if err := tw.WriteHeader(&tar.Header{Name: dir + "/", Mode: 0755, Typeflag: tar.TypeDir}); err != nil {
				t.Fatalf("WriteHeader(%s/): %v", dir, err)
			}
			dirsWritten[dir] = true
			dir = path.Dir(dir)
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		body := files[name]
		writeDirs(name)
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader(%s): %v", name, err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("Write(%s): %v", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar Close: %v", err)
	}
	return buf.Bytes()
}

func TestOpenRawAndReadMember(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"hello.txt":     "hello, world",
		"dir/nested.txt": "nested content",
	})

	fsys, err := OpenRaw(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}

	f, err := fsys.Open("hello.txt")
	if err != nil {
		t.Fatalf("Open(hello.txt): %v", err)
	}
	defer f.Close()
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != "hello, world" {
		t.Fatalf("got %q", got)
	}
}

func TestFindGlob(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"a/one.go":  "1",
		"a/two.go":  "2",
		"b/three.txt": "3",
	})
	fsys, err := OpenRaw(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}

	matches, err := Find(fsys, "a/*.go")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %v, want 2 entries", matches)
	}
}

func TestTestFS(t *testing.T) {
	raw := buildTar(t, map[string]string{
		"x.txt":     "x",
		"sub/y.txt": "y",
	})
	fsys, err := OpenRaw(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	if err := fstest.TestFS(fsys, "x.txt", "sub/y.txt"); err != nil {
		t.Fatalf("TestFS: %v", err)
	}
}

func TestXZMagicRejected(t *testing.T) {
	src := append([]byte{0xFD, '7', 'z', 'X', 'Z', 0x00}, []byte("not really xz")...)
	_, err := Open(bytes.NewReader(src))
	if err == nil {
		t.Fatal("expected error for xz-magic source")
	}
}
