package fakefs

import (
	"errors"
	"io/fs"
	"os"
	"reflect"
	"testing"
)

func TestFS_WriteAndReadFile(t *testing.T) {
	f := New()
	if err := f.WriteFile("/tmp/a/b.txt", []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := f.ReadFile("/tmp/a/b.txt")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("ReadFile = %q, want %q", data, "hello")
	}

	info, err := f.Stat("/tmp/a")
	if err != nil || !info.IsDir() {
		t.Errorf("parent dir not created: info=%v err=%v", info, err)
	}
}

func TestFS_ReadFileNotExist(t *testing.T) {
	f := New()
	_, err := f.ReadFile("/missing")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestFS_ReadDir(t *testing.T) {
	f := New()
	f.AddFile("/srv/app.conf", []byte("x"), 0644)
	f.AddDir("/srv/logs")
	f.AddFile("/srv/logs/today.log", nil, 0644)

	entries, err := f.ReadDir("/srv")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	want := []string{"app.conf", "logs"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
	if !entries[1].IsDir() {
		t.Error("logs should be a directory")
	}
}

func TestFS_OpenFileAppends(t *testing.T) {
	f := New()
	f.AddDir("/rec")

	h, err := f.OpenFile("/rec/out.cast", os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	h.Write([]byte("one\n"))
	h.Write([]byte("two\n"))
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, _ := f.ReadFile("/rec/out.cast")
	if string(data) != "one\ntwo\n" {
		t.Errorf("data = %q", data)
	}
	if h.Name() != "/rec/out.cast" {
		t.Errorf("Name() = %q", h.Name())
	}

	if _, err := f.OpenFile("/rec/out.cast", os.O_CREATE|os.O_EXCL, 0600); !errors.Is(err, fs.ErrExist) {
		t.Errorf("O_EXCL on existing file: err = %v, want ErrExist", err)
	}
}

func TestFS_RemoveAndRename(t *testing.T) {
	f := New()
	f.AddFile("/d/x.part", []byte("data"), 0644)

	if err := f.Rename("/d/x.part", "/d/x"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := f.Stat("/d/x.part"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("old path still exists")
	}

	if err := f.Remove("/d"); err == nil {
		t.Error("Remove on non-empty dir should fail")
	}
	if err := f.Remove("/d/x"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := f.Remove("/d/x"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove: err = %v, want ErrNotExist", err)
	}
}

func TestFS_HomeAndEnv(t *testing.T) {
	f := New()
	f.SetHomeDir("/home/alice")
	f.SetEnv("USER", "alice")

	home, _ := f.UserHomeDir()
	if home != "/home/alice" {
		t.Errorf("UserHomeDir = %q", home)
	}
	if got := f.Getenv("USER"); got != "alice" {
		t.Errorf("Getenv(USER) = %q", got)
	}
}
