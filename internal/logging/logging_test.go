package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSink_ConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "myclass.log")

	sink := Open(Options{File: path, Console: &console, MaxBackups: 1})
	sink.Logger("[inbox] ").Printf("saved %s", "a.json")
	sink.Logger("[server] ").Println("listening")
	if err := sink.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	for _, out := range []string{console.String(), string(data)} {
		if !strings.Contains(out, "[inbox] ") || !strings.Contains(out, "saved a.json") {
			t.Errorf("missing inbox line in %q", out)
		}
		if !strings.Contains(out, "[server] ") || !strings.Contains(out, "listening") {
			t.Errorf("missing server line in %q", out)
		}
	}
}

func TestSink_Quiet(t *testing.T) {
	var console bytes.Buffer
	sink := Open(Options{Console: &console, Quiet: true})
	sink.Logger("x ").Println("dropped")
	if console.Len() != 0 {
		t.Errorf("quiet sink wrote %q to console", console.String())
	}
	if err := sink.Rotate(); err != nil {
		t.Errorf("Rotate() without file = %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close() without file = %v", err)
	}
}

func TestSink_Rotate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "myclass.log")
	sink := Open(Options{File: path, Quiet: true, MaxBackups: 2})
	defer sink.Close()

	sink.Logger("").Println("before")
	if err := sink.Rotate(); err != nil {
		t.Fatalf("Rotate() failed: %v", err)
	}
	sink.Logger("").Println("after")

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d files after rotate, want current plus one backup", len(entries))
	}
}
