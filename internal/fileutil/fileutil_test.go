package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteAndReadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")

	want := sample{Name: "kcet", Count: 3}
	if err := WriteJSON(path, want, 0644); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	var got sample
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestReadJSONMissingFile(t *testing.T) {
	var v sample
	err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &v)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !os.IsNotExist(err) {
		t.Errorf("expected IsNotExist error, got %v", err)
	}
}

func TestReadJSONInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	var v sample
	if err := ReadJSON(path, &v); err == nil {
		t.Error("expected parse error, got nil")
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atomic.json")

	want := sample{Name: "atomic", Count: 1}
	if err := WriteJSONAtomic(path, want, 0644); err != nil {
		t.Fatalf("WriteJSONAtomic failed: %v", err)
	}

	// Temp file must not linger.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file was not cleaned up")
	}

	var got sample
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
