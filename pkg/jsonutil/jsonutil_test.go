package jsonutil

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

func TestMarshalUnmarshal(t *testing.T) {
	in := sample{Name: "sqli", Score: 0.8}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestWriteFileAtomicAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	if err := WriteFileAtomic(path, sample{Name: "x", Score: 1}); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	var got sample
	if err := ReadFile(path, &got); err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.Name != "x" || got.Score != 1 {
		t.Errorf("got %+v", got)
	}

	// No temp files may remain next to the target.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "index.json" {
			t.Errorf("leftover file %s", e.Name())
		}
	}
}

func TestReadFileMissing(t *testing.T) {
	var v sample
	if err := ReadFile(filepath.Join(t.TempDir(), "nope.json"), &v); err == nil {
		t.Error("expected error for missing file")
	}
}
