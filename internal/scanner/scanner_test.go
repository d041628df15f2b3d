package scanner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aliskhannn/filigrane/internal/model"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		path string
		want model.MediaKind
		ok   bool
	}{
		{"pdf", "a.pdf", model.KindPDF, true},
		{"jpg", "b.jpg", model.KindJPG, true},
		{"jpeg maps to jpg", "b.jpeg", model.KindJPG, true},
		{"upper case", "SCAN.PNG", model.KindPNG, true},
		{"heic", "photo.HEIC", model.KindHEIC, true},
		{"text", "c.txt", "", false},
		{"no extension", "README", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Kind(tt.path)
			if got != tt.want || ok != tt.ok {
				t.Errorf("Kind(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestScan_FlatSplitsSupportedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "b.jpg")
	touch(t, dir, "a.pdf")
	touch(t, dir, "c.txt")
	mkdir(t, dir, "filigrane")
	touch(t, filepath.Join(dir, "filigrane"), "old.pdf")
	mkdir(t, dir, "sub")
	touch(t, filepath.Join(dir, "sub"), "nested.pdf")

	res, err := Scan(dir, Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if got := relPaths(res.Documents); !equal(got, []string{"a.pdf", "b.jpg"}) {
		t.Errorf("documents = %v, want [a.pdf b.jpg]", got)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].RelPath != "c.txt" {
		t.Fatalf("skipped = %+v, want only c.txt", res.Skipped)
	}
	if !errors.Is(res.Skipped[0].Reason, ErrUnsupportedFormat) {
		t.Errorf("skip reason = %v, want ErrUnsupportedFormat", res.Skipped[0].Reason)
	}
	for _, d := range res.Documents {
		if d.Status != model.DocPending {
			t.Errorf("%s: status = %q, want pending", d.RelPath, d.Status)
		}
		if d.OutputName != d.RelPath {
			t.Errorf("%s: output name = %q", d.RelPath, d.OutputName)
		}
	}
}

func TestScan_RecursiveMirrorsLayoutAndPrunesOutput(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "filigrane")
	mkdir(t, dir, "filigrane")
	touch(t, out, "a.pdf")
	mkdir(t, dir, "2024")
	mkdir(t, dir, "2025")
	mkdir(t, dir, ".git")
	touch(t, filepath.Join(dir, "2024"), "payslip.pdf")
	touch(t, filepath.Join(dir, "2025"), "payslip.pdf")
	touch(t, filepath.Join(dir, ".git"), "ignored.pdf")
	touch(t, dir, "id.png")

	res, err := Scan(dir, Options{Recursive: true, Exclude: out})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := []string{"2024/payslip.pdf", "2025/payslip.pdf", "id.png"}
	if got := relPaths(res.Documents); !equal(got, want) {
		t.Fatalf("documents = %v, want %v", got, want)
	}
	seen := map[string]bool{}
	for _, d := range res.Documents {
		if seen[d.OutputName] {
			t.Errorf("duplicate output name %q", d.OutputName)
		}
		seen[d.OutputName] = true
	}
}

func TestScan_MissingFolder(t *testing.T) {
	if _, err := Scan(filepath.Join(t.TempDir(), "nope"), Options{}); err == nil {
		t.Fatal("expected error for missing folder")
	}
}

func TestScan_RecordsSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	res, err := Scan(dir, Options{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(res.Documents) != 1 || res.Documents[0].Size != 5 {
		t.Errorf("documents = %+v, want one of size 5", res.Documents)
	}
}

func TestScan_FollowsSymlinksToFiles(t *testing.T) {
	store := t.TempDir()
	if err := os.WriteFile(filepath.Join(store, "lease-2024.pdf"), []byte("lease"), 0o644); err != nil {
		t.Fatal(err)
	}
	mkdir(t, store, "archive")

	for _, recursive := range []bool{false, true} {
		dir := t.TempDir()
		link(t, filepath.Join(store, "lease-2024.pdf"), filepath.Join(dir, "lease.pdf"))
		link(t, filepath.Join(store, "archive"), filepath.Join(dir, "archive"))
		link(t, filepath.Join(store, "gone.pdf"), filepath.Join(dir, "broken.pdf"))

		res, err := Scan(dir, Options{Recursive: recursive})
		if err != nil {
			t.Fatalf("Scan(recursive=%v): %v", recursive, err)
		}

		if len(res.Documents) != 1 || res.Documents[0].RelPath != "lease.pdf" || res.Documents[0].Size != 5 {
			t.Errorf("recursive=%v: documents = %+v, want lease.pdf of size 5", recursive, res.Documents)
		}
		if len(res.Skipped) != 1 || res.Skipped[0].RelPath != "broken.pdf" {
			t.Fatalf("recursive=%v: skipped = %+v, want only broken.pdf", recursive, res.Skipped)
		}
		if !errors.Is(res.Skipped[0].Reason, ErrNotRegular) {
			t.Errorf("recursive=%v: skip reason = %v, want ErrNotRegular", recursive, res.Skipped[0].Reason)
		}
	}
}

func link(t *testing.T, target, name string) {
	t.Helper()
	if err := os.Symlink(target, name); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
}

func touch(t *testing.T, dir, name string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte{}, 0o644); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}

func mkdir(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
}

func relPaths(docs []model.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.RelPath
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
