package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewStorage_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "docs", "filigrane")

	if _, err := NewStorage(root); err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Errorf("root not created: %v", err)
	}
}

func TestSave(t *testing.T) {
	tests := []struct {
		name string
		file string
		want string
	}{
		{"flat", "a.pdf", "a.pdf"},
		{"nested", "2024/payslip.pdf", filepath.Join("2024", "payslip.pdf")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			s, err := NewStorage(root)
			if err != nil {
				t.Fatal(err)
			}

			got, err := s.Save(context.Background(), tt.file, strings.NewReader("watermarked"))
			if err != nil {
				t.Fatalf("Save: %v", err)
			}
			if want := filepath.Join(root, tt.want); got != want {
				t.Errorf("path = %q, want %q", got, want)
			}

			data, err := os.ReadFile(got)
			if err != nil || string(data) != "watermarked" {
				t.Errorf("content = %q, %v", data, err)
			}

			entries, _ := os.ReadDir(filepath.Dir(got))
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".tmp") {
					t.Errorf("temporary file left behind: %s", e.Name())
				}
			}
		})
	}
}

func TestSave_OverwritesExisting(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := s.Save(ctx, "a.pdf", strings.NewReader("first")); err != nil {
		t.Fatal(err)
	}
	p, err := s.Save(ctx, "a.pdf", strings.NewReader("second"))
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(p)
	if err != nil || string(data) != "second" {
		t.Errorf("%s = %q, %v, want second", p, data, err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestSave_FailedWriteLeavesNothing(t *testing.T) {
	root := t.TempDir()
	s, err := NewStorage(root)
	if err != nil {
		t.Fatal(err)
	}

	_, err = s.Save(context.Background(), "a.pdf", failingReader{})
	if !errors.Is(err, ErrIOWrite) {
		t.Fatalf("err = %v, want ErrIOWrite", err)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("root has %d entries after a failed write", len(entries))
	}
}

func TestSave_RejectsEscapingNames(t *testing.T) {
	s, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../a.pdf", "", "/etc/passwd", "a/../../b.pdf"} {
		if _, err := s.Save(context.Background(), name, strings.NewReader("x")); !errors.Is(err, ErrIOWrite) {
			t.Errorf("Save(%q) err = %v, want ErrIOWrite", name, err)
		}
	}
}

func TestSave_UnwritableRoot(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "sub")
	if err := os.WriteFile(blocker, []byte("file, not dir"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := NewStorage(root)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Save(context.Background(), "sub/a.pdf", strings.NewReader("x")); !errors.Is(err, ErrIOWrite) {
		t.Errorf("err = %v, want ErrIOWrite", err)
	}
}
