package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aliskhannn/filigrane/internal/report"
	"github.com/aliskhannn/filigrane/internal/watermark/fakeapi"
)

// setup creates a folder with the given files and a fake API, and keeps
// waits short.
func setup(t *testing.T, files ...string) (string, *fakeapi.Server, string) {
	t.Helper()

	dir := t.TempDir()
	for _, name := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("content of "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	fake := fakeapi.New()
	srv := fake.Serve()
	t.Cleanup(srv.Close)

	t.Setenv("FILIGRANE_POLL_INTERVAL", "5ms")
	t.Setenv("FILIGRANE_POLL_MAX_INTERVAL", "20ms")
	t.Setenv("FILIGRANE_RETRY_DELAY", "1ms")

	return dir, fake, fakeapi.BaseURL(srv)
}

func execute(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout bytes.Buffer
	code := run(context.Background(), args, &stdout, io.Discard)
	return code, stdout.String()
}

func TestRun_IndividualSkipsUnsupported(t *testing.T) {
	dir, _, base := setup(t, "a.pdf", "b.jpg", "c.txt")

	code, out := execute(t, "--api-base", base, dir)

	if code != report.ExitOK {
		t.Fatalf("exit = %d, want 0\n%s", code, out)
	}
	for _, name := range []string{"a.pdf", "b.jpg"} {
		data, err := os.ReadFile(filepath.Join(dir, "filigrane", name))
		if err != nil {
			t.Errorf("missing output %s: %v", name, err)
			continue
		}
		if !bytes.Contains(data, []byte("content of "+name)) {
			t.Errorf("%s = %q", name, data)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "filigrane", "c.txt")); !os.IsNotExist(err) {
		t.Errorf("c.txt was written: %v", err)
	}
	if !strings.Contains(out, "c.txt: unsupported format") || !strings.Contains(out, "2 succeeded, 0 failed, 1 skipped") {
		t.Errorf("summary:\n%s", out)
	}
}

func TestRun_Aggregated(t *testing.T) {
	dir, fake, base := setup(t, "a.pdf", "b.jpg", "c.txt")

	code, out := execute(t, "--api-base", base, "--aggregate", "--aggregate-output", "merged.pdf", "-w", "CONFIDENTIEL", dir)

	if code != report.ExitOK {
		t.Fatalf("exit = %d, want 0\n%s", code, out)
	}
	data, err := os.ReadFile(filepath.Join(dir, "filigrane", "merged.pdf"))
	if err != nil {
		t.Fatalf("missing merged output: %v", err)
	}
	for _, want := range []string{"content of a.pdf", "content of b.jpg", "CONFIDENTIEL"} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("merged output misses %q", want)
		}
	}
	if got := fake.Accepted(); len(got) != 1 {
		t.Errorf("jobs = %v, want one aggregated job", got)
	}
}

func TestRun_TransientSubmitRecovers(t *testing.T) {
	dir, fake, base := setup(t, "a.pdf")
	fake.Script("a.pdf", fakeapi.Behavior{SubmitFailures: 2})

	code, out := execute(t, "--api-base", base, dir)

	if code != report.ExitOK {
		t.Fatalf("exit = %d, want 0\n%s", code, out)
	}
	if got := fake.Attempts("a.pdf"); got != 3 {
		t.Errorf("uploads = %d, want 3", got)
	}
	if !strings.Contains(out, "1 succeeded, 0 failed") {
		t.Errorf("summary:\n%s", out)
	}
}

func TestRun_FailureExitsNonZero(t *testing.T) {
	dir, fake, base := setup(t, "a.pdf", "b.pdf")
	fake.Script("b.pdf", fakeapi.Behavior{Reject: true})

	code, out := execute(t, "--api-base", base, dir)

	if code != report.ExitFailure {
		t.Fatalf("exit = %d, want 1\n%s", code, out)
	}
	if !strings.Contains(out, "b.pdf:") || !strings.Contains(out, "1 succeeded, 1 failed") {
		t.Errorf("summary:\n%s", out)
	}
}

func TestRun_RecursiveMirrorsLayout(t *testing.T) {
	dir, _, base := setup(t, "id.png")
	for _, sub := range []string{"2024", "2025"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, sub, "payslip.pdf"), []byte(sub), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	code, out := execute(t, "--api-base", base, "-r", dir)

	if code != report.ExitOK {
		t.Fatalf("exit = %d\n%s", code, out)
	}
	for _, rel := range []string{"id.png", "2024/payslip.pdf", "2025/payslip.pdf"} {
		if _, err := os.Stat(filepath.Join(dir, "filigrane", filepath.FromSlash(rel))); err != nil {
			t.Errorf("missing output %s: %v", rel, err)
		}
	}
}

func TestRun_EmptyFolder(t *testing.T) {
	dir, _, base := setup(t, "notes.txt")

	code, out := execute(t, "--api-base", base, dir)

	if code != report.ExitOK {
		t.Fatalf("exit = %d, want 0", code)
	}
	if !strings.Contains(out, "No supported documents") {
		t.Errorf("output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "filigrane")); !os.IsNotExist(err) {
		t.Errorf("output directory created for an empty run: %v", err)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no folder", nil, report.ExitUsage},
		{"missing folder", []string{filepath.Join(t.TempDir(), "nope")}, report.ExitUsage},
		{"bad concurrency", []string{"-j", "0", t.TempDir()}, report.ExitUsage},
		{"help", []string{"--help"}, report.ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := execute(t, tt.args...); code != tt.want {
				t.Errorf("exit = %d, want %d", code, tt.want)
			}
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, out := execute(t, "--version")
	if code != report.ExitOK || !strings.Contains(out, "filigrane "+version) {
		t.Errorf("exit = %d, output = %q", code, out)
	}
}
