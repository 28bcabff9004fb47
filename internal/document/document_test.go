package document

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	a, err := Fingerprint(strings.NewReader("same bytes"))
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	b, _ := Fingerprint(strings.NewReader("same bytes"))
	c, _ := Fingerprint(strings.NewReader("other bytes"))
	if a != b {
		t.Errorf("fingerprint not stable: %s != %s", a, b)
	}
	if a == c {
		t.Error("different content has the same fingerprint")
	}
	if !strings.HasPrefix(a, "sha256:") || len(a) != len("sha256:")+64 {
		t.Errorf("unexpected fingerprint format %q", a)
	}
}

func TestOpen_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for a non-PDF file")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

// fakePdftoppm writes a script standing in for pdftoppm. It fails the
// first failures invocations, then writes "<prefix>.png" holding the
// page number.
func fakePdftoppm(t *testing.T, failures int) (cmd, counter string) {
	t.Helper()
	dir := t.TempDir()
	counter = filepath.Join(dir, "count")
	script := `#!/bin/sh
n=$(cat "` + counter + `" 2>/dev/null || echo 0)
n=$((n+1))
echo $n > "` + counter + `"
if [ $n -le ` + strconv.Itoa(failures) + ` ]; then echo "transient" >&2; exit 1; fi
for a; do last=$a; done
printf "png-page-%s" "$3" > "$last.png"
`
	cmd = filepath.Join(dir, "pdftoppm")
	if err := os.WriteFile(cmd, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return cmd, counter
}

func invocations(t *testing.T, counter string) string {
	t.Helper()
	data, err := os.ReadFile(counter)
	if err != nil {
		return "0"
	}
	return strings.TrimSpace(string(data))
}

func TestPdftoppmRenderer(t *testing.T) {
	src := &Source{Path: "/books/sample.pdf", PageCount: 5}

	t.Run("renders page", func(t *testing.T) {
		cmd, _ := fakePdftoppm(t, 0)
		r := NewPdftoppmRenderer(PdftoppmConfig{Command: cmd})
		data, err := r.Render(context.Background(), src, 3)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if string(data) != "png-page-3" {
			t.Errorf("Render() = %q", data)
		}
	})

	t.Run("retries transient failure", func(t *testing.T) {
		cmd, counter := fakePdftoppm(t, 2)
		r := NewPdftoppmRenderer(PdftoppmConfig{Command: cmd, Delay: time.Millisecond})
		if _, err := r.Render(context.Background(), src, 1); err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if got := invocations(t, counter); got != "3" {
			t.Errorf("invocations = %s, want 3", got)
		}
	})

	t.Run("gives up", func(t *testing.T) {
		cmd, _ := fakePdftoppm(t, 9)
		r := NewPdftoppmRenderer(PdftoppmConfig{Command: cmd, Attempts: 2, Delay: time.Millisecond})
		if _, err := r.Render(context.Background(), src, 1); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("out of range", func(t *testing.T) {
		r := NewPdftoppmRenderer(PdftoppmConfig{Command: "unused"})
		if _, err := r.Render(context.Background(), src, 6); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("cache avoids second render", func(t *testing.T) {
		cmd, counter := fakePdftoppm(t, 0)
		r := NewPdftoppmRenderer(PdftoppmConfig{Command: cmd, CacheDir: filepath.Join(t.TempDir(), "pages")})
		for i := 0; i < 2; i++ {
			data, err := r.Render(context.Background(), src, 2)
			if err != nil || string(data) != "png-page-2" {
				t.Fatalf("Render() = %q, %v", data, err)
			}
		}
		if got := invocations(t, counter); got != "1" {
			t.Errorf("invocations = %s, want 1", got)
		}
		if _, err := os.Stat(r.CachePath(2)); err != nil {
			t.Errorf("cached page missing: %v", err)
		}
	})
}
