package upload

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Kief5555/fileserver/internal/files"
)

func newAssembler(t *testing.T) (*Assembler, *files.Root) {
	t.Helper()
	root, err := files.NewRoot(t.TempDir())
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	a, err := New(root, filepath.Join(t.TempDir(), "staging"), files.NewMemoryCache())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, root
}

func sendChunk(t *testing.T, a *Assembler, id string, index, total int, data string) (Result, error) {
	t.Helper()
	return a.ReceiveChunk(context.Background(), id, index, total, strings.NewReader(data), "public", "out.bin")
}

func readDest(t *testing.T, root *files.Root) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root.Abs(), "public", "out.bin"))
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	return string(data)
}

func TestAssembleInOrder(t *testing.T) {
	a, root := newAssembler(t)

	for i, data := range []string{"aaa", "bbb", "ccc"} {
		result, err := sendChunk(t, a, "up1", i, 3, data)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		want := ChunkAccepted
		if i == 2 {
			want = AssemblyComplete
		}
		if result != want {
			t.Fatalf("chunk %d result = %v, want %v", i, result, want)
		}
	}

	if got := readDest(t, root); got != "aaabbbccc" {
		t.Errorf("assembled content = %q, want aaabbbccc", got)
	}
	if _, err := os.Stat(a.stagingDir("up1")); !os.IsNotExist(err) {
		t.Error("staging dir not removed after assembly")
	}
}

func TestAssembleOutOfOrder(t *testing.T) {
	a, root := newAssembler(t)

	// The last-indexed chunk triggers assembly regardless of arrival
	// order, so it must come last here.
	order := []int{1, 0, 2}
	data := []string{"aaa", "bbb", "ccc"}
	for _, i := range order {
		if _, err := sendChunk(t, a, "up2", i, 3, data[i]); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
	}
	if got := readDest(t, root); got != "aaabbbccc" {
		t.Errorf("assembled content = %q, want aaabbbccc", got)
	}
}

func TestAssembleMissingChunkKeepsStaging(t *testing.T) {
	a, root := newAssembler(t)

	if _, err := sendChunk(t, a, "up3", 0, 3, "aaa"); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	// Chunk 1 never arrives; the trigger chunk exposes the gap.
	_, err := sendChunk(t, a, "up3", 2, 3, "ccc")
	var missing *ChunkMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want ChunkMissingError", err)
	}
	if missing.Index != 1 {
		t.Errorf("missing index = %d, want 1", missing.Index)
	}

	// Staged chunks survive so the client resends only the gap.
	if _, err := os.Stat(filepath.Join(a.stagingDir("up3"), "0")); err != nil {
		t.Errorf("staged chunk 0 lost: %v", err)
	}

	// Resending the gap then the trigger completes the upload.
	if _, err := sendChunk(t, a, "up3", 1, 3, "bbb"); err != nil {
		t.Fatalf("chunk 1 resend: %v", err)
	}
	result, err := sendChunk(t, a, "up3", 2, 3, "ccc")
	if err != nil || result != AssemblyComplete {
		t.Fatalf("trigger resend: result=%v err=%v", result, err)
	}
	if got := readDest(t, root); got != "aaabbbccc" {
		t.Errorf("assembled content = %q, want aaabbbccc", got)
	}
}

func TestChunkResendOverwrites(t *testing.T) {
	a, root := newAssembler(t)

	if _, err := sendChunk(t, a, "up4", 0, 2, "WRONG"); err != nil {
		t.Fatal(err)
	}
	if _, err := sendChunk(t, a, "up4", 0, 2, "right"); err != nil {
		t.Fatal(err)
	}
	if _, err := sendChunk(t, a, "up4", 1, 2, "-tail"); err != nil {
		t.Fatal(err)
	}
	if got := readDest(t, root); got != "right-tail" {
		t.Errorf("assembled content = %q, want right-tail", got)
	}
}

func TestAssembleReplacesExistingDestination(t *testing.T) {
	a, root := newAssembler(t)

	dest := filepath.Join(root.Abs(), "public", "out.bin")
	if err := os.WriteFile(dest, []byte("old content that is longer"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := sendChunk(t, a, "up5", 0, 1, "new"); err != nil {
		t.Fatal(err)
	}
	if got := readDest(t, root); got != "new" {
		t.Errorf("assembled content = %q, want new", got)
	}
}

func TestReceiveChunkValidation(t *testing.T) {
	a, _ := newAssembler(t)
	ctx := context.Background()

	cases := []struct {
		name       string
		identifier string
		index      int
		total      int
		fileName   string
		targetDir  string
	}{
		{"traversal identifier", "../evil", 0, 1, "a.txt", "public"},
		{"traversal filename", "up", 0, 1, "../a.txt", "public"},
		{"negative index", "up", -1, 1, "a.txt", "public"},
		{"index beyond total", "up", 2, 2, "a.txt", "public"},
		{"zero total", "up", 0, 0, "a.txt", "public"},
		{"escaping target dir", "up", 0, 1, "a.txt", "../.."},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.ReceiveChunk(ctx, tt.identifier, tt.index, tt.total,
				bytes.NewReader([]byte("x")), tt.targetDir, tt.fileName)
			if err == nil {
				t.Error("want error, got nil")
			}
		})
	}

	if _, err := a.ReceiveChunk(ctx, "up", 0, 1, bytes.NewReader(nil), "public/nope", "a.txt"); !errors.Is(err, files.ErrNotFound) {
		t.Errorf("missing target dir: got %v, want ErrNotFound", err)
	}
}

func TestWriteWhole(t *testing.T) {
	a, root := newAssembler(t)

	n, err := a.WriteWhole(context.Background(), "public", "doc.txt", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("WriteWhole: %v", err)
	}
	if n != 7 {
		t.Errorf("written = %d, want 7", n)
	}
	data, err := os.ReadFile(filepath.Join(root.Abs(), "public", "doc.txt"))
	if err != nil || string(data) != "payload" {
		t.Errorf("content = %q err = %v", data, err)
	}
}

func TestAbandon(t *testing.T) {
	a, _ := newAssembler(t)

	if _, err := sendChunk(t, a, "up6", 0, 3, "aaa"); err != nil {
		t.Fatal(err)
	}
	if err := a.Abandon("up6"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if _, err := os.Stat(a.stagingDir("up6")); !os.IsNotExist(err) {
		t.Error("staging dir still present after abandon")
	}
}

func lockCount(a *Assembler) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}

func TestLockReleasedAfterAssembly(t *testing.T) {
	a, root := newAssembler(t)

	if _, err := sendChunk(t, a, "up-done", 0, 2, "aa"); err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	result, err := sendChunk(t, a, "up-done", 1, 2, "bb")
	if err != nil {
		t.Fatalf("chunk 1: %v", err)
	}
	if result != AssemblyComplete {
		t.Fatalf("result = %v, want AssemblyComplete", result)
	}
	if got := readDest(t, root); got != "aabb" {
		t.Errorf("assembled content = %q, want aabb", got)
	}

	// Identifiers are client-chosen, so completed uploads must not pin
	// entries in the lock map.
	if n := lockCount(a); n != 0 {
		t.Errorf("lock map has %d entries after assembly, want 0", n)
	}
}

func TestLockReleasedAfterFailureAndAbandon(t *testing.T) {
	a, _ := newAssembler(t)

	// Trigger with chunk 0 missing: assembly fails, staging survives.
	if _, err := sendChunk(t, a, "up-gap", 1, 2, "bb"); err == nil {
		t.Fatal("expected missing-chunk error")
	}
	if n := lockCount(a); n != 0 {
		t.Errorf("lock map has %d entries after failed assembly, want 0", n)
	}

	if err := a.Abandon("up-gap"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if n := lockCount(a); n != 0 {
		t.Errorf("lock map has %d entries after Abandon, want 0", n)
	}
}
