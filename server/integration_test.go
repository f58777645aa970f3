package server

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// hmaclientBin is built once in TestMain and shared by every test in
// this file; it is the only way to exercise
// cross-process liveness and crash-recovery paths, which require a real
// second OS process holding its own fcntl byte-range locks (those locks
// are per-process, so spawning a goroutine in this process can never
// stand in for a second connection).
var hmaclientBin string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "hmaclient-bin-*")
	if err == nil {
		bin := filepath.Join(dir, "hmaclient")
		build := exec.Command("go", "build", "-o", bin, "github.com/multipager/hma/cmd/hmaclient")
		if build.Run() == nil {
			hmaclientBin = bin
		}
		defer os.RemoveAll(dir)
	}
	os.Exit(m.Run())
}

type helperProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Scanner
}

func startHelper(t *testing.T, args ...string) *helperProc {
	t.Helper()
	if hmaclientBin == "" {
		t.Skip("cmd/hmaclient could not be built; skipping cross-process test")
	}
	cmd := exec.Command(hmaclientBin, args...)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())

	return &helperProc{cmd: cmd, stdin: stdin, stdout: bufio.NewScanner(stdout)}
}

// nextLine reads the next status line the helper prints, failing the
// test if the process exits without printing anything.
func (h *helperProc) nextLine(t *testing.T) string {
	t.Helper()
	if !h.stdout.Scan() {
		t.Fatalf("hmaclient exited without output: %v", h.stdout.Err())
	}
	return h.stdout.Text()
}

func (h *helperProc) release(t *testing.T) {
	t.Helper()
	h.stdin.Write([]byte("\n"))
	h.stdin.Close()
	h.cmd.Wait()
}

func smallArgs(dbPath string, extra ...string) []string {
	base := []string{"--db", dbPath, "--client-slots", "4", "--page-lock-slots", "8"}
	return append(base, extra...)
}

func TestCrossProcessSharedLocksCoexist(t *testing.T) {
	dir := t.TempDir()
	dbPath := dir + "/db.sqlite"
	require.NoError(t, os.WriteFile(dbPath, nil, 0644))

	h1 := startHelper(t, smallArgs(dbPath, "--page", "42", "--hold-stdin")...)
	require.Equal(t, "CONNECTED 0", h1.nextLine(t))
	require.Equal(t, "LOCKED", h1.nextLine(t))
	defer h1.release(t)

	h2 := startHelper(t, smallArgs(dbPath, "--page", "42")...)
	require.Equal(t, "CONNECTED 1", h2.nextLine(t))
	require.Equal(t, "LOCKED", h2.nextLine(t))
	require.Equal(t, "DONE", h2.nextLine(t))
	h2.cmd.Wait()
}

func TestCrossProcessExclusiveContentionReturnsBusy(t *testing.T) {
	dir := t.TempDir()
	dbPath := dir + "/db.sqlite"
	require.NoError(t, os.WriteFile(dbPath, nil, 0644))

	h1 := startHelper(t, smallArgs(dbPath, "--page", "42", "--hold-stdin")...)
	require.Equal(t, "CONNECTED 0", h1.nextLine(t))
	require.Equal(t, "LOCKED", h1.nextLine(t))
	defer h1.release(t)

	h2 := startHelper(t, smallArgs(dbPath, "--page", "42", "--write")...)
	require.Equal(t, "CONNECTED 1", h2.nextLine(t))
	line := h2.nextLine(t)
	require.Contains(t, []string{"BUSY", "BUSY_DEADLOCK"}, line)
	h2.cmd.Wait()
}

func TestCrossProcessCrashRecovery(t *testing.T) {
	dir := t.TempDir()
	dbPath := dir + "/db.sqlite"
	require.NoError(t, os.WriteFile(dbPath, nil, 0644))

	h1 := startHelper(t, smallArgs(dbPath, "--page", "7", "--write", "--hold-stdin")...)
	require.Equal(t, "CONNECTED 0", h1.nextLine(t))
	require.Equal(t, "LOCKED", h1.nextLine(t))

	require.NoError(t, h1.cmd.Process.Kill())
	h1.cmd.Wait()

	h2 := startHelper(t, smallArgs(dbPath, "--page", "7", "--write")...)
	require.Equal(t, "CONNECTED 0", h2.nextLine(t), "the crashed client's slot must be reclaimed")
	require.Equal(t, "LOCKED", h2.nextLine(t), "EXCLUSIVE on page 7 must succeed once the dead client's bits are scrubbed")
	require.Equal(t, "DONE", h2.nextLine(t))
	h2.cmd.Wait()
}
