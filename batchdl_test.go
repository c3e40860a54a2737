package batchdl_test

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	batchdlPath string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

// fakeTool stands in for yt-dlp: urls containing "fail" exit 1, urls
// containing "slow" run until killed, others write <basename>.done.
const fakeTool = `#!/bin/sh
for last; do :; done
echo "args: $*"
case "$last" in
  *fail*) echo "ERROR: unsupported url" >&2; exit 1;;
  *slow*) touch "started-$$"; while :; do sleep 1; done;;
esac
printf '[download]  50%%\r[download] 100%%\n'
echo "$*" > "$(basename "$last").done"
`

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}
	if runtime.GOOS == "windows" {
		slog.Warn("integration tests need a POSIX shell")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", strings.ReplaceAll(t.Name(), "/", "_")+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	if !isExecutable("batchdl-ci") {
		slog.Warn("integration tests skipped: run go build -race -cover -covermode=atomic -o batchdl-ci ./cmd/batchdl/ first")
		os.Exit(0)
	}

	var err error
	batchdlPath, err = filepath.Abs("batchdl-ci")
	if err != nil {
		slog.Error("can't get abspath for batchdl-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for batchdl-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for batchdl-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

type fixture struct {
	home      string
	config    string
	downloads string
}

func setup(t *testing.T) fixture {
	t.Helper()
	root := tmpDir(t)
	f := fixture{
		home:      filepath.Join(root, "home"),
		config:    filepath.Join(root, "batchdl.yaml"),
		downloads: filepath.Join(root, "downloads"),
	}
	require.NoError(t, os.MkdirAll(f.home, 0755))

	tool := filepath.Join(root, "yt-dlp")
	creat(t, tool, []byte(fakeTool))
	require.NoError(t, os.Chmod(tool, 0755))

	config := fmt.Sprintf(`
version: 0
downloader:
    binary: %q
    cookies_from_browser: ""
download_dir: %q
service:
    verbose: true
    grace_period: 500ms
`, tool, f.downloads)
	creat(t, f.config, []byte(config))
	return f
}

func (f fixture) command(ctx context.Context, args ...string) (*exec.Cmd, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, batchdlPath, append([]string{"run", "--config", f.config}, args...)...)
	cmd.Env = []string{
		"HOME=" + f.home,
		"XDG_CONFIG_HOME=" + filepath.Join(f.home, ".config"),
		"PATH=" + os.Getenv("PATH"),
		"GOCOVERDIR=" + os.Getenv("GOCOVERDIR"),
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	return cmd, &stdout, &stderr
}

func TestBatchdl(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	cmd, stdout, stderr := f.command(ctx, "--audio", "https://example.com/a", " 'https://example.com/b' ", "https://example.com/c")
	err := cmd.Run()
	if err != nil {
		t.Logf("%s", stderr.String())
		require.NoError(t, err)
	}

	out := stdout.String()
	require.Contains(t, out, "finished: 3 job(s)")
	require.Contains(t, out, "[download] 100%")
	for _, name := range []string{"a", "b", "c"} {
		b, err := os.ReadFile(filepath.Join(f.downloads, name+".done"))
		require.NoError(t, err)
		require.Equal(t, "-x --audio-format mp3 --embed-thumbnail -- https://example.com/"+name+"\n", string(b))
	}
}

func TestBatchdlPartial(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	urls := []string{"https://example.com/a", "https://example.com/fail", "https://example.com/c", "https://example.com/d", "https://example.com/e"}
	cmd, stdout, stderr := f.command(ctx, urls...)
	err := cmd.Run()
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 1, exitErr.ExitCode())

	out := stdout.String()
	require.Contains(t, out, "finished: 4 job(s)")
	// slot logs are reused, the summary keeps the failure
	require.Contains(t, out, "job 2  failed")
	require.Contains(t, stderr.String(), "1 of 5 job(s) failed")
	for _, name := range []string{"a", "c", "d", "e"} {
		require.FileExists(t, filepath.Join(f.downloads, name+".done"))
	}
}

func TestBatchdlTooMany(t *testing.T) {
	f := setup(t)
	cmd, _, stderr := f.command(t.Context(), "1", "2", "3", "4", "5", "6")
	err := cmd.Run()
	require.Error(t, err)
	require.Contains(t, stderr.String(), "too many jobs")
}

func TestBatchdlCancel(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	cmd, stdout, stderr := f.command(ctx, "https://example.com/slow1", "https://example.com/slow2", "https://example.com/slow3", "https://example.com/slow4")
	require.NoError(t, cmd.Start())

	started := func() int {
		m, err := filepath.Glob(filepath.Join(f.downloads, "started-*"))
		require.NoError(t, err)
		return len(m)
	}
	require.Eventually(t, func() bool { return started() == 3 }, 30*time.Second, 50*time.Millisecond)
	require.NoError(t, cmd.Process.Signal(os.Interrupt))

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Logf("%s", stderr.String())
		t.Fatalf("expected exit error, got %v", err)
	}
	require.Equal(t, 1, exitErr.ExitCode())
	require.Equal(t, 3, started(), "the fourth job must never start")
	require.Contains(t, stdout.String(), "--- cancelled ---")
	require.Contains(t, stderr.String(), "batch cancelled: 0 of 4 job(s) completed")
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
