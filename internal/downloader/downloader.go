// Package downloader knows how to invoke the external download tool.
package downloader

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/adrg/xdg"

	"github.com/CZERTAINLY/batchdl/internal/model"
	"github.com/CZERTAINLY/batchdl/internal/service"
)

// Builder turns a URL into a service.Command running the configured tool.
type Builder struct {
	cfg  model.Downloader
	env  []string
	path string
}

// NewBuilder captures environ with PATH prefixed by cfg.ExtraPath. Entries
// which are already on PATH are moved to the front rather than duplicated.
func NewBuilder(cfg model.Downloader, environ []string) *Builder {
	path := joinPath(cfg.ExtraPath, lookupEnv(environ, "PATH"))
	env := make([]string, 0, len(environ)+1)
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "PATH=") {
			env = append(env, kv)
		}
	}
	env = append(env, "PATH="+path)
	return &Builder{cfg: cfg, env: env, path: path}
}

// Build implements service.CommandBuilder.
func (b *Builder) Build(url string, audio bool, dir string) (service.Command, error) {
	if url == "" {
		return service.Command{}, errors.New("empty url")
	}
	bin, err := b.lookPath()
	if err != nil {
		return service.Command{}, err
	}

	var args []string
	if b.cfg.CookiesFromBrowser != "" {
		args = append(args, "--cookies-from-browser", b.cfg.CookiesFromBrowser)
	}
	if audio {
		format := b.cfg.AudioFormat
		if format == "" {
			format = model.AudioFormatMP3
		}
		args = append(args, "-x", "--audio-format", format)
		if b.cfg.EmbedThumbnail {
			args = append(args, "--embed-thumbnail")
		}
	}
	// a url starting with "-" must not be read as an option
	args = append(args, "--", url)

	return service.Command{
		Path: bin,
		Args: args,
		Env:  slices.Clone(b.env),
		Dir:  dir,
	}, nil
}

// lookPath resolves the binary on the augmented PATH. exec.LookPath
// consults the PATH of this process only.
func (b *Builder) lookPath() (string, error) {
	name := b.cfg.Binary
	if name == "" {
		name = model.DefaultBinary
	}
	if strings.ContainsRune(name, filepath.Separator) {
		if err := executable(name); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(b.path) {
		if dir == "" {
			continue
		}
		path := filepath.Join(dir, name)
		if executable(path) == nil {
			return path, nil
		}
	}
	return "", &exec.Error{Name: name, Err: exec.ErrNotFound}
}

func executable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return os.ErrPermission
	}
	return nil
}

func joinPath(extra []string, current string) string {
	var dirs []string
	for _, d := range slices.Concat(extra, filepath.SplitList(current)) {
		if d != "" && !slices.Contains(dirs, d) {
			dirs = append(dirs, d)
		}
	}
	return strings.Join(dirs, string(filepath.ListSeparator))
}

func lookupEnv(environ []string, key string) string {
	var ret string
	for _, kv := range environ {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			ret = v
		}
	}
	return ret
}

// DownloadDir resolves where downloads are written: the configured
// directory, the user Downloads directory, or ~/Downloads. The directory is
// created when missing.
func DownloadDir(configured string) (string, error) {
	dir := configured
	if dir == "" {
		dir = xdg.UserDirs.Download
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("no download directory: %w", err)
		}
		dir = filepath.Join(home, "Downloads")
	}
	if strings.HasPrefix(dir, "~"+string(filepath.Separator)) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, dir[2:])
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	return dir, nil
}

// DirFunc adapts DownloadDir for service.NewScheduler. The directory is
// resolved on every submit.
func DirFunc(configured string) service.DirFunc {
	return func() (string, error) {
		return DownloadDir(configured)
	}
}
