package model

import (
	"context"
	"io"
	"log/slog"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

const (
	AudioFormatMP3 = "mp3"

	DefaultBinary      = "yt-dlp"
	DefaultGracePeriod = 2 * time.Second
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version     int        `json:"version" yaml:"version"` // fixed 0 for now
	Downloader  Downloader `json:"downloader" yaml:"downloader"`
	DownloadDir string     `json:"download_dir" yaml:"download_dir"` // empty => user Downloads dir
	Service     Service    `json:"service" yaml:"service"`
}

// Downloader describes how the external download tool is invoked.
type Downloader struct {
	Binary             string   `json:"binary" yaml:"binary"`                             // path or name on PATH
	CookiesFromBrowser string   `json:"cookies_from_browser" yaml:"cookies_from_browser"` // "" disables
	AudioFormat        string   `json:"audio_format" yaml:"audio_format"`
	EmbedThumbnail     bool     `json:"embed_thumbnail" yaml:"embed_thumbnail"`
	ExtraPath          []string `json:"extra_path" yaml:"extra_path"` // prepended to PATH
}

type Service struct {
	Verbose     bool   `json:"verbose" yaml:"verbose"`
	GracePeriod string `json:"grace_period" yaml:"grace_period"` // e.g. 2s, 500ms
}

// Grace returns the parsed grace period or DefaultGracePeriod when the value
// is empty or malformed.
func (s Service) Grace() time.Duration {
	if s.GracePeriod == "" {
		return DefaultGracePeriod
	}
	d, err := time.ParseDuration(s.GracePeriod)
	if err != nil || d <= 0 {
		return DefaultGracePeriod
	}
	return d
}

// DefaultConfig returns the configuration which applies when no config file
// exists. It is produced by the schema defaults, so both never drift apart.
func DefaultConfig(ctx context.Context) Config {
	var cfg Config
	if err := schema.Decode(&cfg); err != nil {
		slog.WarnContext(ctx, "decoding schema defaults failed", "error", err)
		return Config{
			Downloader: Downloader{
				Binary:             DefaultBinary,
				CookiesFromBrowser: "chrome",
				AudioFormat:        AudioFormatMP3,
				EmbedThumbnail:     true,
			},
			Service: Service{GracePeriod: DefaultGracePeriod.String()},
		}
	}
	return cfg
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}

	return out, nil
}
