package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/CZERTAINLY/batchdl/internal/log"
	"github.com/CZERTAINLY/batchdl/internal/model"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var (
	userConfigPath string // /default/config/path/batchdl on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagAudio          bool   // value of run --audio flag
	flagDir            string // value of run --dir flag
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "batchdl")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is batchdl.yaml in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	runCmd.Flags().BoolVar(&flagAudio, "audio", false, "extract audio only")
	runCmd.Flags().StringVar(&flagDir, "dir", "", "download directory, overrides download_dir from config")

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initBatchdl

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("batchdl failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "batchdl",
	Short:        "Downloads up to five media URLs, three at a time",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run URL...",
	Short: "run downloads the given URLs and waits for them, Ctrl-C cancels the batch",
	Args:  cobra.MinimumNArgs(1),
	RunE:  doRun,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a batchdl",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("batchdl: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:     %s\n", configPath)
		}
		fmt.Printf("batchdl:    %s\n", info.Main.Version)
		fmt.Printf("downloader: %s\n", config.Downloader.Binary)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:      %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func initBatchdl(cmd *cobra.Command, _ []string) error {
	if envConfig, ok := os.LookupEnv("BATCHDLCONFIG"); ok {
		configPath = envConfig
	} else if flagConfigFilePath != "" {
		configPath = flagConfigFilePath
	} else {
		for _, d := range []string{userConfigPath, "."} {
			path := filepath.Join(d, "batchdl.yaml")
			if exists(path) {
				configPath = path
				break
			}
		}
	}

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(context.Background())
		configPath = filepath.Join(userConfigPath, "batchdl.yaml")
		err := os.MkdirAll(filepath.Dir(configPath), 0755)
		if err != nil {
			return fmt.Errorf("creating directory %s: %w", filepath.Dir(configPath), err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", configPath, err)
		}
		defer func() {
			_ = f.Close()
		}()
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(config)
		if err != nil {
			return fmt.Errorf("storing configuration: %w", err)
		}
	} else {
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("opening config file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		config, err = model.LoadConfig(f)
		if err != nil {
			for _, d := range model.CueErrDetails(err) {
				slog.Error("invalid config", d.Attr("error"))
			}
			return fmt.Errorf("parsing config %s: %w", configPath, err)
		}
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Service.Verbose = true
	}

	slog.SetDefault(log.New(os.Stderr, config.Service.Verbose))

	slog.Debug("batchdl run", "configPath", configPath)
	slog.Debug("batchdl run", "config", config)
	return nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
