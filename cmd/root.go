/*
Copyright © 2024 xeBook
*/
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"sync"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xebook/readium-encrypt/internal/conf"
	"github.com/xebook/readium-encrypt/internal/logger"
	"github.com/xebook/readium-encrypt/pkg/encrypt"
	"github.com/xebook/readium-encrypt/pkg/source"
)

// Exit statuses for failures that happen before the tool runs.
const (
	exitInvalidLocator = 255
	exitSourceNotFound = 254
)

// Profiling Parameters
var (
	cpuProfile     bool
	memProfile     bool
	cpuProfileFile string
	memProfileFile string
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	cfg       *conf.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "readium-encrypt",
	Short: "A command line utility for content encryption",
	Long: `readium-encrypt protects EPUB and PDF publications with the Readium LCP
encryption tool. Sources can be read from the local file system, an S3 bucket
or over HTTP. The result can be registered with a License Server, published to
a message queue and recorded in a database.

The goal of this cross-platform command line executable is to be usable on any
kind of processing pipeline.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		onStopProfiling = profilingInit()
		return initConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer stopProfiling()
	err := rootCmd.Execute()
	if err != nil {
		stopProfiling()
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.readium-encrypt/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: json or console")

	// Profiling cli flags
	rootCmd.PersistentFlags().BoolVar(&cpuProfile, "cpu-profile", false, "write cpu profile to file")
	rootCmd.PersistentFlags().BoolVar(&memProfile, "mem-profile", false, "write memory profile to file")

	rootCmd.PersistentFlags().StringVar(&cpuProfileFile, "cpu-profile-file", "cpu.prof", "write cpu profile to file")
	rootCmd.PersistentFlags().StringVar(&memProfileFile, "mem-profile-file", "mem.prof", "write memory profile to file")
}

func initConfig(cmd *cobra.Command) error {
	c, err := conf.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
	}
	if logFormat != "" {
		c.Log.Format = logFormat
	}
	l, err := logger.New(cmd.ErrOrStderr(), c.Log.Level, c.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(l)
	cfg = c
	return nil
}

// exitCode maps failures to the process exit status. Tool failures exit with
// the tool's own status.
func exitCode(err error) int {
	var encErr *encrypt.Error
	switch {
	case errors.As(err, &encErr) && encErr.Code > 0:
		return encErr.Code
	case errors.Is(err, source.ErrUnsupportedScheme):
		return exitInvalidLocator
	case errors.Is(err, source.ErrNotFound):
		return exitSourceNotFound
	}
	return 1
}

// profilingInit starts cpu and memory profiling if enabled.
// It returns a function to stop profiling.
func profilingInit() func() {
	// doOnStop is a list of functions to be called on stop
	var doOnStop []func()
	// stop calls all necessary functions to stop profiling
	stop := func() {
		for _, d := range doOnStop {
			if d != nil {
				d()
			}
		}
	}

	if cpuProfile {
		fmt.Fprintln(os.Stderr, "cpu profile enabled")

		// Create profiling file
		f, err := os.Create(cpuProfileFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not create cpu profile file")
			return stop
		}

		// Start profiling
		err = pprof.StartCPUProfile(f)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not start cpu profiling")
			return stop
		}

		// Add function to stop cpu profiling to doOnStop list
		doOnStop = append(doOnStop, func() {
			pprof.StopCPUProfile()
			_ = f.Close()
			fmt.Fprintln(os.Stderr, "cpu profile stopped")
		})
	}

	if memProfile {
		fmt.Fprintln(os.Stderr, "memory profile enabled")

		// Create profiling file
		f, err := os.Create(memProfileFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, "could not create memory profile file")
			return stop
		}

		// Add function to stop memory profiling to doOnStop list
		doOnStop = append(doOnStop, func() {
			_ = pprof.WriteHeapProfile(f)
			_ = f.Close()
			fmt.Fprintln(os.Stderr, "memory profile stopped")
		})
	}

	return stop
}

// onStopProfiling is called when the cli exits
// profilingOnce makes sure it's only called once
var onStopProfiling func()
var profilingOnce sync.Once

// stopProfiling triggers _stopProfiling.
// It's safe to be called multiple times.
func stopProfiling() {
	if onStopProfiling != nil {
		profilingOnce.Do(onStopProfiling)
	}
}
