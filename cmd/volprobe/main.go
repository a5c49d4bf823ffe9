package main

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/kisun-bit/volprobe/disk/volumeid"
	"github.com/kisun-bit/volprobe/util/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

var cmdMain = &cobra.Command{
	Use:           "volprobe DEVICE",
	Short:         "Probe partition tables and filesystems of a block device or disk image",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return probe(cmd.OutOrStdout(), args[0])
	},
}

var flagMain struct {
	FrontSize  string
	WindowSize string
	LogLevel   string
	Debug      bool
	JSON       bool
	Workers    int
}

func init() {
	cmdMain.PersistentFlags().StringVar(&flagMain.FrontSize, "front-size", defaultFrontSize, "Size of the front (superblock) cache, e.g. 0x11000 or 68KiB")
	cmdMain.PersistentFlags().StringVar(&flagMain.WindowSize, "window-size", defaultWindowSize, "Size of the window (seek) cache, e.g. 0x10000 or 64KiB")
	cmdMain.PersistentFlags().StringVar(&flagMain.LogLevel, "log-level", "info", "Log level: debug, info, warn or error")
	cmdMain.PersistentFlags().BoolVar(&flagMain.Debug, "debug", false, "Log every cache refill (same as --log-level debug)")
	cmdMain.Flags().BoolVar(&flagMain.JSON, "json", false, "Print the result as JSON")
	cmdMain.Flags().IntVar(&flagMain.Workers, "workers", defaultWorkers, "Number of partitions probed concurrently")
	cmdMain.PersistentPreRun = func(*cobra.Command, []string) {
		logger.SetupDefaultLogger(logger.NewLogger("volprobe", logLevel()))
	}
}

func main() {
	if err := cmdMain.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logLevel --debug 优先于 --log-level.
func logLevel() zapcore.Level {
	if flagMain.Debug {
		return zapcore.DebugLevel
	}
	return logger.ParseLevel(flagMain.LogLevel)
}

const defaultWorkers = 4

var (
	defaultFrontSize  = humanize.IBytes(volumeid.DefaultFrontSize)
	defaultWindowSize = humanize.IBytes(volumeid.DefaultWindowSize)
)

// parseSize 解析整数(支持0x前缀)或带单位的大小(如 64KiB).
func parseSize(s string) (int, error) {
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		if v > math.MaxInt32 {
			return 0, errors.Errorf("size %s is too large", s)
		}
		return int(v), nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", s)
	}
	if v > math.MaxInt32 {
		return 0, errors.Errorf("size %s is too large", s)
	}
	return int(v), nil
}

func cacheOptions() ([]volumeid.Option, error) {
	front, err := parseSize(flagMain.FrontSize)
	if err != nil {
		return nil, errors.Wrap(err, "front-size")
	}
	window, err := parseSize(flagMain.WindowSize)
	if err != nil {
		return nil, errors.Wrap(err, "window-size")
	}
	return []volumeid.Option{
		volumeid.WithFrontSize(front),
		volumeid.WithWindowSize(window),
		volumeid.WithLogger(logger.Default()),
	}, nil
}
