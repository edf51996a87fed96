// Command stgstress exercises a storage target with deterministic
// read/write/flush/unmap transactions and verifies data integrity.
//
// Usage:
//
//	stgstress [flags] target [op-count [op-set [address|* [count|*]]]]
//
// The target is either "pipe:" plus a socket path for the message
// channel, or a block device path opened through SCSI pass-through.
// The op-set is a string of the letters R, W, F and U.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	stgstress "github.com/ehrlich-b/stgstress"
	"github.com/ehrlich-b/stgstress/internal/logging"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: %s [flags] target [op-count [op-set [address|* [count|*]]]]

targets:
  pipe:PATH    message channel at unix socket PATH
  DEVICE       raw block device (e.g. /dev/sdz)

arguments:
  op-count     total operations to issue, cycling the op-set (default 1)
  op-set       operation mix from the letters R W F U (default WR)
  address      starting block, or * for random addressing
  count        blocks per operation, or * for random windows

flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	var (
		seed       = flag.Uint("s", 0, "deterministic seed (0 derives one from the clock)")
		configPath = flag.String("config", "", "YAML parameter file")
		verbose    = flag.Bool("v", false, "enable debug logging")
		logFormat  = flag.String("log", "text", "log format: text or json")
	)
	flag.Usage = usage
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Format = *logFormat
	if *verbose {
		logCfg.Level = logging.LevelDebug
	}
	logging.SetDefault(logging.NewLogger(logCfg))

	params, err := loadParams(*configPath, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[0], err)
		flag.Usage()
		os.Exit(2)
	}
	if *seed != 0 {
		params.Seed = uint32(*seed)
	}

	if err := stgstress.Run(params, nil); err != nil {
		logging.Error("run failed", "error", err.Error())
		os.Exit(1)
	}
}

// loadParams layers the positional arguments over the config file (if
// any) over the defaults.
func loadParams(configPath string, args []string) (stgstress.Params, error) {
	params := stgstress.DefaultParams()
	if configPath != "" {
		var err error
		params, err = stgstress.LoadParams(configPath)
		if err != nil {
			return params, err
		}
	}

	if len(args) > 5 {
		return params, fmt.Errorf("too many arguments")
	}
	if len(args) > 0 {
		params.Target = args[0]
	}
	if params.Target == "" {
		return params, fmt.Errorf("no target")
	}
	if len(args) > 1 {
		n, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return params, fmt.Errorf("op count %q: %w", args[1], err)
		}
		params.OpCount = n
	}
	if len(args) > 2 {
		params.OpSet = args[2]
	}
	if len(args) > 3 {
		if err := params.SetAddress(args[3]); err != nil {
			return params, err
		}
	}
	if len(args) > 4 {
		if err := params.SetCount(args[4]); err != nil {
			return params, err
		}
	}
	return params, nil
}
