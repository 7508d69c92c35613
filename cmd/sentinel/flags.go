package main

import (
	"flag"

	"github.com/atlas-desktop/btcintel/internal/config"
)

// cliFlags holds the parsed command-line overrides plus the config
// file path, if any.
type cliFlags struct {
	configPath string
	overrides  config.Config
}

// parseFlags parses args (os.Args[1:] with the subcommand already
// stripped) and returns the overrides plus a set recording which flags
// were explicitly provided, so Load only applies flags the user
// actually passed.
func parseFlags(args []string) (cliFlags, map[string]bool, error) {
	fs := flag.NewFlagSet("sentinel", flag.ContinueOnError)

	cycleInterval := fs.Duration("cycle-interval", 0, "strategic cycle interval")
	hunterInterval := fs.Duration("hunter-interval", 0, "market hunter cycle interval")
	maxSources := fs.Int("max-sources", 0, "max data sources queried per hunter cycle")
	explorationRate := fs.Float64("exploration-rate", 0, "market hunter bandit exploration rate")
	storeDSN := fs.String("store", "", "store DSN (empty: in-memory)")
	logFile := fs.String("log-file", "", "path to log file (empty: stdout)")
	configPath := fs.String("config", "", "optional YAML config file")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, nil, err
	}

	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "cycle-interval":
			set["cycle_interval"] = true
		case "hunter-interval":
			set["hunter_interval"] = true
		case "max-sources":
			set["max_sources"] = true
		case "exploration-rate":
			set["exploration_rate"] = true
		case "store":
			set["store_dsn"] = true
		case "log-file":
			set["log_file"] = true
		}
	})

	return cliFlags{
		configPath: *configPath,
		overrides: config.Config{
			CycleInterval:   *cycleInterval,
			HunterInterval:  *hunterInterval,
			MaxSources:      *maxSources,
			ExplorationRate: *explorationRate,
			StoreDSN:        *storeDSN,
			LogFile:         *logFile,
		},
	}, set, nil
}
