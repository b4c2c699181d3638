package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "logsentry/internal/plugins/monitors"
	_ "logsentry/internal/plugins/readers"
)

var version = "dev"

var (
	configPath string
	verbose    int
	forceDaily bool

	rootCmd = &cobra.Command{
		Use:           "logsentry",
		Short:         "Scan log files and mail alerts raised by monitor plugins",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run a single scan and exit",
		RunE:  runScan,
	}

	daemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Scan on a fixed interval until told to stop (use this with systemd)",
		RunE:  runDaemon,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/logsentry/config.yaml", "config file, YAML or JSON")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "raise log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVar(&forceDaily, "force-daily", false, "run the daily hooks of every monitor on the first scan")
	rootCmd.AddCommand(scanCmd, daemonCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
