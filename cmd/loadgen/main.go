// Command loadgen is the CLI entry point for the data-driven HTTP load
// generator: a run command driving a Postman collection plus CSV data
// against a target, and a demo command standing up the mock backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile string
	yes     bool

	rootCmd = &cobra.Command{
		Use:   "loadgen",
		Short: "loadgen - data-driven HTTP load generator",
		Long: `loadgen replays a Postman collection against a CSV data source, ramping
virtual users through a configurable ramp-up/steady/ramp-down profile and
aggregating latency, throughput, and validation metrics into a report.`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "run config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "skip the pre-run confirmation prompt")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("loadgen %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env file: %v\n", err)
	}
	viper.AutomaticEnv()
	viper.SetEnvPrefix("LOADGEN")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
