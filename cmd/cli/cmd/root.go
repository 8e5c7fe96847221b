package cmd

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "sellctl",
	Short: "Sellctl is the operator tool for the sellwatch ingestion pipeline",
	Long: `sellctl is the command-line interface for operating sellwatch, the
marketplace order and stock ingestion pipeline.

The pipeline runs as a worker process that pulls tasks from a durable
Postgres queue. sellctl connects to the same database to inspect and
control the job tables.

Common workflows:

  Backfill a freshly connected tenant (90 days of orders plus stocks):
    sellctl preload <tenant-id>

  List the jobs currently running or recently finished:
    sellctl jobs

  Resolve jobs orphaned by a crashed worker:
    sellctl recover

  Show how many tasks are waiting on the queue:
    sellctl queue

Configuration:
  The database connection is taken from the environment or a config file:
    SELLWATCH_DATABASE_URL    Postgres connection string`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	// Picks up DATABASE_URL from a local .env during development.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("sellwatch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SELLWATCH")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sellwatch.yaml)")

	rootCmd.PersistentFlags().String("database-url", "", "Postgres connection string")
	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
}
