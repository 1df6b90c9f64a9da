package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	host   string
	tenant string
)

var rootCmd = &cobra.Command{
	Use:   "verity",
	Short: "Verity CLI",
	Long:  `A developer-facing tool to interact with the Verity audit API.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&host, "host", "", "Verity API URL")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Tenant ID")
}

func initConfig() {
	viper.SetConfigName(".verity")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("VERITY")
	viper.AutomaticEnv()
	viper.SetDefault("host", "http://localhost:8080")
	_ = viper.ReadInConfig()

	if host == "" {
		host = viper.GetString("host")
	}
	if tenant == "" {
		tenant = viper.GetString("tenant")
	}
}
