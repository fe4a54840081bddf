package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cachegpt",
	Short: "CacheGPT - Semantic cache engine for LLM APIs",
	Long: `CacheGPT sits in front of LLM providers and answers repeated or
paraphrased prompts from a tiered semantic cache.

Features:
  - Embedding similarity matching with per-model thresholds
  - Hot/warm/cool/cold/frozen tiers driven by a popularity score
  - Query pattern analysis and predictive pre-warming
  - OpenAI and Anthropic upstreams

Environment Variables:
  OPENAI_API_KEY      For embeddings and OpenAI completions
  ANTHROPIC_API_KEY   For Anthropic completions
  CACHEGPT_*          Overrides any config key (e.g. CACHEGPT_SERVER_PORT)`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./cachegpt.yaml or $HOME/.cachegpt.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose output")

	// Bind to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.SetConfigType("yaml")
		viper.SetConfigName("cachegpt")
	}

	// Read environment variables
	viper.SetEnvPrefix("CACHEGPT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
