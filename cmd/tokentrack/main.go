package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tokentrack",
	Short: "TokenTrack: AI token usage tracker",
	Long:  "TokenTrack runs prompts against AI models, estimates their token usage and cost, and keeps a per-user usage log with summaries, analytics and CSV export.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus environment)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
