package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "wearsurvey",
		Short: "Ordinal mixed-model analysis of wearable light-logger survey ratings",
	}

	rootCmd.AddCommand(
		newAnalyzeCmd(),
		newSimulateCmd(),
		newPredictCmd(),
		newFormulasCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
