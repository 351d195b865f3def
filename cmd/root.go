package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "panelcraft",
	Short: "collaborative comic script tool",
	Example: `panelcraft db migrate
panelcraft history list
panelcraft history delete -i <project-id>
panelcraft serve
panelcraft reap --every 30s
panelcraft join -r <room-link-or-id> -n <name>`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(reapCmd())
	rootCmd.AddCommand(joinCmd())
	rootCmd.SetHelpCommand(&cobra.Command{Use: "no-help", Hidden: true})

	rootCmd.CompletionOptions.HiddenDefaultCmd = true
	cobra.EnableCommandSorting = false
}
