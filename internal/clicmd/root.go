// Package clicmd wires the data-contract shepherd's components into a
// cobra CLI: run starts the bot, doctor checks that the configured
// backend and credentials are usable, and config inspects the effective
// configuration.
package clicmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logo    = "\n" +
		"  ___            _                  _   ____        _\n" +
		" / __|___ _ _ ___| |_ _ _ __ _ __| |_| __ )  ___ | |_\n" +
		"| (__/ _ \\ ' \\___|  _| '_/ _` / _|  _|  _ \\ / _ \\| __|\n" +
		" \\___\\___/_||_|   \\__|_| \\__,_\\__|\\__|____/ \\___/ \\__|\n"
)

var rootCmd = &cobra.Command{
	Use:   "contractbot",
	Short: "Data-contract shepherd",
	Long:  color.CyanString(logo) + "\nA chat-resident agent that shepherds data contracts through their lifecycle.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(configCmd)
}

func printHeader(title string) {
	color.Cyan(logo)
	if title != "" {
		color.New(color.Bold).Println(title)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("")
		cmd.Println("contractbot " + version)
	},
}
