package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func checkMissingFlags(cmd *cobra.Command, flags []string) bool {
	var missingFlags []string
	var providedFlags []string
	for _, required := range flags {
		if !cmd.Flag(required).Changed {
			missingFlags = append(missingFlags, required)
		} else {
			value := cmd.Flag(required).Value.String()
			providedFlags = append(providedFlags, fmt.Sprintf("--%s=%s", required, value))
		}
	}

	if len(missingFlags) == 0 {
		return false
	}

	var msg string
	for _, f := range missingFlags {
		msg += fmt.Sprintf("--%s ", f)
	}

	color.Red("missing: %s\n", msg)
	if len(providedFlags) > 0 {
		color.Green("provide: %s\n", strings.Join(providedFlags, " "))
	}
	cmd.Println("")
	_ = cmd.Usage()

	return true
}
