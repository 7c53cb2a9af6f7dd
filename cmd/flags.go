package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kozaktomas/campus-attendance/internal/database"
)

// mustGet reads a flag registered in init(). A lookup error is a programming
// bug, so it panics.
func mustGet[T any](cmd *cobra.Command, name string, get func(*pflag.FlagSet, string) (T, error)) T {
	val, err := get(cmd.Flags(), name)
	if err != nil {
		panic(fmt.Sprintf("flag error for --%s: %v", name, err))
	}
	return val
}

func mustGetBool(cmd *cobra.Command, name string) bool {
	return mustGet(cmd, name, (*pflag.FlagSet).GetBool)
}

func mustGetInt(cmd *cobra.Command, name string) int {
	return mustGet(cmd, name, (*pflag.FlagSet).GetInt)
}

func mustGetString(cmd *cobra.Command, name string) string {
	return mustGet(cmd, name, (*pflag.FlagSet).GetString)
}

func mustGetFloat64(cmd *cobra.Command, name string) float64 {
	return mustGet(cmd, name, (*pflag.FlagSet).GetFloat64)
}

// timeOfDayFlag parses an HH:MM flag. Unlike a missing flag, a malformed
// value is the user's mistake and is returned as an error.
func timeOfDayFlag(cmd *cobra.Command, name string) (database.TimeOfDay, error) {
	t, err := database.ParseTimeOfDay(mustGetString(cmd, name))
	if err != nil {
		return 0, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}
