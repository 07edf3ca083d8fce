package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of customer-engine",
	Long: `Version prints the release version stamped at build time. Binaries built
with "go install" fall back to the module version, and the VCS revision is
appended when the toolchain recorded one.`,
	Run: func(cmd *cobra.Command, args []string) {
		info, _ := debug.ReadBuildInfo()
		fmt.Fprintln(cmd.OutOrStdout(), versionString(version, info))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionString formats the version line from the ldflags value and, when
// available, the binary's build information.
func versionString(stamped string, info *debug.BuildInfo) string {
	v := stamped
	if info == nil {
		return "customer-engine " + v
	}
	if v == "" || v == "dev" {
		if mv := info.Main.Version; mv != "" && mv != "(devel)" {
			v = mv
		}
	}

	var revision, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	line := fmt.Sprintf("customer-engine %s (%s", v, info.GoVersion)
	if revision != "" {
		if len(revision) > 12 {
			revision = revision[:12]
		}
		line += ", " + revision
		if modified == "true" {
			line += "-dirty"
		}
	}
	return line + ")"
}
