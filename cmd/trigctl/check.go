package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mushscript/pkg/scripting"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate and compile every trigger",
		Long: `Load every trigger from the configured source, check its attachment
and argument list, and compile its script in the sandboxed engine.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, cmd)
		},
	}
}

func runCheck(opts *RootOptions, cmd *cobra.Command) error {
	src, _, err := opts.open()
	if err != nil {
		return err
	}
	defer src.Close()

	rows, err := src.all()
	if err != nil {
		return err
	}
	engine := scripting.NewEngine(scripting.Config{})
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Shutdown()

	out := cmd.OutOrStdout()
	failed := 0
	for _, td := range rows {
		err := td.Validate()
		if err == nil {
			_, err = engine.Compile(td.Commands, td.CacheKey())
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "FAIL #%d %s: %v\n", td.ID, td.Name, err)
			continue
		}
		fmt.Fprintf(out, "ok   #%d %s [%s %s]\n", td.ID, td.Name, td.AttachType, td.FlagsString())
	}
	fmt.Fprintf(out, "%d triggers, %d failed\n", len(rows), failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d triggers failed", failed, len(rows))
	}
	return nil
}
