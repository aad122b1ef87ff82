package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// NewFlagsCommand creates the flags command.
func NewFlagsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "flags <mob|obj|world> <bits|name...>",
		Short: "Decode or encode trigger activation flags",
		Long: `Decode a stored flag value with the table of its attach type, or
encode flag names into the stored value. The same bit means different
things for mobs, objects and rooms.`,
		Example: "  trigctl flags mob 64\n  trigctl flags world enter \"zone reset\"",
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attach, err := trigger.ParseAttachType(args[0])
			if err != nil {
				return err
			}
			var fl trigger.Flags
			if n, err := strconv.ParseUint(args[1], 0, 32); err == nil && len(args) == 2 {
				fl = trigger.Flags(n)
			} else {
				fl, err = trigger.ParseFlags(attach, args[1:])
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d (%#x): %s\n", attach, uint32(fl), uint32(fl), trigger.DecodeFlags(attach, fl))
			return nil
		},
	}
}
