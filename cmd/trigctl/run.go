package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crystal-mush/mushscript/pkg/bindings"
	"github.com/crystal-mush/mushscript/pkg/dispatch"
	"github.com/crystal-mush/mushscript/pkg/events"
	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/scripthost"
	"github.com/crystal-mush/mushscript/pkg/scripting"
	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Actor     string
	Command   string
	Argument  string
	Speech    string
	Direction string
	Amount    int64
	Follow    bool
	Timeout   time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <trigger-id>",
		Short: "Run one trigger against a scratch world",
		Long: `Run a single trigger as its attached entity, ignoring its flags and
argument filters. The script's mud.send and mud.echo output is printed.
With --follow, waits for scripts that call wait() to finish.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("bad trigger id %q", args[0])
			}
			return runTrigger(rootOpts, opts, id, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Actor, "actor", "Tester", "name of the player triggering the script")
	cmd.Flags().StringVar(&opts.Command, "cmd", "", "command word")
	cmd.Flags().StringVar(&opts.Argument, "arg", "", "command argument")
	cmd.Flags().StringVar(&opts.Speech, "speech", "", "spoken text")
	cmd.Flags().StringVar(&opts.Direction, "dir-name", "", "movement direction")
	cmd.Flags().Int64Var(&opts.Amount, "amount", 0, "amount (bribe, damage percent)")
	cmd.Flags().BoolVar(&opts.Follow, "follow", false, "wait for suspended scripts to finish")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "limit for --follow")
	return cmd
}

// scratch builds a world holding the trigger's owner and a player.
func scratch(td *trigger.TriggerData, actorName string) (*gamedb.World, scripting.Owner, events.Event, error) {
	w := gamedb.NewWorld()
	attached, err := td.AttachedEntityID()
	if err != nil {
		return nil, scripting.Owner{}, events.Event{}, err
	}
	zone := 0
	if td.AttachType == trigger.AttachWorld {
		zone = attached
	}
	room := w.AddRoom("Scratch Room", 0, zone)
	actor := w.AddActor(actorName, -1, room.ID)
	ev := events.Event{Actor: actor, Room: room}

	var owner scripting.Owner
	switch td.AttachType {
	case trigger.AttachMob:
		mob := w.AddActor(fmt.Sprintf("mob %d", attached), attached, room.ID)
		owner, ev.Subject = scripting.ActorOwner(mob), mob
	case trigger.AttachObject:
		obj := w.AddObject(fmt.Sprintf("object %d", attached), attached, room.ID)
		owner, ev.Subject, ev.Object = scripting.ObjectOwner(obj), obj, obj
	default:
		owner, ev.Subject = scripting.RoomOwner(room), room
	}
	return w, owner, ev, nil
}

func runTrigger(rootOpts *RootOptions, opts *RunOptions, id int, cmd *cobra.Command) error {
	src, cfg, err := rootOpts.open()
	if err != nil {
		return err
	}
	defer src.Close()

	ctx := cmd.Context()
	td, err := src.Trigger(ctx, id)
	if err != nil {
		return err
	}
	world, owner, ev, err := scratch(td, opts.Actor)
	if err != nil {
		return err
	}
	ev.Command, ev.Argument, ev.Speech = opts.Command, opts.Argument, opts.Speech
	ev.Direction, ev.Amount = opts.Direction, opts.Amount

	out := cmd.OutOrStdout()
	host, err := scripthost.New(scripthost.Options{
		Config:   cfg,
		Loader:   src,
		World:    world,
		Bindings: []scripting.Binding{bindings.NewOutput(out)},
	})
	if err != nil {
		return err
	}
	host.Start()
	defer host.Shutdown()

	var (
		rep    dispatch.Report
		runErr error
	)
	if err := host.Do(func() {
		rep, runErr = host.Manager().DebugExecuteTrigger(ctx, id, owner, ev)
	}); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}

	if opts.Follow && rep.Suspended > 0 {
		if err := follow(host, opts.Timeout); err != nil {
			return err
		}
	}

	host.Do(func() {
		if td, err := host.Manager().FindTriggerByID(ctx, id); err == nil {
			vars := td.Variables
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "var %s = %q\n", k, vars[k])
			}
		}
	})
	fmt.Fprintf(out, "trigger #%d %s: completed=%d suspended=%d failed=%d\n",
		id, td.Name, rep.Completed, rep.Suspended, rep.Failed)
	if rep.Failed > 0 {
		return fmt.Errorf("trigger %d failed", id)
	}
	return nil
}

// follow polls the scheduler until nothing is pending.
func follow(host *scripthost.Host, limit time.Duration) error {
	deadline := time.Now().Add(limit)
	for {
		var pending int
		if err := host.Do(func() { pending = host.Scheduler().PendingCount() }); err != nil {
			return err
		}
		if pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d script(s) still waiting after %s", pending, limit)
		}
		time.Sleep(100 * time.Millisecond)
	}
}
