package trigfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crystal-mush/mushscript/pkg/trigger"
)

const zone30 = `
triggers:
  - id: 3000
    name: guard greeting
    attach: mob
    to: 3001
    flags: [greet, greet-all]
    args: ["50"]
    vars: {visits: "0"}
    script: |
      vars.visits = tonumber(vars.visits) + 1
  - id: 3001
    name: lever
    attach: obj
    to: 3001
    flags: [command]
    args: [pull]
    script: log("pulled")
  - id: 3002
    name: temple bells
    attach: world
    to: 30
    flags: [zone reset, enter]
    script: log("ding")
`

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestOpenParsesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "30.yaml", zone30)
	writeFile(t, dir, "README.txt", "not a trigger file")

	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Len() != 3 {
		t.Fatalf("Len = %d, want 3", d.Len())
	}
	ctx := context.Background()

	mobs, _ := d.MobTriggers(ctx, 3001)
	if len(mobs) != 1 || mobs[0].ID != 3000 {
		t.Fatalf("MobTriggers(3001) = %v", mobs)
	}
	g := mobs[0]
	if !g.HasMobFlag(trigger.MobGreet) || !g.HasMobFlag(trigger.MobGreetAll) {
		t.Errorf("flags = %s, want Greet and Greet-All", g.FlagsString())
	}
	if g.NumArgs != 1 || g.ArgList[0] != "50" || g.Variables["visits"] != "0" {
		t.Errorf("row = %+v", g)
	}
	if !strings.Contains(g.Commands, "vars.visits") {
		t.Errorf("script = %q", g.Commands)
	}

	// Object and mob share number 3001 without colliding.
	objs, _ := d.ObjectTriggers(ctx, 3001)
	if len(objs) != 1 || objs[0].ID != 3001 {
		t.Fatalf("ObjectTriggers(3001) = %v", objs)
	}

	zone, _ := d.ZoneTriggers(ctx, 30)
	if len(zone) != 1 || !zone[0].HasWorldFlag(trigger.WorldReset) || !zone[0].HasWorldFlag(trigger.WorldEnter) {
		t.Fatalf("ZoneTriggers(30) = %v", zone)
	}
}

func TestLoaderReturnsCopies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "30.yaml", zone30)
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	td, _ := d.Trigger(context.Background(), 3000)
	td.Variables["visits"] = "99"
	again, _ := d.Trigger(context.Background(), 3000)
	if again.Variables["visits"] != "0" {
		t.Errorf("mutation leaked into loader: %v", again.Variables)
	}
	if _, err := d.Trigger(context.Background(), 1); !errors.Is(err, trigger.ErrNotFound) {
		t.Errorf("Trigger(1) err = %v, want ErrNotFound", err)
	}
}

func TestBadFiles(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown attach", "triggers:\n  - {id: 1, attach: player, to: 1}\n", "unknown attach type"},
		{"unknown flag", "triggers:\n  - {id: 1, attach: obj, to: 1, flags: [speech]}\n", "no flag named"},
		{"missing id", "triggers:\n  - {attach: mob, to: 1}\n", "id must be positive"},
		{"not yaml", "triggers: [\n", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "bad.yml", tt.body)
			_, err := Open(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Open err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestDuplicateIDsAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "triggers:\n  - {id: 5, attach: mob, to: 1}\n")
	writeFile(t, dir, "b.yaml", "triggers:\n  - {id: 5, attach: obj, to: 2}\n")
	if _, err := Open(dir); err == nil || !strings.Contains(err.Error(), "defined in both") {
		t.Fatalf("Open err = %v, want duplicate id error", err)
	}
}

func TestReloadFailureKeepsRows(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "30.yaml", zone30)
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	writeFile(t, dir, "30.yaml", "triggers: [\n")
	if err := d.Reload(); err == nil {
		t.Fatal("Reload of broken file succeeded")
	}
	if d.Len() != 3 {
		t.Errorf("Len after failed reload = %d, want 3", d.Len())
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "30.yaml", zone30)
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	if err := d.Watch(ctx, func() { changed <- struct{}{} }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Write under a non-trigger name, then rename into place.
	tmp := filepath.Join(dir, "31.tmp")
	if err := os.WriteFile(tmp, []byte("triggers:\n  - {id: 3100, attach: world, to: 31, flags: [random]}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "31.yaml")); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for d.Len() != 4 {
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("Len = %d after watch, want 4", d.Len())
		}
	}
}
