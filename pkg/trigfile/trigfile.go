// Package trigfile loads triggers from a directory of YAML files and can
// watch the directory for edits.
//
// Each *.yaml or *.yml file holds a list of triggers:
//
//	triggers:
//	  - id: 3000
//	    name: guard greeting
//	    attach: mob
//	    to: 3001
//	    flags: [greet]
//	    args: ["50"]
//	    vars: {visits: "0"}
//	    script: |
//	      log("hello", actor.name)
package trigfile

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/mushscript/pkg/trigger"
)

// Entry is one trigger as written in a file.
type Entry struct {
	ID     int               `yaml:"id"`
	Name   string            `yaml:"name"`
	Attach string            `yaml:"attach"`
	To     int               `yaml:"to"`
	Flags  []string          `yaml:"flags"`
	Args   []string          `yaml:"args,omitempty"`
	Vars   map[string]string `yaml:"vars,omitempty"`
	Script string            `yaml:"script"`
}

// File is the top-level document of a trigger file.
type File struct {
	Triggers []Entry `yaml:"triggers"`
}

// Convert validates e and turns it into a trigger row.
func (e Entry) Convert() (*trigger.TriggerData, error) {
	if e.ID <= 0 {
		return nil, fmt.Errorf("trigfile: trigger %q: id must be positive", e.Name)
	}
	attach, err := trigger.ParseAttachType(e.Attach)
	if err != nil {
		return nil, fmt.Errorf("trigfile: trigger %d: %w", e.ID, err)
	}
	flags, err := trigger.ParseFlags(attach, e.Flags)
	if err != nil {
		return nil, fmt.Errorf("trigfile: trigger %d: %w", e.ID, err)
	}
	td := &trigger.TriggerData{
		ID:         e.ID,
		Name:       e.Name,
		AttachType: attach,
		Flags:      flags,
		Commands:   e.Script,
		NumArgs:    len(e.Args),
		ArgList:    append([]string(nil), e.Args...),
		Variables:  make(map[string]string, len(e.Vars)),
	}
	for k, v := range e.Vars {
		td.Variables[k] = v
	}
	switch attach {
	case trigger.AttachMob:
		td.MobID = trigger.Attached(e.To)
	case trigger.AttachObject:
		td.ObjectID = trigger.Attached(e.To)
	case trigger.AttachWorld:
		td.ZoneID = trigger.Attached(e.To)
	}
	if err := td.Validate(); err != nil {
		return nil, fmt.Errorf("trigfile: %w", err)
	}
	return td, nil
}

// ParseFile parses one trigger file.
func ParseFile(path string) ([]*trigger.TriggerData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("trigfile: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("trigfile: parse %s: %w", path, err)
	}
	out := make([]*trigger.TriggerData, 0, len(f.Triggers))
	for _, e := range f.Triggers {
		td, err := e.Convert()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		out = append(out, td)
	}
	return out, nil
}

func isTriggerFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Dir is a trigger.Loader over a directory of trigger files. Rows are
// held in memory; Reload rereads the directory.
type Dir struct {
	path string

	mu   sync.RWMutex
	byID map[int]*trigger.TriggerData
}

// Open reads every trigger file in path.
func Open(path string) (*Dir, error) {
	d := &Dir{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Path returns the watched directory.
func (d *Dir) Path() string { return d.path }

// Reload rereads the directory. On error the previous rows are kept.
func (d *Dir) Reload() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("trigfile: read dir %s: %w", d.path, err)
	}
	byID := make(map[int]*trigger.TriggerData)
	from := make(map[int]string)
	files := 0
	for _, ent := range entries {
		if ent.IsDir() || !isTriggerFile(ent.Name()) {
			continue
		}
		rows, err := ParseFile(filepath.Join(d.path, ent.Name()))
		if err != nil {
			return err
		}
		for _, td := range rows {
			if prev, dup := from[td.ID]; dup {
				return fmt.Errorf("trigfile: trigger %d defined in both %s and %s", td.ID, prev, ent.Name())
			}
			from[td.ID] = ent.Name()
			byID[td.ID] = td
		}
		files++
	}

	d.mu.Lock()
	d.byID = byID
	d.mu.Unlock()
	log.Printf("trigfile: loaded %d triggers from %d files in %s", len(byID), files, d.path)
	return nil
}

// Len returns the number of loaded triggers.
func (d *Dir) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// All returns copies of every trigger ordered by id.
func (d *Dir) All() []*trigger.TriggerData {
	return d.filter(func(*trigger.TriggerData) bool { return true })
}

func (d *Dir) filter(keep func(*trigger.TriggerData) bool) []*trigger.TriggerData {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []*trigger.TriggerData
	for _, td := range d.byID {
		if keep(td) {
			out = append(out, td.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Dir) ZoneTriggers(_ context.Context, zone int) ([]*trigger.TriggerData, error) {
	return d.filter(func(td *trigger.TriggerData) bool {
		return td.AttachType == trigger.AttachWorld && td.ZoneID == trigger.Attached(zone)
	}), nil
}

func (d *Dir) MobTriggers(_ context.Context, mob int) ([]*trigger.TriggerData, error) {
	return d.filter(func(td *trigger.TriggerData) bool {
		return td.AttachType == trigger.AttachMob && td.MobID == trigger.Attached(mob)
	}), nil
}

func (d *Dir) ObjectTriggers(_ context.Context, object int) ([]*trigger.TriggerData, error) {
	return d.filter(func(td *trigger.TriggerData) bool {
		return td.AttachType == trigger.AttachObject && td.ObjectID == trigger.Attached(object)
	}), nil
}

// Trigger returns a copy of one trigger, or an error wrapping trigger.ErrNotFound.
func (d *Dir) Trigger(_ context.Context, id int) (*trigger.TriggerData, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	td, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("trigfile: trigger %d: %w", id, trigger.ErrNotFound)
	}
	return td.Clone(), nil
}
