package ops

import (
	"context"
	"fmt"
	"sort"

	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Function Table
// --------------------------------------------------------------------------

// Slot names an optional operation a database may expose.
type Slot string

const (
	SlotQuery Slot = "query"
	SlotPatch Slot = "patch"
	SlotCopy  Slot = "copy"
	SlotMove  Slot = "move"
)

// Disabled is the implementation name that turns a slot off.
const Disabled = "none"

type (
	QueryFunc    func(ctx context.Context, s store.IStore, req ScanRequest) (*ScanResult, error)
	PatchFunc    func(ctx context.Context, s store.IStore, key, partial any, cond Conditions) (bool, error)
	CompoundFunc func(ctx context.Context, s store.IStore, src, dst any, cond Conditions, overwrite bool) (bool, error)
)

var (
	queryImpls    = map[string]QueryFunc{"scan": Scan}
	patchImpls    = map[string]PatchFunc{"shallow": Patch, "deep": DeepPatch}
	copyImpls     = map[string]CompoundFunc{"copy": Copy}
	moveImpls     = map[string]CompoundFunc{"move": Move}
	defaultLayout = map[string]string{
		string(SlotQuery): "scan",
		string(SlotPatch): "shallow",
		string(SlotCopy):  "copy",
		string(SlotMove):  "move",
	}
)

// Functions is a resolved function table. A nil entry is a disabled slot.
type Functions struct {
	names map[Slot]string
	query QueryFunc
	patch PatchFunc
	copy  CompoundFunc
	move  CompoundFunc
}

// Resolve builds a function table from the defaults and the given layers.
// Later layers win. Unknown slots or implementation names are an error.
func Resolve(layers ...map[string]string) (*Functions, error) {
	merged := make(map[string]string, len(defaultLayout))
	for slot, impl := range defaultLayout {
		merged[slot] = impl
	}
	for _, layer := range layers {
		for slot, impl := range layer {
			merged[slot] = impl
		}
	}

	f := &Functions{names: make(map[Slot]string, len(merged))}
	for name, impl := range merged {
		slot := Slot(name)
		var found bool
		switch slot {
		case SlotQuery:
			f.query, found = queryImpls[impl]
		case SlotPatch:
			f.patch, found = patchImpls[impl]
		case SlotCopy:
			f.copy, found = copyImpls[impl]
		case SlotMove:
			f.move, found = moveImpls[impl]
		default:
			return nil, fmt.Errorf("unknown function slot %q", name)
		}
		if !found && impl != Disabled {
			return nil, fmt.Errorf("unknown implementation %q for function slot %q", impl, name)
		}
		f.names[slot] = impl
	}
	return f, nil
}

// Names returns the implementation name per slot.
func (f *Functions) Names() map[string]string {
	out := make(map[string]string, len(f.names))
	for slot, impl := range f.names {
		out[string(slot)] = impl
	}
	return out
}

// Enabled returns the sorted list of enabled slots.
func (f *Functions) Enabled() []string {
	var out []string
	for slot, impl := range f.names {
		if impl != Disabled {
			out = append(out, string(slot))
		}
	}
	sort.Strings(out)
	return out
}

func disabled(slot Slot) error {
	return store.Errorf(store.RetCUnsupportedOperation, "function %q is disabled", slot)
}

func (f *Functions) Query() (QueryFunc, error) {
	if f.query == nil {
		return nil, disabled(SlotQuery)
	}
	return f.query, nil
}

func (f *Functions) Patch() (PatchFunc, error) {
	if f.patch == nil {
		return nil, disabled(SlotPatch)
	}
	return f.patch, nil
}

func (f *Functions) Copy() (CompoundFunc, error) {
	if f.copy == nil {
		return nil, disabled(SlotCopy)
	}
	return f.copy, nil
}

func (f *Functions) Move() (CompoundFunc, error) {
	if f.move == nil {
		return nil, disabled(SlotMove)
	}
	return f.move, nil
}
