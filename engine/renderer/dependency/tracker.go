// Package dependency derives the pipeline barriers a frame needs from the
// resource accesses its passes declare. It covers a single queue.
package dependency

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

// UsageRecord is one pass's access to one resource.
type UsageRecord struct {
	Pass    int
	IsWrite bool
	Access  metadata.AccessFlags
	Stage   metadata.StageFlags
}

// group is a run of accesses that need no barrier between them: either a
// single write or consecutive reads.
type group struct {
	firstPass int
	isWrite   bool
	access    metadata.AccessFlags
	stage     metadata.StageFlags
}

func (g *group) add(r UsageRecord) {
	g.isWrite = g.isWrite || r.IsWrite
	g.access |= r.Access
	g.stage |= r.Stage
}

// Tracker collects the accesses of one frame. It is owned by a frame slot
// and used from the render goroutine only.
type Tracker struct {
	usages   map[metadata.ResourceID][]UsageRecord
	barriers []metadata.BufferBarrier
	resolved bool
}

func New() *Tracker {
	return &Tracker{
		usages: make(map[metadata.ResourceID][]UsageRecord),
	}
}

// RecordAccess declares that pass accesses resource. Invalid accesses, as
// reported by ValidateAccess, are not recorded.
func (t *Tracker) RecordAccess(resource metadata.ResourceID, pass int, isWrite bool, access metadata.AccessFlags, stage metadata.StageFlags) error {
	if err := ValidateAccess(resource, pass, isWrite, access, stage); err != nil {
		return err
	}
	t.usages[resource] = append(t.usages[resource], UsageRecord{
		Pass:    pass,
		IsWrite: isWrite,
		Access:  access,
		Stage:   stage,
	})
	t.resolved = false
	return nil
}

// ValidateAccess checks one access without recording it. An access without
// a stage, with access bits none of its stages can perform, or whose write
// flag disagrees with its access bits fails with core.ErrHazardUnresolved.
func ValidateAccess(resource metadata.ResourceID, pass int, isWrite bool, access metadata.AccessFlags, stage metadata.StageFlags) error {
	if pass < 0 {
		return fmt.Errorf("%s: negative pass index %d", resource, pass)
	}
	if stage == 0 {
		return fmt.Errorf("%s in pass %d: %s declared without a pipeline stage: %w", resource, pass, access, core.ErrHazardUnresolved)
	}
	if access == 0 {
		return fmt.Errorf("%s in pass %d: no access bits declared: %w", resource, pass, core.ErrHazardUnresolved)
	}
	if unsupported := access &^ stage.SupportedAccess(); unsupported != 0 {
		return fmt.Errorf("%s in pass %d: %s cannot be performed by %s: %w", resource, pass, unsupported, stage, core.ErrHazardUnresolved)
	}
	if isWrite != access.IsWrite() {
		return fmt.Errorf("%s in pass %d: write=%t conflicts with %s: %w", resource, pass, isWrite, access, core.ErrHazardUnresolved)
	}
	return nil
}

// Usages returns the recorded accesses of resource in pass order.
func (t *Tracker) Usages(resource metadata.ResourceID) []UsageRecord {
	out := append([]UsageRecord(nil), t.usages[resource]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Pass < out[j].Pass })
	return out
}

// ResolveBarriers returns the minimal barrier set ordered by the pass they
// precede, then by resource. A barrier separates two adjacent access groups
// iff one of them writes; read-after-read needs none.
func (t *Tracker) ResolveBarriers() ([]metadata.BufferBarrier, error) {
	barriers := make([]metadata.BufferBarrier, 0)
	for resource := range t.usages {
		groups := t.groups(resource)
		for i := 1; i < len(groups); i++ {
			src, dst := groups[i-1], groups[i]
			if !src.isWrite && !dst.isWrite {
				continue
			}
			if src.stage == 0 || dst.stage == 0 {
				return nil, fmt.Errorf("%s before pass %d: %w", resource, dst.firstPass, core.ErrHazardUnresolved)
			}
			barriers = append(barriers, metadata.BufferBarrier{
				Resource:   resource,
				BeforePass: dst.firstPass,
				SrcAccess:  src.access,
				DstAccess:  dst.access,
				SrcStage:   src.stage,
				DstStage:   dst.stage,
			})
		}
	}
	sort.Slice(barriers, func(i, j int) bool {
		if barriers[i].BeforePass != barriers[j].BeforePass {
			return barriers[i].BeforePass < barriers[j].BeforePass
		}
		return barriers[i].Resource < barriers[j].Resource
	})
	t.barriers = barriers
	t.resolved = true
	return barriers, nil
}

// groups folds the records of one resource into barrier-free runs. Records
// of the same pass are merged first: a pass never needs a barrier against
// itself.
func (t *Tracker) groups(resource metadata.ResourceID) []group {
	records := t.Usages(resource)

	var perPass []group
	for _, r := range records {
		if n := len(perPass); n > 0 && perPass[n-1].firstPass == r.Pass {
			perPass[n-1].add(r)
			continue
		}
		g := group{firstPass: r.Pass}
		g.add(r)
		perPass = append(perPass, g)
	}

	var out []group
	for _, g := range perPass {
		if n := len(out); n > 0 && !g.isWrite && !out[n-1].isWrite {
			out[n-1].access |= g.access
			out[n-1].stage |= g.stage
			continue
		}
		out = append(out, g)
	}
	return out
}

// BarriersBefore returns the batch of barriers to record before pass. It
// resolves lazily if accesses changed since the last resolve.
func (t *Tracker) BarriersBefore(pass int) ([]metadata.BufferBarrier, error) {
	if !t.resolved {
		if _, err := t.ResolveBarriers(); err != nil {
			return nil, err
		}
	}
	lo := sort.Search(len(t.barriers), func(i int) bool { return t.barriers[i].BeforePass >= pass })
	hi := lo
	for hi < len(t.barriers) && t.barriers[hi].BeforePass == pass {
		hi++
	}
	return t.barriers[lo:hi], nil
}

// Reset discards the frame's records.
func (t *Tracker) Reset() {
	for k := range t.usages {
		delete(t.usages, k)
	}
	t.barriers = t.barriers[:0]
	t.resolved = false
}
