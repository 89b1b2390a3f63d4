// Package registry implements the C5 deployment registry: concurrent,
// index-consistent storage of deployments keyed by id, model group, and
// alias, with O(k) tag filtering (spec §4.5). It is grounded on the
// teacher's routers/base.go dual-index (deployments / deploymentsByKey) and
// its RLock-copy-RUnlock snapshot idiom, re-expressed lock-free: a sync.Map
// keyed by id, and a sync.Map of atomic.Pointer[[]string] keyed by model
// group, each replaced wholesale on upsert instead of guarded by one
// package-wide mutex.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/blueberrycongee/llmrouter/internal/deployment"
	"github.com/blueberrycongee/llmrouter/pkg/provider"
)

// Config is one deployment's static, immutable-after-registration
// configuration (spec §3 Deployment.config).
type Config struct {
	TPMLimit           int64 // 0 = unset
	RPMLimit           int64 // 0 = unset
	MaxParallel        int64 // 0 = unbounded
	Weight             int   // default 1
	Timeout            int64 // nanoseconds; 0 = use router default
	Priority           int   // lower preferred
	CostPerInputToken  float64
	CostPerOutputToken float64
	HasCost            bool
	MaxContextTokens   int // 0 = unknown/unbounded; used by pre-call checks
}

// Deployment is one concrete binding of a model group to a provider (spec
// §3). State is the lock-free accounting C1 owns; it outlives removal from
// the registry's indices so in-flight operations can still decrement it
// (spec §3 Lifecycle, invariant: destruction never races with in-flight
// operations).
type Deployment struct {
	ID            string
	ModelGroup    string
	ProviderModel string
	Provider      provider.Provider
	Config        Config
	Tags          map[string]struct{}
	State         *deployment.State
}

// HasAllTags reports whether the deployment carries every tag in tags.
func (d *Deployment) HasAllTags(tags []string) bool {
	for _, t := range tags {
		if _, ok := d.Tags[t]; !ok {
			return false
		}
	}
	return true
}

// HasAnyTag reports whether the deployment carries at least one tag in tags.
func (d *Deployment) HasAnyTag(tags []string) bool {
	for _, t := range tags {
		if _, ok := d.Tags[t]; ok {
			return true
		}
	}
	return len(tags) == 0
}

// Registry indexes deployments by id and by model group, and resolves
// aliases in one hop (spec §4.5).
type Registry struct {
	byID sync.Map // string -> *Deployment

	modelsMu sync.Mutex // guards creation of new model-group index entries only
	byModel  sync.Map   // string (model group) -> *atomic.Pointer[[]string] (deployment ids, sorted)

	aliasesMu sync.Mutex
	aliases   sync.Map // alias -> canonical model name
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register is an idempotent upsert keyed by id. Index updates are published
// via a single atomic.Pointer swap per model group so concurrent readers
// observe either the pre- or post-registration state of every index, never
// a mix (spec §4.5 register, invariant 2).
func (r *Registry) Register(d *Deployment) error {
	if d == nil || d.ID == "" {
		return fmt.Errorf("registry: deployment must have a non-empty id")
	}
	if d.ModelGroup == "" {
		return fmt.Errorf("registry: deployment %q must have a model_group", d.ID)
	}
	if d.State == nil {
		d.State = deployment.NewState()
	}
	prev, existed := r.byID.Load(d.ID)
	r.byID.Store(d.ID, d)
	if existed {
		if old := prev.(*Deployment); old.ModelGroup != d.ModelGroup {
			r.removeFromModelIndex(old.ModelGroup, d.ID)
		}
	}
	r.addToModelIndex(d.ModelGroup, d.ID)
	return nil
}

// Deregister logically removes id from every index. The *Deployment value
// itself is left untouched: any goroutine already holding a reference
// obtained from a prior LookupModel/ByID snapshot may keep using its State
// until its in-flight operation resolves (spec §3 Lifecycle — "deregistered
// entry is logically removed from indices but its state remains live").
func (r *Registry) Deregister(id string) {
	v, ok := r.byID.LoadAndDelete(id)
	if !ok {
		return
	}
	d := v.(*Deployment)
	r.removeFromModelIndex(d.ModelGroup, id)
}

// ByID returns the live deployment for id, or false if never registered or
// since deregistered.
func (r *Registry) ByID(id string) (*Deployment, bool) {
	v, ok := r.byID.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Deployment), true
}

// AddAlias maps alias to canonical. It fails if alias is itself a
// registered model group (ambiguous) or if canonical is itself an alias
// (spec §3 invariant 6 — alias chains are forbidden, validated at add time
// so resolution stays O(1)). Idempotent otherwise.
func (r *Registry) AddAlias(alias, canonical string) error {
	r.aliasesMu.Lock()
	defer r.aliasesMu.Unlock()

	if _, isModel := r.byModel.Load(alias); isModel {
		return fmt.Errorf("registry: alias %q collides with a registered model group", alias)
	}
	if _, isAlias := r.aliases.Load(canonical); isAlias {
		return fmt.Errorf("registry: alias %q may not target another alias %q (alias chains are forbidden)", alias, canonical)
	}
	r.aliases.Store(alias, canonical)
	return nil
}

// ResolveModel resolves an alias to its canonical model name in one hop. If
// name is not a registered alias it is returned unchanged (spec §4.6 step 1,
// invariant 6 — resolving a resolved name returns it unchanged).
func (r *Registry) ResolveModel(name string) string {
	if v, ok := r.aliases.Load(name); ok {
		return v.(string)
	}
	return name
}

// KnowsModel reports whether at least one deployment has ever been
// registered for model (used to distinguish ModelNotFound from a
// transiently-empty candidate set).
func (r *Registry) KnowsModel(model string) bool {
	_, ok := r.byModel.Load(model)
	return ok
}

// LookupModel returns a freshly allocated snapshot of the deployments
// currently registered for model. Callers must not assume it stays live
// (spec §4.5 lookup_model, §9 "do not hold references into the live
// registry across strategy execution").
func (r *Registry) LookupModel(model string) []*Deployment {
	v, ok := r.byModel.Load(model)
	if !ok {
		return nil
	}
	ptr := v.(*atomic.Pointer[[]string])
	ids := ptr.Load()
	if ids == nil {
		return nil
	}
	out := make([]*Deployment, 0, len(*ids))
	for _, id := range *ids {
		if d, ok := r.ByID(id); ok {
			out = append(out, d)
		}
	}
	return out
}

// LookupByTags filters LookupModel(model) by tag conjunction (requireAll)
// or disjunction (spec §4.5 lookup_by_tags). An empty tags list matches
// everything.
func (r *Registry) LookupByTags(model string, tags []string, requireAll bool) []*Deployment {
	all := r.LookupModel(model)
	if len(tags) == 0 {
		return all
	}
	out := make([]*Deployment, 0, len(all))
	for _, d := range all {
		var match bool
		if requireAll {
			match = d.HasAllTags(tags)
		} else {
			match = d.HasAnyTag(tags)
		}
		if match {
			out = append(out, d)
		}
	}
	return out
}

// ModelGroups returns every model group with at least one live (or
// previously live) index entry. Used by observable-state callers (spec
// §6.3).
func (r *Registry) ModelGroups() []string {
	var out []string
	r.byModel.Range(func(k, _ any) bool {
		out = append(out, k.(string))
		return true
	})
	sort.Strings(out)
	return out
}

// All returns every currently-registered deployment, used by the minute
// resetter (C7) which has no reason to filter by model.
func (r *Registry) All() []*Deployment {
	var out []*Deployment
	r.byID.Range(func(_, v any) bool {
		out = append(out, v.(*Deployment))
		return true
	})
	return out
}

func (r *Registry) addToModelIndex(model, id string) {
	r.modelsMu.Lock()
	defer r.modelsMu.Unlock()

	v, _ := r.byModel.LoadOrStore(model, &atomic.Pointer[[]string]{})
	ptr := v.(*atomic.Pointer[[]string])
	cur := ptr.Load()
	next := make([]string, 0, len(derefIDs(cur))+1)
	for _, existing := range derefIDs(cur) {
		if existing == id {
			return // already indexed
		}
		next = append(next, existing)
	}
	next = append(next, id)
	sort.Strings(next)
	ptr.Store(&next)
}

func (r *Registry) removeFromModelIndex(model, id string) {
	r.modelsMu.Lock()
	defer r.modelsMu.Unlock()

	v, ok := r.byModel.Load(model)
	if !ok {
		return
	}
	ptr := v.(*atomic.Pointer[[]string])
	cur := derefIDs(ptr.Load())
	next := make([]string, 0, len(cur))
	for _, existing := range cur {
		if existing != id {
			next = append(next, existing)
		}
	}
	ptr.Store(&next)
}

func derefIDs(p *[]string) []string {
	if p == nil {
		return nil
	}
	return *p
}
