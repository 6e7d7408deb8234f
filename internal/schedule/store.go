package schedule

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PlanStore owns every SchedulePlan. Reads are snapshot projections; writes
// validate the full invariant set before committing.
type PlanStore struct {
	mu          sync.RWMutex
	gridMinutes int
	plans       map[string]Plan // by plan id
}

// NewPlanStore builds a store validating against the given grid.
func NewPlanStore(gridMinutes int) *PlanStore {
	if gridMinutes <= 0 {
		gridMinutes = 30
	}
	return &PlanStore{
		gridMinutes: gridMinutes,
		plans:       make(map[string]Plan),
	}
}

// GridMinutes returns the scheduling grid the store validates against.
func (s *PlanStore) GridMinutes() int { return s.gridMinutes }

// Create validates and stores a new plan.
func (s *PlanStore) Create(p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[p.ID]; exists {
		return fmt.Errorf("plan %s already exists", p.ID)
	}
	if err := validatePlan(p, s.channelPlansLocked(p.ChannelID), s.gridMinutes); err != nil {
		return err
	}
	s.plans[p.ID] = p
	return nil
}

// Update validates and replaces an existing plan.
func (s *PlanStore) Update(p Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[p.ID]; !exists {
		return fmt.Errorf("plan %s not found", p.ID)
	}
	if err := validatePlan(p, s.channelPlansLocked(p.ChannelID), s.gridMinutes); err != nil {
		return err
	}
	s.plans[p.ID] = p
	return nil
}

// Delete removes a plan. Deleting an unknown plan is a no-op.
func (s *PlanStore) Delete(id string) {
	s.mu.Lock()
	delete(s.plans, id)
	s.mu.Unlock()
}

// Get returns a plan by id.
func (s *PlanStore) Get(id string) (Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	return p, ok
}

// PlansFor returns the channel's plans ordered by (priority desc, name, id).
// The ordering is the layering order used by day resolution.
func (s *PlanStore) PlansFor(channelID string) []Plan {
	s.mu.RLock()
	plans := s.channelPlansLocked(channelID)
	s.mu.RUnlock()
	sortPlansForLayering(plans)
	return plans
}

// ActivePlansFor returns the plans covering the given day, in layering order.
func (s *PlanStore) ActivePlansFor(channelID string, day time.Time) []Plan {
	all := s.PlansFor(channelID)
	var active []Plan
	for _, p := range all {
		if planCoversDay(p, day) {
			active = append(active, p)
		}
	}
	return active
}

// AssetsFor returns the schedulable assets available at the given instant of
// the programming day: the highest-priority zone covering minuteOfDay on a
// matching plan wins.
func (s *PlanStore) AssetsFor(channelID string, day time.Time, minuteOfDay int) []SchedulableAsset {
	for _, p := range s.ActivePlansFor(channelID, day) {
		for _, z := range p.Zones {
			if !z.Days.Has(day.Weekday()) {
				continue
			}
			if minuteOfDay >= z.FromMinutes && minuteOfDay < z.ToMinutes {
				out := make([]SchedulableAsset, len(z.Assets))
				copy(out, z.Assets)
				return out
			}
		}
	}
	return nil
}

func (s *PlanStore) channelPlansLocked(channelID string) []Plan {
	var out []Plan
	for _, p := range s.plans {
		if p.ChannelID == channelID {
			out = append(out, p)
		}
	}
	return out
}

func sortPlansForLayering(plans []Plan) {
	sort.Slice(plans, func(i, j int) bool {
		if plans[i].Priority != plans[j].Priority {
			return plans[i].Priority > plans[j].Priority
		}
		if plans[i].Name != plans[j].Name {
			return plans[i].Name < plans[j].Name
		}
		return plans[i].ID < plans[j].ID
	})
}
