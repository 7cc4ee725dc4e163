package profile

import (
	"encoding/json"

	"github.com/RoaringBitmap/roaring"
)

// Milestone is a progress marker in the legal-help journey.
type Milestone struct {
	ID      string
	Ordinal uint32
	Title   string
	Insight string
}

// Catalog lists every known milestone in journey order.
var Catalog = []Milestone{
	{ID: "first_contact", Ordinal: 0, Title: "Reached out", Insight: "Reaching out for help is an important first step."},
	{ID: "shared_situation", Ordinal: 1, Title: "Shared the situation", Insight: "You've described what's happening, which helps me point you in the right direction."},
	{ID: "identified_issue", Ordinal: 2, Title: "Identified the legal issue", Insight: "We've named the kind of legal issue you're facing."},
	{ID: "shared_location", Ordinal: 3, Title: "Shared location", Insight: "Knowing where you are lets me look for help nearby."},
	{ID: "discussed_budget", Ordinal: 4, Title: "Discussed budget", Insight: "Talking about cost up front helps find options you can afford."},
	{ID: "completed_intake", Ordinal: 5, Title: "Completed intake", Insight: "You've answered the key intake questions."},
	{ID: "reviewed_matches", Ordinal: 6, Title: "Reviewed matches", Insight: "You've seen professionals who fit your needs."},
	{ID: "expressed_relief", Ordinal: 7, Title: "Feeling steadier", Insight: "It sounds like things feel a little more manageable."},
	{ID: "set_next_step", Ordinal: 8, Title: "Chose a next step", Insight: "You've picked a concrete next step."},
}

var byID = func() map[string]Milestone {
	m := make(map[string]Milestone, len(Catalog))
	for _, ms := range Catalog {
		m[ms.ID] = ms
	}
	return m
}()

// LookupMilestone returns the catalog entry for id.
func LookupMilestone(id string) (Milestone, bool) {
	ms, ok := byID[id]
	return ms, ok
}

// MilestoneSet is a monotonically growing set of completed milestones.
// The zero value is an empty set.
type MilestoneSet struct {
	bm *roaring.Bitmap
}

// NewMilestoneSet returns a set containing the known ids.
func NewMilestoneSet(ids ...string) MilestoneSet {
	var s MilestoneSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *MilestoneSet) bitmap() *roaring.Bitmap {
	if s.bm == nil {
		s.bm = roaring.New()
	}
	return s.bm
}

// Add inserts id and reports whether it was newly added. Unknown ids are ignored.
func (s *MilestoneSet) Add(id string) bool {
	ms, ok := byID[id]
	if !ok {
		return false
	}
	return s.bitmap().CheckedAdd(ms.Ordinal)
}

// Has reports whether id is in the set.
func (s *MilestoneSet) Has(id string) bool {
	ms, ok := byID[id]
	if !ok || s.bm == nil {
		return false
	}
	return s.bm.Contains(ms.Ordinal)
}

// Union adds every member of other.
func (s *MilestoneSet) Union(other *MilestoneSet) {
	if other == nil || other.bm == nil {
		return
	}
	s.bitmap().Or(other.bm)
}

// Len returns the number of completed milestones.
func (s *MilestoneSet) Len() int {
	if s.bm == nil {
		return 0
	}
	return int(s.bm.GetCardinality())
}

// IDs returns members in journey order.
func (s *MilestoneSet) IDs() []string {
	if s.bm == nil {
		return nil
	}
	ids := make([]string, 0, s.bm.GetCardinality())
	it := s.bm.Iterator()
	for it.HasNext() {
		ord := it.Next()
		if int(ord) < len(Catalog) {
			ids = append(ids, Catalog[ord].ID)
		}
	}
	return ids
}

// Percent returns completion across the catalog in [0,100].
func (s *MilestoneSet) Percent() float64 {
	if len(Catalog) == 0 {
		return 0
	}
	return float64(s.Len()) / float64(len(Catalog)) * 100
}

// Clone returns an independent copy.
func (s MilestoneSet) Clone() MilestoneSet {
	if s.bm == nil {
		return MilestoneSet{}
	}
	return MilestoneSet{bm: s.bm.Clone()}
}

func (s MilestoneSet) MarshalJSON() ([]byte, error) {
	ids := s.IDs()
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func (s *MilestoneSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	s.bm = roaring.New()
	for _, id := range ids {
		s.Add(id)
	}
	return nil
}
