package cfg

import (
	"sort"
	"strconv"
	"strings"
)

// BranchID tags an edge with the decision that controls it. Identity and
// ordering use ID only; Type is metadata.
type BranchID struct {
	ID   int        `json:"id"`
	Type BranchType `json:"type"`
}

func (b BranchID) String() string {
	return "{ " + strconv.Itoa(b.ID) + ", " + b.Type.String() + " }"
}

// IDSet is a set of branch IDs kept sorted by ID. The zero value is empty
// and ready to use.
type IDSet struct {
	ids []BranchID
}

// NewIDSet returns a set holding ids.
func NewIDSet(ids ...BranchID) *IDSet {
	s := &IDSet{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *IDSet) search(id int) (int, bool) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i].ID >= id })
	return i, i < len(s.ids) && s.ids[i].ID == id
}

// Add inserts b and reports whether the set changed. An existing entry with
// the same ID is kept.
func (s *IDSet) Add(b BranchID) bool {
	i, found := s.search(b.ID)
	if found {
		return false
	}
	s.ids = append(s.ids, BranchID{})
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = b
	return true
}

// AddAll inserts every ID of other.
func (s *IDSet) AddAll(other *IDSet) {
	for _, b := range other.ids {
		s.Add(b)
	}
}

// Remove deletes the entry with b's ID and reports whether it was present.
func (s *IDSet) Remove(b BranchID) bool {
	i, found := s.search(b.ID)
	if !found {
		return false
	}
	s.ids = append(s.ids[:i], s.ids[i+1:]...)
	return true
}

// RemoveAll deletes every ID of other.
func (s *IDSet) RemoveAll(other *IDSet) {
	for _, b := range other.ids {
		s.Remove(b)
	}
}

// Contains reports whether an entry with b's ID is present.
func (s *IDSet) Contains(b BranchID) bool {
	_, found := s.search(b.ID)
	return found
}

// ContainsAll reports whether s is a superset of other.
func (s *IDSet) ContainsAll(other *IDSet) bool {
	for _, b := range other.ids {
		if !s.Contains(b) {
			return false
		}
	}
	return true
}

// Equal reports whether both sets hold the same IDs.
func (s *IDSet) Equal(other *IDSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i := range s.ids {
		if s.ids[i].ID != other.ids[i].ID {
			return false
		}
	}
	return true
}

// Len returns the number of IDs.
func (s *IDSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ids)
}

// Empty reports whether the set has no IDs.
func (s *IDSet) Empty() bool {
	return s.Len() == 0
}

// First returns the smallest ID.
func (s *IDSet) First() (BranchID, bool) {
	if s.Len() == 0 {
		return BranchID{}, false
	}
	return s.ids[0], true
}

// Slice returns a copy of the IDs in ascending order.
func (s *IDSet) Slice() []BranchID {
	if s == nil {
		return nil
	}
	return append([]BranchID(nil), s.ids...)
}

// Clone returns an independent copy.
func (s *IDSet) Clone() *IDSet {
	return &IDSet{ids: s.Slice()}
}

// Clear removes all IDs.
func (s *IDSet) Clear() {
	s.ids = s.ids[:0]
}

// Key returns a canonical string for use as a map key.
func (s *IDSet) Key() string {
	var sb strings.Builder
	for i, b := range s.ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(b.ID))
	}
	return sb.String()
}

func (s *IDSet) String() string {
	parts := make([]string, len(s.ids))
	for i, b := range s.ids {
		parts[i] = strconv.Itoa(b.ID)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
