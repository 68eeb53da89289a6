package extraction

import "strconv"

// RefMap substitutes real memory ids with small sequential placeholder
// refs ("0", "1", ...) before candidates are shown to the LLM, so a
// hallucinated id can never resolve to a real record. Resolution back to
// real ids happens only through Resolve.
type RefMap struct {
	byID  map[string]string // real id -> ref
	byRef map[string]string // ref -> real id
}

// NewRefMap creates an empty ref map.
func NewRefMap() *RefMap {
	return &RefMap{
		byID:  make(map[string]string),
		byRef: make(map[string]string),
	}
}

// Ref returns the placeholder ref for a real id, assigning the next
// sequential ref on first sight.
func (m *RefMap) Ref(realID string) string {
	if ref, ok := m.byID[realID]; ok {
		return ref
	}
	ref := strconv.Itoa(len(m.byRef))
	m.byID[realID] = ref
	m.byRef[ref] = realID
	return ref
}

// Resolve maps a placeholder ref back to its real id. The second return
// is false for refs that were never issued, including fabricated ones.
func (m *RefMap) Resolve(ref string) (string, bool) {
	id, ok := m.byRef[ref]
	return id, ok
}

// Len returns the number of mapped ids.
func (m *RefMap) Len() int {
	return len(m.byRef)
}
