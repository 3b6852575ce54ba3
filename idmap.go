package mcap

// idMap is an array-backed map keyed by a small dense identifier (SchemaId,
// ChannelId), used by the indexed reader to look up a Schema or Channel by
// ID in O(1) without the overhead of a real map for what is usually a small,
// densely-packed ID space.
type idMap[T any] struct {
	items []*T
}

func (m *idMap[T]) get(id uint16) *T {
	if int(id) >= len(m.items) {
		return nil
	}
	return m.items[id]
}

func (m *idMap[T]) set(id uint16, item *T) {
	if int(id) >= len(m.items) {
		m.items = append(m.items, make([]*T, int(id)+1-len(m.items))...)
	}
	m.items[id] = item
}

func (m *idMap[T]) forEach(f func(id uint16, item *T)) {
	for id, item := range m.items {
		if item != nil {
			f(uint16(id), item)
		}
	}
}
