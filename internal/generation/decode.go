package generation

import (
	"encoding/json"

	"github.com/google/uuid"
)

// decoder turns the incrementally growing model reply into items. The model
// emits a JSON array of objects; the decoder does not wait for the array to
// close, it lifts each object out as soon as its braces balance. Items are
// keyed by "id": a re-emitted id replaces the earlier item in place, a new
// id appends. Indices are therefore dense at all times.
type decoder struct {
	items  []Item
	byID   map[string]int
	offset int // scan position in the accumulated text
}

func newDecoder(partial []Item) *decoder {
	d := &decoder{byID: make(map[string]int)}
	for _, it := range partial {
		d.byID[it.ID()] = len(d.items)
		d.items = append(d.items, it)
	}
	return d
}

// feed scans buf from the last position and returns (item, index) pairs for
// every object that completed since the previous call. Malformed spans are
// skipped; the scan position never moves backwards.
func (d *decoder) feed(buf string) []indexed {
	var out []indexed
	for {
		span, next := nextObject(buf, d.offset)
		if span == "" {
			return out
		}
		d.offset = next

		var it Item
		if err := json.Unmarshal([]byte(span), &it); err != nil {
			continue
		}
		out = append(out, d.place(it))
	}
}

type indexed struct {
	item  Item
	index int
}

// place inserts or replaces by id and returns the item with its index. Items
// without an id get one assigned so later revisions can target them.
func (d *decoder) place(it Item) indexed {
	id := it.ID()
	if id == "" {
		id = uuid.NewString()
		it["id"] = id
	}
	if idx, ok := d.byID[id]; ok {
		d.items[idx] = it
		return indexed{item: it, index: idx}
	}
	idx := len(d.items)
	d.byID[id] = idx
	d.items = append(d.items, it)
	return indexed{item: it, index: idx}
}

// snapshot returns a copy of the items decoded so far.
func (d *decoder) snapshot() []Item {
	out := make([]Item, len(d.items))
	copy(out, d.items)
	return out
}

// nextObject finds the next complete top-level {...} span at or after from.
// Text outside objects (array brackets, commas, fence markers, prose) is
// skipped. Returns the span and the position just past it, or ("", from)
// when no object has completed yet.
func nextObject(s string, from int) (string, int) {
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := from; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], i + 1
				}
			}
		}
	}
	return "", from
}
