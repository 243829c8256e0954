package models

// Header is a single message header
type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Headers is an ordered header list. Kafka allows repeated keys; lookups
// follow the broker convention where the last occurrence wins.
type Headers []Header

// Get returns the value of the last header named key
func (h Headers) Get(key string) (string, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Key == key {
			return h[i].Value, true
		}
	}
	return "", false
}

// Without returns a copy of h with every header named key removed
func (h Headers) Without(key string) Headers {
	out := make(Headers, 0, len(h))
	for _, hd := range h {
		if hd.Key != key {
			out = append(out, hd)
		}
	}
	return out
}

// Normalize collapses repeated keys into one entry at the position of the
// first occurrence, holding the value of the last occurrence.
func (h Headers) Normalize() Headers {
	index := make(map[string]int, len(h))
	out := make(Headers, 0, len(h))
	for _, hd := range h {
		if i, ok := index[hd.Key]; ok {
			out[i].Value = hd.Value
			continue
		}
		index[hd.Key] = len(out)
		out = append(out, hd)
	}
	return out
}

// With returns a copy of h with key appended
func (h Headers) With(key, value string) Headers {
	out := make(Headers, len(h), len(h)+1)
	copy(out, h)
	return append(out, Header{Key: key, Value: value})
}

// Clone returns an independent copy of h
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}
