package wrap

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Content is the accumulator of a load pass. It is safe for concurrent use,
// which lets parallel controls read it while other results are folded in.
type Content struct {
	mu     sync.RWMutex
	values map[string]interface{}
}

// NewContent creates an accumulator holding a copy of seed
func NewContent(seed map[string]interface{}) *Content {
	c := &Content{values: make(map[string]interface{}, len(seed))}
	for k, v := range seed {
		c.values[k] = v
	}
	return c
}

// Get returns the value stored under key
func (c *Content) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores value under key, replacing any previous value
func (c *Content) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Merge copies the entries of src whose key is not present yet and returns
// the keys that were skipped.
func (c *Content) Merge(src map[string]interface{}) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FillMissing(c.values, src)
}

// Snapshot returns a shallow copy of the accumulated values
func (c *Content) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]interface{}, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Len returns the number of entries
func (c *Content) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// MarshalJSON encodes the accumulated values as a JSON object
func (c *Content) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Snapshot())
}

// fold merges one control result. Keyed results are stored under key,
// keyless results must be maps and are merged with fill-missing semantics.
// It returns the value reported in the load event.
func (c *Content) fold(key string, result interface{}) (interface{}, []string, error) {
	if key != "" {
		c.Set(key, result)
		return result, nil, nil
	}

	switch r := result.(type) {
	case nil:
		return nil, nil, nil
	case map[string]interface{}:
		return r, c.Merge(r), nil
	case *Content:
		snapshot := r.Snapshot()
		return snapshot, c.Merge(snapshot), nil
	default:
		return nil, nil, fmt.Errorf("%w: %T", ErrUnmergeableResult, result)
	}
}

// FillMissing copies into dst every entry of src whose key dst lacks and
// returns the keys of src that were already present.
func FillMissing(dst, src map[string]interface{}) []string {
	var skipped []string
	for k, v := range src {
		if _, exists := dst[k]; exists {
			skipped = append(skipped, k)
			continue
		}
		dst[k] = v
	}
	return skipped
}
