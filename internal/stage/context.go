package stage

import (
	"reflect"
	"sort"
)

// Context carries values between stages for a single run. Keys are only
// ever added or overwritten; nothing is removed.
type Context struct {
	values map[string]any
}

// NewContext returns a context seeded with the exposure under ExposureKey.
func NewContext(exposure any) *Context {
	return &Context{values: map[string]any{ExposureKey: exposure}}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is present (even with a nil value).
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Set stores v under key, overwriting any previous value.
func (c *Context) Set(key string, v any) {
	c.values[key] = v
}

// Merge writes every entry of m into the context.
func (c *Context) Merge(m map[string]any) {
	for k, v := range m {
		c.values[k] = v
	}
}

// Subset returns a new map holding the present entries named by keys.
func (c *Context) Subset(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := c.values[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Keys returns the context keys in sorted order.
func (c *Context) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (c *Context) Len() int {
	return len(c.values)
}

// Lener is implemented by stage values that know their own size, such as
// match lists and source catalogs.
type Lener interface {
	Len() int
}

// IsEmpty reports whether v is nil or has no elements. Values implementing
// Lener are asked directly; slices, maps, arrays, strings and channels are
// measured with reflection. Anything else counts as non-empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return true
	}
	if l, ok := v.(Lener); ok {
		return l.Len() == 0
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array, reflect.String, reflect.Chan:
		return rv.Len() == 0
	}
	return false
}
