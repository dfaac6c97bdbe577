package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// Element is a decoded document node.
type Element struct {
	// Key is the decoded object key; empty for array items and the root.
	Key string
	// Value is the decoded leaf value. Empty for objects and arrays.
	Value string
	// Leaf reports whether Value holds a scalar.
	Leaf     bool
	Children []*Element
}

// Child returns the first child with the given key.
func (e *Element) Child(key string) *Element {
	for _, c := range e.Children {
		if c.Key == key {
			return c
		}
	}
	return nil
}

// Name returns the value of the element's Name child, if any.
func (e *Element) Name() string {
	if c := e.Child(TagName); c != nil && c.Leaf {
		return c.Value
	}
	return ""
}

// Walk visits e and every descendant depth first. Returning false from fn
// skips the element's children.
func (e *Element) Walk(fn func(el *Element) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.Children {
		c.Walk(fn)
	}
}

// Values returns every decoded leaf value in the tree.
func (e *Element) Values() []string {
	var values []string
	e.Walk(func(el *Element) bool {
		if el.Leaf {
			values = append(values, el.Value)
		}
		return true
	})
	return values
}

// Parse decodes a serialized document into an element tree.
// Object members are ordered by their encoded keys so parsing is deterministic.
func Parse(doc string) (*Element, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: document root is not an object", ErrMalformed)
	}
	return decodeElement("", raw)
}

func decodeElement(key string, raw any) (*Element, error) {
	el := &Element{Key: key}

	switch val := raw.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			decodedKey, err := DecodeText(k)
			if err != nil {
				return nil, err
			}
			child, err := decodeElement(decodedKey, val[k])
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		}
	case []any:
		for _, item := range val {
			child, err := decodeElement("", item)
			if err != nil {
				return nil, err
			}
			el.Children = append(el.Children, child)
		}
	case string:
		decoded, err := DecodeText(val)
		if err != nil {
			return nil, err
		}
		el.Value = decoded
		el.Leaf = true
	case json.Number:
		el.Value = val.String()
		el.Leaf = true
	case bool:
		el.Value = strconv.FormatBool(val)
		el.Leaf = true
	case nil:
		el.Leaf = true
	default:
		return nil, fmt.Errorf("%w: unexpected value %T", ErrMalformed, raw)
	}
	return el, nil
}
