package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/sha1n/mcp-fib-server/internal/domain"
)

var (
	// ErrMalformed indicates a document or entry that cannot be decoded.
	ErrMalformed = errors.New("malformed search document")

	// ErrNilBlueprint is returned when gathering a nil blueprint.
	ErrNilBlueprint = errors.New("nil blueprint")
)

// object is a document object keyed by encoded keys.
type object map[string]any

func (o object) setText(key, value string) {
	o[EncodeText(key)] = EncodeText(value)
}

func (o object) setBool(key string, value bool) {
	o[EncodeText(key)] = value
}

func (o object) setArray(key string, values []any) {
	o[EncodeText(key)] = values
}

// Gather builds the serialized search document for a blueprint.
func Gather(bp *domain.Blueprint) (string, error) {
	if bp == nil {
		return "", ErrNilBlueprint
	}
	contents := bp.Contents()
	root := object{}

	// Member variables are only meaningful once the blueprint has compiled.
	if contents.Compiled {
		props := make([]any, 0, len(contents.Properties))
		for _, v := range contents.Properties {
			props = append(props, variableObject(v))
		}
		root.setArray(TagProperties, props)
	}

	var subGraphs []*domain.Graph
	gatherGraphs(root, TagUberGraphs, contents.UberGraphs, &subGraphs)
	gatherGraphs(root, TagFunctions, contents.Functions, &subGraphs)
	gatherGraphs(root, TagMacros, contents.Macros, &subGraphs)
	// Nested graphs are flattened into their own array instead of nesting under their parents.
	gatherGraphs(root, TagSubGraphs, subGraphs, nil)

	data, err := json.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("failed to serialize search document for %s: %w", bp.Path(), err)
	}
	return string(data), nil
}

func gatherGraphs(root object, title string, graphs []*domain.Graph, subGraphs *[]*domain.Graph) {
	if len(graphs) == 0 {
		return
	}

	entries := make([]any, 0, len(graphs))
	for _, g := range graphs {
		if g == nil {
			continue
		}
		entries = append(entries, graphObject(g))
		if subGraphs != nil {
			*subGraphs = g.AllChildren(*subGraphs)
		}
	}
	root.setArray(title, entries)
}

func graphObject(g *domain.Graph) object {
	obj := object{}
	obj.setText(TagName, g.Name)
	if g.Description != "" {
		obj.setText(TagDescription, g.Description)
	}

	nodes := make([]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		// Nodes of a graph that is going away are not worth indexing.
		if n == nil || n.PendingKill || g.PendingKill {
			continue
		}
		nodes = append(nodes, nodeObject(n))
	}
	obj.setArray(TagNodes, nodes)

	locals := make([]any, 0, len(g.LocalVariables))
	for _, v := range g.LocalVariables {
		locals = append(locals, variableObject(v))
	}
	obj.setArray(TagProperties, locals)

	return obj
}

func nodeObject(n *domain.Node) object {
	obj := object{}
	for _, tag := range n.SearchTags() {
		obj.setText(tag.Key, tag.Value)
	}

	pins := make([]any, 0, len(n.Pins))
	for _, p := range n.Pins {
		pin := object{}
		pin.setText(TagName, p.Name)
		pin.setText(TagDefaultValue, p.DefaultValue)
		savePinType(pin, p.Type)
		pins = append(pins, pin)
	}
	obj.setArray(TagPins, pins)
	return obj
}

func savePinType(obj object, t domain.PinType) {
	if t.Category != "" {
		obj.setText(TagPinCategory, t.Category)
	}
	if t.SubCategory != "" {
		obj.setText(TagPinSubCategory, t.SubCategory)
	}
	if t.ObjectClass != "" {
		obj.setText(TagObjectClass, t.ObjectClass)
	}
	obj.setBool(TagIsArray, t.IsArray)
	obj.setBool(TagIsReference, t.IsReference)
}

func variableObject(v domain.Variable) object {
	obj := object{}
	obj.setText(TagName, v.Name)
	obj.setText(TagTooltip, v.Tooltip)
	savePinType(obj, v.Type)

	if value, ok := searchableValue(v.Default); ok {
		obj[EncodeText(TagDefaultValue)] = encodeValue(value)
	}
	return obj
}

// searchableValue filters out values that are not useful to search for:
// booleans, nulls, empty strings, zero numbers, arrays of uninteresting
// types and objects with no interesting members. Objects are pruned in the
// returned copy.
func searchableValue(v any) (any, bool) {
	switch val := v.(type) {
	case nil, bool:
		return nil, false
	case string:
		return val, val != ""
	case []any:
		if len(val) > 0 {
			switch val[0].(type) {
			case []any, string, map[string]any:
			default:
				if !isNumber(val[0]) {
					return nil, false
				}
			}
		}
		return val, true
	case map[string]any:
		pruned := make(map[string]any, len(val))
		for k, child := range val {
			if kept, ok := searchableValue(child); ok {
				pruned[k] = kept
			}
		}
		return pruned, len(pruned) > 0
	default:
		if isNumber(v) {
			return v, reflect.ValueOf(v).Convert(reflect.TypeOf(float64(0))).Float() != 0
		}
		return nil, false
	}
}

func isNumber(v any) bool {
	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// encodeValue applies the text transform to every string and key in a generic value.
func encodeValue(v any) any {
	switch val := v.(type) {
	case string:
		return EncodeText(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = encodeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[EncodeText(k)] = encodeValue(item)
		}
		return out
	default:
		return v
	}
}
