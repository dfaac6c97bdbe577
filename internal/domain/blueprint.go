package domain

import (
	"sync"
	"sync/atomic"
)

// SearchTag is a single searchable key/value pair contributed by a node.
type SearchTag struct {
	Key   string
	Value string
}

// Searchable is implemented by every node kind that contributes search metadata.
// The indexer never inspects node internals beyond this capability.
type Searchable interface {
	SearchTags() []SearchTag
}

// PinType describes the type of a pin or variable.
type PinType struct {
	Category    string `yaml:"category"`
	SubCategory string `yaml:"sub_category"`
	ObjectClass string `yaml:"object_class"`
	IsArray     bool   `yaml:"is_array"`
	IsReference bool   `yaml:"is_reference"`
}

// Pin is a node input or output.
type Pin struct {
	Name         string  `yaml:"name"`
	DefaultValue string  `yaml:"default"`
	Type         PinType `yaml:"type"`
}

// Node is a graph node. Tags supplies the node-kind specific search metadata.
type Node struct {
	Tags        Searchable
	Pins        []Pin
	PendingKill bool
}

// SearchTags returns the node's tags, or nil when the node has no tag source.
func (n *Node) SearchTags() []SearchTag {
	if n == nil || n.Tags == nil {
		return nil
	}
	return n.Tags.SearchTags()
}

// Variable is a member or local variable declaration.
type Variable struct {
	Name    string
	Tooltip string
	Type    PinType
	// Default is the variable's default value in its generic form
	// (string, number, bool, []any, map[string]any).
	Default any
}

// Graph is an event graph, function, macro or nested graph.
type Graph struct {
	Name           string
	Description    string
	Nodes          []*Node
	LocalVariables []Variable
	SubGraphs      []*Graph
	PendingKill    bool
}

// AllChildren appends every nested graph below g (depth first) to out.
func (g *Graph) AllChildren(out []*Graph) []*Graph {
	for _, sub := range g.SubGraphs {
		if sub == nil {
			continue
		}
		out = append(out, sub)
		out = sub.AllChildren(out)
	}
	return out
}

// Contents is the searchable body of a blueprint. It is treated as immutable
// once handed to a Blueprint; edits replace it wholesale via Update.
type Contents struct {
	// Compiled reports whether member variables are available.
	Compiled   bool
	Properties []Variable
	UberGraphs []*Graph
	Functions  []*Graph
	Macros     []*Graph
}

// Blueprint is a loaded visual-scripting asset.
type Blueprint struct {
	path string

	mu         sync.RWMutex
	searchGUID string
	contents   Contents

	revision  atomic.Uint64
	destroyed atomic.Bool
}

// NewBlueprint creates a loaded blueprint at the given package path.
func NewBlueprint(path string, searchGUID string, contents Contents) *Blueprint {
	return &Blueprint{
		path:       PackagePath(path),
		searchGUID: searchGUID,
		contents:   contents,
	}
}

// Path returns the package path of the blueprint.
func (b *Blueprint) Path() string {
	return b.path
}

// SearchGUID returns the embedded search identity, empty if none was assigned.
func (b *Blueprint) SearchGUID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.searchGUID
}

// SetSearchGUID assigns the embedded search identity.
func (b *Blueprint) SetSearchGUID(guid string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.searchGUID = guid
}

// Contents returns the current contents.
func (b *Blueprint) Contents() Contents {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.contents
}

// Update replaces the contents and marks the blueprint modified.
func (b *Blueprint) Update(contents Contents) {
	b.mu.Lock()
	b.contents = contents
	b.mu.Unlock()
	b.revision.Add(1)
}

// MarkModified bumps the revision without changing contents.
func (b *Blueprint) MarkModified() {
	b.revision.Add(1)
}

// Revision is incremented on every modification. Zero means unmodified since load.
func (b *Blueprint) Revision() uint64 {
	return b.revision.Load()
}

// Destroy flags the blueprint as going away. Destroyed blueprints are skipped by searches.
func (b *Blueprint) Destroy() {
	b.destroyed.Store(true)
}

// IsValid reports whether the blueprint has not been destroyed.
func (b *Blueprint) IsValid() bool {
	return b != nil && !b.destroyed.Load()
}
