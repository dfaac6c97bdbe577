package assets

import (
	"fmt"

	"github.com/sha1n/mcp-fib-server/internal/domain"
	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

// Node kinds understood in blueprint files.
const (
	KindCallFunction = "call_function"
	KindVariableGet  = "variable_get"
	KindVariableSet  = "variable_set"
	KindEvent        = "event"
	KindComment      = "comment"
)

// Node specific search keys.
const (
	TagFunctionName = "FunctionName"
	TagTarget       = "Target"
	TagVariableName = "VariableName"
	TagEventName    = "EventName"
)

// tagSet collects search tags, skipping empty values.
type tagSet []domain.SearchTag

func (t *tagSet) add(key, value string) {
	if value != "" {
		*t = append(*t, domain.SearchTag{Key: key, Value: value})
	}
}

// baseNode holds the attributes every node kind contributes.
type baseNode struct {
	Title   string
	Class   string
	GUID    string
	Tooltip string
}

func (b baseNode) tags() tagSet {
	var t tagSet
	t.add(metadata.TagName, b.Title)
	t.add(metadata.TagClassName, b.Class)
	t.add(metadata.TagNodeGUID, b.GUID)
	t.add(metadata.TagTooltip, b.Tooltip)
	return t
}

// CallFunctionNode calls a function, optionally on a target class.
type CallFunctionNode struct {
	baseNode
	Function string
	Target   string
}

func (n *CallFunctionNode) SearchTags() []domain.SearchTag {
	t := n.tags()
	t.add(TagFunctionName, n.Function)
	t.add(TagTarget, n.Target)
	return t
}

// VariableNode reads or writes a variable.
type VariableNode struct {
	baseNode
	Variable string
}

func (n *VariableNode) SearchTags() []domain.SearchTag {
	t := n.tags()
	t.add(TagVariableName, n.Variable)
	return t
}

// EventNode is an event entry point.
type EventNode struct {
	baseNode
	Event string
}

func (n *EventNode) SearchTags() []domain.SearchTag {
	t := n.tags()
	t.add(TagEventName, n.Event)
	return t
}

// CommentNode is a free text comment box.
type CommentNode struct {
	baseNode
	Text string
}

func (n *CommentNode) SearchTags() []domain.SearchTag {
	t := n.tags()
	t.add(metadata.TagComment, n.Text)
	return t
}

// GenericNode is any node kind without extra searchable attributes.
type GenericNode struct {
	baseNode
}

func (n *GenericNode) SearchTags() []domain.SearchTag {
	return n.tags()
}

// newSearchable builds the tag source for a node declared in a blueprint file.
func newSearchable(spec nodeSpec) (domain.Searchable, error) {
	base := baseNode{Title: spec.Title, Class: spec.Class, GUID: spec.GUID, Tooltip: spec.Tooltip}

	switch spec.Kind {
	case KindCallFunction:
		if base.Class == "" {
			base.Class = "K2Node_CallFunction"
		}
		if base.Title == "" {
			base.Title = spec.Member
		}
		return &CallFunctionNode{baseNode: base, Function: spec.Member, Target: spec.Target}, nil
	case KindVariableGet, KindVariableSet:
		if base.Class == "" {
			base.Class = "K2Node_VariableGet"
			if spec.Kind == KindVariableSet {
				base.Class = "K2Node_VariableSet"
			}
		}
		if base.Title == "" {
			base.Title = spec.Member
		}
		return &VariableNode{baseNode: base, Variable: spec.Member}, nil
	case KindEvent:
		if base.Class == "" {
			base.Class = "K2Node_Event"
		}
		if base.Title == "" {
			base.Title = spec.Member
		}
		return &EventNode{baseNode: base, Event: spec.Member}, nil
	case KindComment:
		if base.Class == "" {
			base.Class = "EdGraphNode_Comment"
		}
		return &CommentNode{baseNode: base, Text: spec.Comment}, nil
	case "":
		return &GenericNode{baseNode: base}, nil
	default:
		if base.Class == "" {
			return nil, fmt.Errorf("node %q: unknown kind %q without a class", spec.Title, spec.Kind)
		}
		return &GenericNode{baseNode: base}, nil
	}
}
