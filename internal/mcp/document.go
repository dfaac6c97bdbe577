package mcp

import (
	"fmt"
	"strings"

	"github.com/sha1n/mcp-fib-server/internal/metadata"
)

// renderDocument prints a decoded search document as an indented outline.
func renderDocument(doc string) (string, error) {
	root, err := metadata.Parse(doc)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, child := range root.Children {
		renderElement(&sb, child, i, 0)
	}
	return sb.String(), nil
}

func renderElement(sb *strings.Builder, el *metadata.Element, index, depth int) {
	indent := strings.Repeat("  ", depth)
	label := el.Key
	if label == "" {
		label = el.Name()
		if label == "" {
			label = fmt.Sprintf("[%d]", index)
		}
		label = "- " + label
	}

	if el.Leaf {
		fmt.Fprintf(sb, "%s%s: %s\n", indent, label, el.Value)
		return
	}
	fmt.Fprintf(sb, "%s%s\n", indent, label)
	for i, child := range el.Children {
		renderElement(sb, child, i, depth+1)
	}
}
