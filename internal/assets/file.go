package assets

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/sha1n/mcp-fib-server/internal/domain"
)

// blueprintFile is the on-disk layout of a *.bp.yaml asset.
type blueprintFile struct {
	SearchGUID string         `yaml:"search_guid"`
	Compiled   bool           `yaml:"compiled"`
	Properties []variableSpec `yaml:"properties"`
	UberGraphs []graphSpec    `yaml:"uber_graphs"`
	Functions  []graphSpec    `yaml:"functions"`
	Macros     []graphSpec    `yaml:"macros"`
}

type graphSpec struct {
	Name           string         `yaml:"name"`
	Description    string         `yaml:"description"`
	Nodes          []nodeSpec     `yaml:"nodes"`
	LocalVariables []variableSpec `yaml:"local_variables"`
	SubGraphs      []graphSpec    `yaml:"sub_graphs"`
}

type nodeSpec struct {
	Kind    string       `yaml:"kind"`
	Title   string       `yaml:"title"`
	Class   string       `yaml:"class"`
	GUID    string       `yaml:"guid"`
	Tooltip string       `yaml:"tooltip"`
	Member  string       `yaml:"member"`
	Target  string       `yaml:"target"`
	Comment string       `yaml:"comment"`
	Pins    []domain.Pin `yaml:"pins"`
}

type variableSpec struct {
	Name    string         `yaml:"name"`
	Tooltip string         `yaml:"tooltip"`
	Type    domain.PinType `yaml:"type"`
	Default any            `yaml:"default"`
}

// header is the part of a blueprint file read by registry scans.
type header struct {
	SearchGUID string `yaml:"search_guid"`
}

func decodeHeader(data []byte) (header, error) {
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return header{}, fmt.Errorf("failed to parse blueprint header: %w", err)
	}
	return h, nil
}

func decodeFile(data []byte) (*blueprintFile, error) {
	var f blueprintFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint: %w", err)
	}
	return &f, nil
}

// contents converts the file into the blueprint body.
func (f *blueprintFile) contents() (domain.Contents, error) {
	c := domain.Contents{
		Compiled:   f.Compiled,
		Properties: variables(f.Properties),
	}
	var err error
	if c.UberGraphs, err = graphs(f.UberGraphs); err != nil {
		return domain.Contents{}, err
	}
	if c.Functions, err = graphs(f.Functions); err != nil {
		return domain.Contents{}, err
	}
	if c.Macros, err = graphs(f.Macros); err != nil {
		return domain.Contents{}, err
	}
	return c, nil
}

func graphs(specs []graphSpec) ([]*domain.Graph, error) {
	out := make([]*domain.Graph, 0, len(specs))
	for _, s := range specs {
		g := &domain.Graph{
			Name:           s.Name,
			Description:    s.Description,
			LocalVariables: variables(s.LocalVariables),
		}
		for _, ns := range s.Nodes {
			tags, err := newSearchable(ns)
			if err != nil {
				return nil, fmt.Errorf("graph %q: %w", s.Name, err)
			}
			g.Nodes = append(g.Nodes, &domain.Node{Tags: tags, Pins: ns.Pins})
		}
		sub, err := graphs(s.SubGraphs)
		if err != nil {
			return nil, err
		}
		g.SubGraphs = sub
		out = append(out, g)
	}
	return out, nil
}

func variables(specs []variableSpec) []domain.Variable {
	out := make([]domain.Variable, 0, len(specs))
	for _, s := range specs {
		out = append(out, domain.Variable{Name: s.Name, Tooltip: s.Tooltip, Type: s.Type, Default: s.Default})
	}
	return out
}
