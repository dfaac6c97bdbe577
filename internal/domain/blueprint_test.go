package domain

import "testing"

type staticTags []SearchTag

func (s staticTags) SearchTags() []SearchTag { return s }

func TestPackagePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/Game/BP_A.BP_A", "/Game/BP_A"},
		{"/Game/BP_A", "/Game/BP_A"},
		{"/Game/Dir.v2/BP_B.BP_B", "/Game/Dir.v2/BP_B"},
		{"BP_C.BP_C", "BP_C"},
	}

	for _, tt := range tests {
		if got := PackagePath(tt.in); got != tt.want {
			t.Errorf("PackagePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObjectPath(t *testing.T) {
	if got := ObjectPath("/Game/Chars/BP_Hero"); got != "/Game/Chars/BP_Hero.BP_Hero" {
		t.Errorf("ObjectPath = %q", got)
	}
	if got := ObjectPath("/Game/BP_A.BP_A"); got != "/Game/BP_A.BP_A" {
		t.Errorf("ObjectPath of object path = %q", got)
	}
}

func TestBlueprint_Revision(t *testing.T) {
	bp := NewBlueprint("/Game/BP_A.BP_A", "", Contents{})

	if bp.Path() != "/Game/BP_A" {
		t.Errorf("Path() = %q, want '/Game/BP_A'", bp.Path())
	}
	if bp.Revision() != 0 {
		t.Errorf("Revision() = %d, want 0", bp.Revision())
	}

	bp.Update(Contents{Compiled: true})
	if bp.Revision() != 1 {
		t.Errorf("Revision() after Update = %d, want 1", bp.Revision())
	}
	if !bp.Contents().Compiled {
		t.Error("Update should replace contents")
	}

	bp.MarkModified()
	if bp.Revision() != 2 {
		t.Errorf("Revision() after MarkModified = %d, want 2", bp.Revision())
	}
}

func TestBlueprint_Destroy(t *testing.T) {
	bp := NewBlueprint("/Game/BP_A", "guid", Contents{})
	if !bp.IsValid() {
		t.Fatal("new blueprint should be valid")
	}
	bp.Destroy()
	if bp.IsValid() {
		t.Error("destroyed blueprint should be invalid")
	}

	var nilBP *Blueprint
	if nilBP.IsValid() {
		t.Error("nil blueprint should be invalid")
	}
}

func TestNode_SearchTags(t *testing.T) {
	var n *Node
	if n.SearchTags() != nil {
		t.Error("nil node should have no tags")
	}

	n = &Node{Tags: staticTags{{Key: "Name", Value: "Jump"}}}
	tags := n.SearchTags()
	if len(tags) != 1 || tags[0].Value != "Jump" {
		t.Errorf("SearchTags() = %v", tags)
	}
}

func TestGraph_AllChildren(t *testing.T) {
	leaf := &Graph{Name: "Leaf"}
	mid := &Graph{Name: "Mid", SubGraphs: []*Graph{leaf, nil}}
	root := &Graph{Name: "Root", SubGraphs: []*Graph{mid}}

	got := root.AllChildren(nil)
	if len(got) != 2 || got[0] != mid || got[1] != leaf {
		t.Errorf("AllChildren() returned %d graphs", len(got))
	}
}
