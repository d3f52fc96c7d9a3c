package config

import "testing"

func TestTemplatePollGroupsResolvesMappings(t *testing.T) {
	tpl := &TemplateConfig{
		Points: []PointConfig{
			{Tag: "temp", Type: "float", Length: 2, Endian: "CDAB", Access: "r"},
			{Tag: "running", Type: "bool", Length: 1, Access: "r"},
		},
		Polls: []PollGroupConfig{
			{
				Name:         "main",
				IntervalMS:   1000,
				FunctionCode: 3,
				BeginAddress: 0,
				Length:       4,
				Mapping: []PollMappingConfig{
					{Tag: "temp", Offset: 0},
					{Tag: "running", Offset: 2},
				},
			},
		},
	}

	groups, err := tpl.PollGroups()
	if err != nil {
		t.Fatalf("PollGroups: %v", err)
	}
	if len(groups) != 1 || len(groups[0].Mapping) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Mapping[0].Length != 2 || groups[0].Mapping[0].Type != "float" {
		t.Fatalf("mapping[0] = %+v", groups[0].Mapping[0])
	}
}

func TestTemplatePollGroupsRejectsUnknownTag(t *testing.T) {
	tpl := &TemplateConfig{
		Polls: []PollGroupConfig{
			{Name: "main", Length: 4, Mapping: []PollMappingConfig{{Tag: "ghost", Offset: 0}}},
		},
	}
	_, err := tpl.PollGroups()
	if err == nil {
		t.Fatal("expected error for unknown tag")
	}
}

func TestTemplateActionsExtractsPushPoints(t *testing.T) {
	tpl := &TemplateConfig{
		Points: []PointConfig{
			{Tag: "set_point", Type: "uint", Length: 1, Push: &PushConfig{FunctionCode: 3, Address: 10, Length: 1, Type: "uint"}},
			{Tag: "reading", Type: "float", Length: 2, Access: "r"},
		},
	}
	actions, err := tpl.Actions()
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("actions = %+v, want 1 entry", actions)
	}
	if actions["set_point"].FunctionCode != 3 {
		t.Fatalf("action FunctionCode = %d, want 3", actions["set_point"].FunctionCode)
	}
}
