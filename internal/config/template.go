package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/fieldwire/modgate/internal/model"
)

// PointConfig is one template point's YAML shape: a tag mapped to
// either a readable/writable variable (has "type") or a write-only
// action (has "push").
type PointConfig struct {
	Tag string `mapstructure:"tag"`
	DisplayName string `mapstructure:"display_name"`
	Unit string `mapstructure:"unit"`
	Type string `mapstructure:"type"`
	Length int `mapstructure:"length"`
	Endian string `mapstructure:"endian"`
	Scale float64 `mapstructure:"scale"`
	Access string `mapstructure:"access"`
	Push *PushConfig `mapstructure:"push"`
}

// PushConfig is the write-action descriptor embedded in a point.
type PushConfig struct {
	FunctionCode int `mapstructure:"function_code"`
	Address int `mapstructure:"address"`
	Length int `mapstructure:"length"`
	Endian string `mapstructure:"endian"`
	Type string `mapstructure:"type"`
}

// PollMappingConfig maps one offset within a poll group to a declared
// point's tag.
type PollMappingConfig struct {
	Tag string `mapstructure:"tag"`
	Offset int `mapstructure:"offset"`
}

// PollGroupConfig is one periodic read in the template's poll list.
type PollGroupConfig struct {
	Name string `mapstructure:"name"`
	IntervalMS int `mapstructure:"interval_ms"`
	FunctionCode int `mapstructure:"function_code"`
	BeginAddress int `mapstructure:"begin_address"`
	Length int `mapstructure:"length"`
	Mapping []PollMappingConfig `mapstructure:"mapping"`
}

// TemplateConfig is a device template: the declared points plus the
// poll schedule that reads them.
type TemplateConfig struct {
	Name string `mapstructure:"name"`
	Points []PointConfig `mapstructure:"points"`
	Polls []PollGroupConfig `mapstructure:"polls"`
}

// LoadTemplate reads one device template file.
func LoadTemplate(path string) (*TemplateConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read template %s: %w", path, err)
	}
	var tpl TemplateConfig
	if err := v.Unmarshal(&tpl); err != nil {
		return nil, fmt.Errorf("config: unmarshal template %s: %w", path, err)
	}
	return &tpl, nil
}

// VariableInfos returns every non-write-only point as a model.VariableInfo,
// keyed for lookup by tag.
func (t *TemplateConfig) VariableInfos() (map[string]model.VariableInfo, error) {
	out := make(map[string]model.VariableInfo)
	for _, p := range t.Points {
		if p.Push != nil {
			continue
		}
		info := model.VariableInfo{
			Tag: p.Tag,
			Type: model.DataType(p.Type),
			Length: p.Length,
			Endian: model.Endian(p.Endian),
			Scale: p.Scale,
			Access: model.Access(p.Access),
			DisplayName: p.DisplayName,
			Unit: p.Unit,
		}
		if info.Access == "" {
			info.Access = model.AccessRead
		}
		if err := info.Validate(); err != nil {
			return nil, err
		}
		out[p.Tag] = info
	}
	return out, nil
}

// Actions returns the model.Push of every push-carrying point.
func (t *TemplateConfig) Actions() (map[string]model.Push, error) {
	out := make(map[string]model.Push)
	for _, p := range t.Points {
		if p.Push == nil {
			continue
		}
		out[p.Tag] = model.Push{
			Action: p.Tag,
			FunctionCode: byte(p.Push.FunctionCode),
			Address: uint16(p.Push.Address),
			Length: p.Push.Length,
			Endian: model.Endian(p.Push.Endian),
			Type: model.DataType(p.Push.Type),
		}
	}
	return out, nil
}

// PollGroups translates the template's poll list into model.PollGroup,
// resolving each mapping's point definition and validating offsets.
func (t *TemplateConfig) PollGroups() ([]model.PollGroup, error) {
	points := make(map[string]PointConfig, len(t.Points))
	for _, p := range t.Points {
		points[p.Tag] = p
	}

	groups := make([]model.PollGroup, 0, len(t.Polls))
	for _, pc := range t.Polls {
		g := model.PollGroup{
			Name: pc.Name,
			IntervalMS: pc.IntervalMS,
			FunctionCode: byte(pc.FunctionCode),
			BeginAddress: uint16(pc.BeginAddress),
			Length: uint16(pc.Length),
		}
		for _, m := range pc.Mapping {
			pt, ok := points[m.Tag]
			if !ok {
				return nil, fmt.Errorf("config: poll group %q references unknown tag %q", pc.Name, m.Tag)
			}
			g.Mapping = append(g.Mapping, model.PointMapping{
				Tag: m.Tag,
				Offset: m.Offset,
				Length: pt.Length,
				Endian: model.Endian(pt.Endian),
				Type: model.DataType(pt.Type),
				Access: model.Access(pt.Access),
			})
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}
