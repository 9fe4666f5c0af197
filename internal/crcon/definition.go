package crcon

import (
	"github.com/palisade-gg/palisade/internal/configstore"
	"github.com/palisade-gg/palisade/internal/registry"
)

type Definition struct{}

func NewDefinition() *Definition {
	return &Definition{}
}

func (d *Definition) Kind() registry.Kind {
	return registry.KindCRCON
}

func (d *Definition) DisplayName() string {
	return "Community RCON"
}

func (d *Definition) DecodeSettings(raw []byte) (any, error) {
	cfg, err := configstore.DecodeCRCONConfig(raw)
	if err != nil {
		return nil, err
	}
	return cfg.Normalized(), nil
}

func (d *Definition) ValidateSettings(settings any) error {
	return settings.(configstore.CRCONConfig).Validate()
}

func (d *Definition) MergeSettings(existing, update any) any {
	return configstore.MergeCRCONConfig(
		existing.(configstore.CRCONConfig),
		update.(configstore.CRCONConfig),
	)
}

func (d *Definition) New(cfg registry.Config, deps registry.Deps) (registry.Integration, error) {
	return NewIntegration(cfg, deps)
}
