package battlemetrics

import (
	"github.com/palisade-gg/palisade/internal/configstore"
	"github.com/palisade-gg/palisade/internal/registry"
)

type Definition struct{}

func NewDefinition() *Definition {
	return &Definition{}
}

func (d *Definition) Kind() registry.Kind {
	return registry.KindBattlemetrics
}

func (d *Definition) DisplayName() string {
	return "Battlemetrics"
}

func (d *Definition) DecodeSettings(raw []byte) (any, error) {
	cfg, err := configstore.DecodeBattlemetricsConfig(raw)
	if err != nil {
		return nil, err
	}
	return cfg.Normalized(), nil
}

func (d *Definition) ValidateSettings(settings any) error {
	return settings.(configstore.BattlemetricsConfig).Validate()
}

func (d *Definition) MergeSettings(existing, update any) any {
	return configstore.MergeBattlemetricsConfig(
		existing.(configstore.BattlemetricsConfig),
		update.(configstore.BattlemetricsConfig),
	)
}

func (d *Definition) New(cfg registry.Config, deps registry.Deps) (registry.Integration, error) {
	return NewIntegration(cfg, deps)
}
