package validator

import (
	"fmt"

	"mercator-hq/warden/pkg/policy/model"
)

// actionProblems checks an action's type and typed config.
func actionProblems(a model.Action) []string {
	if !a.Type.IsValid() {
		return []string{fmt.Sprintf("unknown action type %q", a.Type)}
	}
	if a.Config == nil {
		// Types without required keys may omit the config entirely.
		cfg, err := model.DecodeActionConfig(a.Type, nil)
		if err != nil {
			return []string{err.Error()}
		}
		return cfg.Problems()
	}
	if a.Config.ActionType() != a.Type {
		return []string{fmt.Sprintf("config for %s attached to %s action", a.Config.ActionType(), a.Type)}
	}
	return a.Config.Problems()
}
