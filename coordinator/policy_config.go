package coordinator

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/localforge/fabric/core"
)

// ruleFile is the on-disk shape of a hot-editable policy rule list,
// matching the teacher's convention of declaring orchestration config
// in YAML rather than Go literals.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	Name       string `yaml:"name"`
	Action     string `yaml:"action"`
	Priority   int    `yaml:"priority"`
	Conditions struct {
		Op       string `yaml:"op"`
		Resource string `yaml:"resource"`
		User     string `yaml:"user"`
	} `yaml:"conditions"`
}

// LoadPolicyFromYAML reads a rule list from path and installs it into
// engine, so operators can edit policy without redeploying.
func LoadPolicyFromYAML(engine *PolicyEngine, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return core.NewError("coordinator.LoadPolicyFromYAML", core.KindInternal, err)
	}

	var parsed ruleFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return core.NewError("coordinator.LoadPolicyFromYAML", core.KindBadRequest, err)
	}

	for _, entry := range parsed.Rules {
		engine.Add(entry.Name, Action(entry.Action), Conditions{
			Op:       entry.Conditions.Op,
			Resource: entry.Conditions.Resource,
			User:     entry.Conditions.User,
		}, entry.Priority)
	}
	return nil
}
