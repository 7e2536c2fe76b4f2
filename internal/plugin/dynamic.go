//go:build linux || darwin

package plugin

import (
	goplugin "plugin"

	"github.com/mediabuilder/mediad/internal/errkind"
)

// openArtifact loads a shared object and resolves its exported factory and
// API version symbols. Every plugin artifact must export:
//
//	func NewPlugin() plugin.Plugin
//	var PluginAPIVersion string
func openArtifact(path string) (Factory, string, error) {
	lib, err := goplugin.Open(path)
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Plugin, err, "opening plugin artifact %q", path)
	}

	versionSym, err := lib.Lookup("PluginAPIVersion")
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Plugin, err, "plugin %q: missing PluginAPIVersion symbol", path)
	}
	version, ok := versionSym.(*string)
	if !ok {
		return nil, "", errkind.E(errkind.Plugin, "plugin %q: PluginAPIVersion has wrong type %T", path, versionSym)
	}

	factorySym, err := lib.Lookup("NewPlugin")
	if err != nil {
		return nil, "", errkind.Wrap(errkind.Plugin, err, "plugin %q: missing NewPlugin symbol", path)
	}
	factory, ok := factorySym.(func() Plugin)
	if !ok {
		return nil, "", errkind.E(errkind.Plugin, "plugin %q: NewPlugin has wrong type %T", path, factorySym)
	}

	return factory, *version, nil
}
