//go:build !linux && !darwin

package plugin

import (
	"github.com/mediabuilder/mediad/internal/errkind"
)

// openArtifact is unavailable on platforms without dynamic plugin support;
// built-in plugins still work everywhere.
func openArtifact(path string) (Factory, string, error) {
	return nil, "", errkind.E(errkind.Plugin, "dynamic plugin loading not supported on this platform: %q", path)
}
