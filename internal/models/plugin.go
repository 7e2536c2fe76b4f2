package models

// PluginDescriptor identifies a plugin and declares what it can do.
type PluginDescriptor struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author,omitempty"`

	// JobTypes this plugin declares support for. Routing still consults
	// CanHandle per request.
	JobTypes []JobType `json:"job_types"`
	// Capabilities are opaque tags such as "hardware-accel" or "streaming".
	Capabilities []string `json:"capabilities,omitempty"`

	InputFormats  []string `json:"input_formats,omitempty"`
	OutputFormats []string `json:"output_formats,omitempty"`

	// BuiltIn is true for plugins compiled into the daemon, false for
	// plugins loaded from the plugin directory.
	BuiltIn bool `json:"built_in"`
	// LibraryPath is the artifact path for dynamically loaded plugins.
	LibraryPath string `json:"library_path,omitempty"`
}

// HandlesType reports whether the descriptor declares the given job type.
func (d PluginDescriptor) HandlesType(t JobType) bool {
	for _, jt := range d.JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// HasCapability reports whether the descriptor declares a capability tag.
func (d PluginDescriptor) HasCapability(tag string) bool {
	for _, c := range d.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// PluginStatus is a descriptor plus runtime state, as exposed by the API.
type PluginStatus struct {
	PluginDescriptor
	Loaded  bool `json:"loaded"`
	Healthy bool `json:"healthy"`
}
