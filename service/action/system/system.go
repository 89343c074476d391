// Package system holds types shared by the system/* action services.
package system

// Host identifies the runner a step executes on. The zero value targets the
// local shell; remote runners use ssh://host URLs with scy-managed
// credentials.
type Host struct {
	// URL locates the runner, e.g. bash://localhost/ or ssh://10.0.0.7:22.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Credentials names a scy secret resource holding SSH credentials for
	// remote runners; empty falls back to the localhost secret.
	Credentials string `json:"credentials,omitempty" yaml:"credentials,omitempty"`
}

// IsLocal reports whether the host addresses the local machine.
func (h *Host) IsLocal() bool {
	return h == nil || h.URL == "" || h.URL == "bash://localhost/"
}
