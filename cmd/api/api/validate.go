package api

import (
	"net/http"

	"github.com/onkernel/vmconf/lib/hotplug"
	"github.com/onkernel/vmconf/lib/vmconfig"
)

// ValidateConfig resolves a configuration the way CreateVM would, without
// creating anything, and returns the result or the complete violation list
func (s *ApiService) ValidateConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := vmconfig.Decode(r.Body)
	if err != nil {
		writeError(w, r, err, "validate config")
		return
	}
	resolved, _, err := hotplug.Resolve(cfg, s.Target)
	if err != nil {
		writeError(w, r, err, "validate config")
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}
