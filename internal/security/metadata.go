// ABOUTME: Discovery endpoint describing the active authentication scheme
// ABOUTME: Hidden entirely when the server runs in open mode

package security

import (
	"encoding/json"
	"net/http"

	"github.com/2389/replgate/internal/config"
)

// Metadata is the discovery document served at /auth/metadata.
type Metadata struct {
	Server  string   `json:"server"`
	Version string   `json:"version"`
	Mode    string   `json:"mode"`
	Schemes []string `json:"schemes"`
}

// MetadataHandler serves GET /auth/metadata. In open mode the endpoint does
// not exist, so probes cannot distinguish it from any other unknown path.
func (g *Gate) MetadataHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
			return
		}
		if g.security.Mode == config.ModeOpen {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(Metadata{
			Server:  g.serverName,
			Version: g.version,
			Mode:    string(g.security.Mode),
			Schemes: []string{"bearer"},
		}); err != nil {
			g.logger.Error("failed to encode auth metadata", "error", err)
		}
	})
}
