package loadbalancer

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes adds load balancer API endpoints to the given router.
//
//	GET /api/v1/loadbalancers              configured virtual services
//	GET /api/v1/loadbalancers/connections  recently spliced connections
func (e *Engine) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/loadbalancers", e.handleInstances).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/loadbalancers/connections", e.handleConnections).Methods(http.MethodGet)
}

func (e *Engine) handleInstances(w http.ResponseWriter, r *http.Request) {
	type instanceInfo struct {
		VirtualIP  string   `json:"virtualIp"`
		VirtualMAC string   `json:"virtualMac"`
		Backends   []string `json:"backends"`
	}

	out := []instanceInfo{}
	for _, inst := range e.reg.List() {
		info := instanceInfo{
			VirtualIP:  inst.VirtualIP.String(),
			VirtualMAC: inst.VirtualMAC.String(),
		}
		for _, b := range inst.Backends {
			info.Backends = append(info.Backends, b.String())
		}
		out = append(out, info)
	}
	writeJSON(w, out)
}

func (e *Engine) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, e.Connections())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
