package l3routing

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/glennswest/sdnctl/pkg/network"
)

// RegisterRoutes adds routing API endpoints to the given router.
//
//	GET /api/v1/switches               known switches
//	GET /api/v1/links                  inter-switch links
//	GET /api/v1/hosts                  tracked hosts
//	GET /api/v1/paths                  full next-hop table
//	GET /api/v1/paths/{src}/{dst}      one path, hop by hop
func (m *Manager) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/switches", m.handleSwitches).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/links", m.handleLinks).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/hosts", m.handleHosts).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/paths", m.handlePaths).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/paths/{src}/{dst}", m.handlePath).Methods(http.MethodGet)
}

func (m *Manager) handleSwitches(w http.ResponseWriter, r *http.Request) {
	type switchSummary struct {
		ID        network.SwitchID   `json:"id"`
		Name      string             `json:"name"`
		Neighbors []network.SwitchID `json:"neighbors"`
	}

	g := m.Graph()
	out := []switchSummary{}
	for _, sw := range m.topo.Switches() {
		out = append(out, switchSummary{ID: sw, Name: sw.String(), Neighbors: g.Neighbors(sw)})
	}
	writeJSON(w, out)
}

func (m *Manager) handleLinks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, m.topo.Links())
}

func (m *Manager) handleHosts(w http.ResponseWriter, r *http.Request) {
	type hostInfo struct {
		Name     string           `json:"name"`
		DeviceID string           `json:"deviceId"`
		MAC      string           `json:"mac"`
		IP       string           `json:"ip"`
		Switch   network.SwitchID `json:"switch,omitempty"`
		Port     uint32           `json:"port,omitempty"`
		Attached bool             `json:"attached"`
	}

	out := []hostInfo{}
	for _, h := range m.hosts.List() {
		out = append(out, hostInfo{
			Name:     h.Name,
			DeviceID: h.DeviceID,
			MAC:      h.MAC.String(),
			IP:       h.IP.String(),
			Switch:   h.Switch,
			Port:     h.Port,
			Attached: h.Attached,
		})
	}
	writeJSON(w, out)
}

func (m *Manager) handlePaths(w http.ResponseWriter, r *http.Request) {
	pt := m.Paths()

	writeJSON(w, struct {
		ComputedAt time.Time   `json:"computedAt"`
		Switches   int         `json:"switches"`
		Entries    interface{} `json:"entries"`
	}{
		ComputedAt: m.ComputedAt(),
		Switches:   len(pt.Switches()),
		Entries:    pt.Entries(),
	})
}

func (m *Manager) handlePath(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	src, err := network.ParseSwitchID(vars["src"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dst, err := network.ParseSwitchID(vars["dst"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pt := m.Paths()
	path := pt.Path(src, dst)
	if path == nil {
		http.Error(w, "no path", http.StatusNotFound)
		return
	}

	type hop struct {
		Switch network.SwitchID `json:"switch"`
		Port   uint32           `json:"port,omitempty"`
	}

	g := m.Graph()
	hops := make([]hop, len(path))
	for i, sw := range path {
		hops[i].Switch = sw
		if i+1 < len(path) {
			hops[i].Port, _ = g.PortToward(sw, path[i+1])
		}
	}
	distance, _ := pt.Distance(src, dst)

	writeJSON(w, struct {
		Src      network.SwitchID `json:"src"`
		Dst      network.SwitchID `json:"dst"`
		Distance int              `json:"distance"`
		Hops     []hop            `json:"hops"`
	}{src, dst, distance, hops})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
