package transit

import (
	"encoding/json"
	"fmt"
	"net"
	"sort"
	"strconv"
)

// Ability names advertised in the transit phase message. Peers intersect
// ability sets; unknown abilities and hint types are ignored, never fatal.
const (
	AbilityDirectTCP = "direct-tcp-v1"
	AbilityRelay     = "relay-v1"
)

// DirectHint is one host:port a peer may dial directly. Lower priority
// values are tried first.
type DirectHint struct {
	Hostname string  `json:"hostname"`
	Port     uint16  `json:"port"`
	Priority float64 `json:"priority,omitempty"`
}

// Addr formats the hint as a dialable address.
func (h DirectHint) Addr() string {
	return net.JoinHostPort(h.Hostname, strconv.Itoa(int(h.Port)))
}

// RelayHint is one relay endpoint, itself a set of direct hints.
type RelayHint struct {
	Hints []DirectHint `json:"hints"`
}

// Hints is the payload of the transit phase message: what this side can do
// and where it can be reached.
type Hints struct {
	Abilities []Ability `json:"abilities-v1"`
	Hints     []hintRec `json:"hints-v1"`
}

// Ability is one entry of the abilities list.
type Ability struct {
	Type string `json:"type"`
}

// hintRec is the wire shape of one hint: a type tag plus the union of the
// per-type fields. Unknown types round-trip as inert records.
type hintRec struct {
	Type     string       `json:"type"`
	Hostname string       `json:"hostname,omitempty"`
	Port     uint16       `json:"port,omitempty"`
	Priority float64      `json:"priority,omitempty"`
	Hints    []DirectHint `json:"hints,omitempty"`
}

// NewHints assembles a hint message from direct and relay candidate lists.
func NewHints(direct []DirectHint, relays []RelayHint) Hints {
	h := Hints{}
	if len(direct) > 0 {
		h.Abilities = append(h.Abilities, Ability{Type: AbilityDirectTCP})
	}
	if len(relays) > 0 {
		h.Abilities = append(h.Abilities, Ability{Type: AbilityRelay})
	}
	for _, d := range direct {
		h.Hints = append(h.Hints, hintRec{
			Type:     AbilityDirectTCP,
			Hostname: d.Hostname,
			Port:     d.Port,
			Priority: d.Priority,
		})
	}
	for _, r := range relays {
		h.Hints = append(h.Hints, hintRec{Type: AbilityRelay, Hints: r.Hints})
	}
	return h
}

// Direct extracts the direct hints, best priority first.
func (h Hints) Direct() []DirectHint {
	var out []DirectHint
	for _, rec := range h.Hints {
		if rec.Type != AbilityDirectTCP || rec.Hostname == "" || rec.Port == 0 {
			continue
		}
		out = append(out, DirectHint{Hostname: rec.Hostname, Port: rec.Port, Priority: rec.Priority})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Relays extracts the relay hints, dropping empty entries.
func (h Hints) Relays() []RelayHint {
	var out []RelayHint
	for _, rec := range h.Hints {
		if rec.Type != AbilityRelay || len(rec.Hints) == 0 {
			continue
		}
		out = append(out, RelayHint{Hints: rec.Hints})
	}
	return out
}

// Marshal encodes the hint message for the transit phase.
func (h Hints) Marshal() ([]byte, error) {
	return json.Marshal(h)
}

// ParseHints decodes a peer's transit phase payload.
func ParseHints(b []byte) (Hints, error) {
	var h Hints
	if err := json.Unmarshal(b, &h); err != nil {
		return Hints{}, fmt.Errorf("transit: undecodable hints: %w", err)
	}
	return h, nil
}

// localDirectHints enumerates the non-loopback interface addresses with the
// listener's port.
func localDirectHints(port uint16) []DirectHint {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []DirectHint
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP
			if ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			v4 := ip.To4()
			if v4 == nil {
				// Skip v6 for now: hint hostnames travel unbracketed and
				// most peers of interest are v4-reachable.
				continue
			}
			out = append(out, DirectHint{Hostname: v4.String(), Port: port})
		}
	}
	return out
}
