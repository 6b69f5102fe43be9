package onion

import "strings"

// Node is one relay hop of a circuit.
type Node struct {
	Fingerprint string `json:"fingerprint"`
	Nickname    string `json:"nickname,omitempty"`
}

// Circuit is a built Tor circuit as reported by GETINFO circuit-status.
type Circuit struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Purpose string `json:"purpose,omitempty"`
	Nodes   []Node `json:"nodes"`
}

// parseCircuits reads circuit-status data lines and keeps BUILT circuits.
func parseCircuits(data []string) []Circuit {
	var circuits []Circuit
	for _, chunk := range data {
		for _, line := range strings.Split(chunk, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "circuit-status="))
			if line == "" || line == "OK" {
				continue
			}
			circuit, ok := parseCircuitLine(line)
			if !ok || circuit.Status != "BUILT" {
				continue
			}
			circuits = append(circuits, circuit)
		}
	}
	return circuits
}

func parseCircuitLine(line string) (Circuit, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Circuit{}, false
	}
	circuit := Circuit{ID: fields[0], Status: fields[1]}
	for _, field := range fields[2:] {
		switch {
		case strings.HasPrefix(field, "$"):
			circuit.Nodes = parsePath(field)
		case strings.HasPrefix(field, "PURPOSE="):
			circuit.Purpose = strings.TrimPrefix(field, "PURPOSE=")
		}
	}
	return circuit, true
}

func parsePath(path string) []Node {
	hops := strings.Split(path, ",")
	nodes := make([]Node, 0, len(hops))
	for _, hop := range hops {
		hop = strings.TrimPrefix(hop, "$")
		if hop == "" {
			continue
		}
		fingerprint, nickname := hop, ""
		if idx := strings.IndexAny(hop, "~="); idx >= 0 {
			fingerprint, nickname = hop[:idx], hop[idx+1:]
		}
		nodes = append(nodes, Node{Fingerprint: fingerprint, Nickname: nickname})
	}
	return nodes
}
