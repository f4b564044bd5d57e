package assign

import (
	"fmt"
	"sort"

	"github.com/PastorStudio/geminiaicrm-sub003/internal/store"
)

// Workloads returns active-chat counts per agent, restricted to agents whose
// directory status is active. Agents with no active chats appear with a zero
// count so auto-assignment can pick them.
func Workloads(assignments store.AssignmentStore, dir store.AgentDirectory) (map[string]int, error) {
	agents, err := dir.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("assign: workloads: %w", err)
	}
	counts, err := assignments.ActiveCounts()
	if err != nil {
		return nil, fmt.Errorf("assign: workloads: %w", err)
	}

	out := make(map[string]int)
	for _, a := range agents {
		if !a.Available() {
			continue
		}
		out[a.ID] = counts[a.ID]
	}
	return out, nil
}

// leastLoaded selects the agent with the minimum active-chat count. Ties are
// broken by ascending agent ID so selection is deterministic. Returns ""
// when the snapshot is empty.
func leastLoaded(workloads map[string]int) string {
	ids := make([]string, 0, len(workloads))
	for id := range workloads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	best := ""
	for _, id := range ids {
		if best == "" || workloads[id] < workloads[best] {
			best = id
		}
	}
	return best
}
