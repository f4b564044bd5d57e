package protocol

// AgentStatus represents whether an agent is available for assignment.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentInactive AgentStatus = "inactive"
)

// Agent is a human or AI-backed operator that chats can be assigned to.
// The directory is owned by the persistence layer; this core reads it only.
type Agent struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Role        string      `json:"role"`
	Department  string      `json:"department,omitempty"`
	Status      AgentStatus `json:"status"`
}

// Available reports whether the agent can receive new assignments.
func (a Agent) Available() bool {
	return a.Status == AgentActive
}
