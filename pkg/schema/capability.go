package schema

// CapabilityType names a kind of executor requirement.
type CapabilityType string

const (
	CapabilityHTTP   CapabilityType = "HTTP"
	CapabilityBinary CapabilityType = "BINARY"
	CapabilitySocket CapabilityType = "SOCKET"
	CapabilityEnv    CapabilityType = "ENV"
)

// Capability is a typed precondition an executor must satisfy to run a task.
// Capabilities are evaluated on demand and never persisted.
type Capability struct {
	Type       CapabilityType    `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Param returns a parameter value or "".
func (c Capability) Param(key string) string {
	if c.Parameters == nil {
		return ""
	}
	return c.Parameters[key]
}
