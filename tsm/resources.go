package tsm

// Resources describes the compute a role's container requires to run:
// CPU count, GPU count, memory in MB, and an open-ended bag of
// backend-specific capabilities (eg. "nvidia.com/gpu-type": "v100").
type Resources struct {
	CPU          int
	GPU          int
	MemMB        int
	Capabilities map[string]interface{}
}

// NewResources builds a Resources, defaulting Capabilities to an empty map
// when the caller passes nil.
func NewResources(cpu, gpu, memMB int, capabilities map[string]interface{}) Resources {
	if capabilities == nil {
		capabilities = map[string]interface{}{}
	}
	return Resources{CPU: cpu, GPU: gpu, MemMB: memMB, Capabilities: capabilities}
}

// Copy returns a new Resources with the same cpu/gpu/memMB and a
// capabilities map that is the union of r's capabilities and overrides,
// with overrides winning on key collision. r itself (and its capabilities
// map) is left untouched.
func (r Resources) Copy(overrides map[string]interface{}) Resources {
	merged := make(map[string]interface{}, len(r.Capabilities)+len(overrides))
	for k, v := range r.Capabilities {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return Resources{CPU: r.CPU, GPU: r.GPU, MemMB: r.MemMB, Capabilities: merged}
}
