package tsm

// Container describes where and how a role executes: an image reference,
// its resource demands, and a map of named ports it exposes.
type Container struct {
	Image     string
	Resources *Resources
	PortMap   map[string]int
}

// NewContainer builds a Container for the given image.
func NewContainer(image string) *Container {
	return &Container{Image: image, PortMap: map[string]int{}}
}

// Ports merges the given port mappings into the container and returns it,
// for chaining.
func (c *Container) Ports(ports map[string]int) *Container {
	if c.PortMap == nil {
		c.PortMap = map[string]int{}
	}
	for name, port := range ports {
		c.PortMap[name] = port
	}
	return c
}

// Require attaches the resource demands a role running this container
// needs, and returns the container for chaining.
func (c *Container) Require(r Resources) *Container {
	c.Resources = &r
	return c
}
