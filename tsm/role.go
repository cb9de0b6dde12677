package tsm

// Role is one kind of worker within an Application: an entrypoint, its
// arguments and environment, the container it runs in, and how many
// replicas of it to run.
type Role struct {
	Name         string
	Entrypoint   string
	Args         []string
	Env          map[string]string
	Container    *Container
	NumReplicas  int
}

// NewRole starts building a role with the given name. NumReplicas defaults
// to 1, matching the source's default.
func NewRole(name string) *Role {
	return &Role{Name: name, Env: map[string]string{}, NumReplicas: 1}
}

// Runs sets the entrypoint, positional args and environment in one call,
// and returns the role for chaining.
func (r *Role) Runs(entrypoint string, args []string, env map[string]string) *Role {
	r.Entrypoint = entrypoint
	r.Args = args
	if env == nil {
		env = map[string]string{}
	}
	r.Env = env
	return r
}

// On attaches a container and returns the role for chaining.
func (r *Role) On(c *Container) *Role {
	r.Container = c
	return r
}

// Replicas sets the replica count and returns the role for chaining.
func (r *Role) Replicas(n int) *Role {
	r.NumReplicas = n
	return r
}

// validate checks the invariants §4.8 requires of every role at
// submission time, returning a ValueError describing the first problem
// found, or nil if there is none.
func (r *Role) validate() *ValueError {
	switch {
	case r.Entrypoint == "":
		return &ValueError{Op: "role " + r.Name, Reason: "entrypoint not set"}
	case r.Container == nil:
		return &ValueError{Op: "role " + r.Name, Reason: "container not set"}
	case r.Container.Resources == nil:
		return &ValueError{Op: "role " + r.Name, Reason: "container resources not set"}
	case r.NumReplicas < 1:
		return &ValueError{Op: "role " + r.Name, Reason: "num_replicas must be >= 1"}
	}
	return nil
}
