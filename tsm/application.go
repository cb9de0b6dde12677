package tsm

// Application is a named bundle of roles submitted as one unit.
type Application struct {
	Name  string
	Roles []*Role
}

// NewApplication starts building an application with the given name.
func NewApplication(name string) *Application {
	return &Application{Name: name}
}

// Of appends roles to the application, preserving call order, and returns
// the application for chaining.
func (a *Application) Of(roles ...*Role) *Application {
	a.Roles = append(a.Roles, roles...)
	return a
}

// Validate checks the invariants of §4.8: at least one role, and every
// role individually valid (container + resources + entrypoint + replicas).
// Called by tsm/session before an Application reaches a scheduler backend.
func (a *Application) Validate() error {
	if len(a.Roles) == 0 {
		return &ValueError{Op: "application " + a.Name, Reason: "must have at least one role"}
	}
	for _, r := range a.Roles {
		if err := r.validate(); err != nil {
			return err
		}
	}
	return nil
}
