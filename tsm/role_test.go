package tsm

import "testing"

func validContainer() *Container {
	return NewContainer("my/image").Require(NewResources(1, 0, 512, nil))
}

func TestRoleValidate(t *testing.T) {
	cases := []struct {
		name    string
		build   func() *Role
		wantErr string
	}{
		{
			name: "missing entrypoint",
			build: func() *Role {
				return NewRole("r").On(validContainer())
			},
			wantErr: "entrypoint not set",
		},
		{
			name: "missing container",
			build: func() *Role {
				return NewRole("r").Runs("/bin/echo", nil, nil)
			},
			wantErr: "container not set",
		},
		{
			name: "missing resources",
			build: func() *Role {
				return NewRole("r").Runs("/bin/echo", nil, nil).On(NewContainer("my/image"))
			},
			wantErr: "container resources not set",
		},
		{
			name: "zero replicas",
			build: func() *Role {
				return NewRole("r").Runs("/bin/echo", nil, nil).On(validContainer()).Replicas(0)
			},
			wantErr: "num_replicas must be >= 1",
		},
		{
			name: "negative replicas",
			build: func() *Role {
				return NewRole("r").Runs("/bin/echo", nil, nil).On(validContainer()).Replicas(-1)
			},
			wantErr: "num_replicas must be >= 1",
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := c.build().validate()
			if err == nil {
				t.Fatalf("expected error %q, got nil", c.wantErr)
			}
			if err.Reason != c.wantErr {
				t.Fatalf("expected reason %q, got %q", c.wantErr, err.Reason)
			}
		})
	}
}

func TestRoleValidateOK(t *testing.T) {
	r := NewRole("trainer").Runs("/bin/echo", []string{"hi"}, nil).On(validContainer()).Replicas(3)
	if err := r.validate(); err != nil {
		t.Fatalf("expected a valid role, got %v", err)
	}
	if r.NumReplicas != 3 {
		t.Fatalf("expected 3 replicas, got %d", r.NumReplicas)
	}
}

func TestNewRoleDefaults(t *testing.T) {
	r := NewRole("trainer")
	if r.NumReplicas != 1 {
		t.Fatalf("expected default NumReplicas 1, got %d", r.NumReplicas)
	}
	if r.Env == nil {
		t.Fatalf("expected a non-nil Env map")
	}
}
