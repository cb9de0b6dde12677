package tsm

import "testing"

func TestApplicationValidateNoRoles(t *testing.T) {
	app := NewApplication("empty")
	err := app.Validate()
	if err == nil {
		t.Fatal("expected an error for an application with no roles")
	}
	ve, ok := err.(*ValueError)
	if !ok {
		t.Fatalf("expected *ValueError, got %T", err)
	}
	if ve.Reason != "must have at least one role" {
		t.Fatalf("unexpected reason: %s", ve.Reason)
	}
}

func TestApplicationValidatePropagatesFirstBadRole(t *testing.T) {
	good := NewRole("good").Runs("/bin/echo", nil, nil).On(validContainer())
	bad := NewRole("bad").On(validContainer())

	app := NewApplication("mixed").Of(good, bad)
	err := app.Validate()
	if err == nil {
		t.Fatal("expected an error, the second role has no entrypoint")
	}
	ve := err.(*ValueError)
	if ve.Reason != "entrypoint not set" {
		t.Fatalf("unexpected reason: %s", ve.Reason)
	}
}

func TestApplicationValidateOK(t *testing.T) {
	app := NewApplication("trainer_app").Of(
		NewRole("trainer").Runs("/bin/echo", nil, nil).On(validContainer()).Replicas(2),
	)
	if err := app.Validate(); err != nil {
		t.Fatalf("expected a valid application, got %v", err)
	}
}

func TestApplicationOfPreservesOrder(t *testing.T) {
	r1 := NewRole("first")
	r2 := NewRole("second")
	app := NewApplication("app").Of(r1).Of(r2)

	if len(app.Roles) != 2 || app.Roles[0] != r1 || app.Roles[1] != r2 {
		t.Fatalf("expected roles in call order, got %+v", app.Roles)
	}
}
