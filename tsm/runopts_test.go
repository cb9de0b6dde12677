package tsm

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRunOptsResolve(t *testing.T) {
	Convey("Given a registry with a required, a defaulted, and a plain option", t, func() {
		opts := NewRunOpts()
		So(opts.Add("image", StringKind, "container image", nil, true), ShouldBeNil)
		So(opts.Add("timeout_s", IntKind, "submit timeout", func() *Value { v := IntValue(30); return &v }(), false), ShouldBeNil)
		So(opts.Add("verbose", BoolKind, "verbose logging", nil, false), ShouldBeNil)

		Convey("resolving a config missing the required option fails", func() {
			cfg := NewRunConfig()
			_, err := opts.Resolve(cfg)
			So(err, ShouldNotBeNil)
			_, ok := err.(*InvalidRunConfigError)
			So(ok, ShouldBeTrue)
		})

		Convey("resolving a config with the required option fills in the default for the rest", func() {
			cfg := NewRunConfig()
			cfg.Set("image", StringValue("my/image"))

			resolved, err := opts.Resolve(cfg)
			So(err, ShouldBeNil)

			v, ok := resolved.Get("timeout_s")
			So(ok, ShouldBeTrue)
			So(v.I, ShouldEqual, 30)

			Convey("and the original config is left untouched", func() {
				_, present := cfg.Get("timeout_s")
				So(present, ShouldBeFalse)
			})
		})

		Convey("a type mismatch on a registered option fails", func() {
			cfg := NewRunConfig()
			cfg.Set("image", StringValue("my/image"))
			cfg.Set("verbose", IntValue(1))

			_, err := opts.Resolve(cfg)
			So(err, ShouldNotBeNil)
		})

		Convey("an unregistered key passes through unchanged", func() {
			cfg := NewRunConfig()
			cfg.Set("image", StringValue("my/image"))
			cfg.Set("backend_specific_flag", StringValue("xyz"))

			resolved, err := opts.Resolve(cfg)
			So(err, ShouldBeNil)

			v, ok := resolved.Get("backend_specific_flag")
			So(ok, ShouldBeTrue)
			So(v.S, ShouldEqual, "xyz")
		})
	})

	Convey("Add refuses a required option with a default", t, func() {
		opts := NewRunOpts()
		v := IntValue(1)
		err := opts.Add("x", IntKind, "", &v, true)
		So(err, ShouldNotBeNil)
	})

	Convey("Add refuses a default whose type disagrees with the declared kind", t, func() {
		opts := NewRunOpts()
		v := StringValue("oops")
		err := opts.Add("x", IntKind, "", &v, false)
		So(err, ShouldNotBeNil)
		_, ok := err.(*TypeError)
		So(ok, ShouldBeTrue)
	})
}

func TestRunConfigCloneAndEqual(t *testing.T) {
	Convey("Given a populated RunConfig", t, func() {
		cfg := NewRunConfig()
		cfg.Set("a", IntValue(1))
		cfg.Set("b", StringValue("x"))

		Convey("Clone produces an equal but independent copy", func() {
			clone := cfg.Clone()
			So(clone.Equal(cfg), ShouldBeTrue)

			clone.Set("a", IntValue(2))
			So(clone.Equal(cfg), ShouldBeFalse)

			v, _ := cfg.Get("a")
			So(v.I, ShouldEqual, 1)
		})

		Convey("Delete removes the key", func() {
			cfg.Delete("a")
			_, present := cfg.Get("a")
			So(present, ShouldBeFalse)
			So(cfg.Keys(), ShouldResemble, []string{"b"})
		})
	})
}
