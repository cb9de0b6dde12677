package tsm

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/torchdeploy/tsm/macro"
)

func TestElasticRoleBuilder(t *testing.T) {
	Convey("Given an ElasticRole with all launch flags set", t, func() {
		container := NewContainer("test_image").Ports(map[string]int{"foo": 8080})
		trainer := NewElasticRole("elastic_trainer", map[string]interface{}{
			"nnodes":       "2:4",
			"max_restarts": 3,
			"no_python":    true,
		}).Runs("/bin/echo", []string{"hello", "world"}, map[string]string{"ENV_VAR_1": "FOOBAR"}).
			On(container).
			Replicas(2)

		Convey("it renders python -m launcher with flags in canonical order", func() {
			So(trainer.Name, ShouldEqual, "elastic_trainer")
			So(trainer.Entrypoint, ShouldEqual, "python")
			So(trainer.Args, ShouldResemble, []string{
				"-m", "torchelastic.distributed.launch",
				"--nnodes", "2:4",
				"--max_restarts", "3",
				"--no_python",
				"--rdzv_backend", "etcd",
				"--rdzv_id", macro.AppID,
				"--role", "elastic_trainer",
				"/bin/echo", "hello", "world",
			})
			So(trainer.Env, ShouldResemble, map[string]string{"ENV_VAR_1": "FOOBAR"})
			So(trainer.Container, ShouldEqual, container)
			So(trainer.NumReplicas, ShouldEqual, 2)
		})
	})

	Convey("Given overridden rdzv params", t, func() {
		role := NewElasticRole("test_role", map[string]interface{}{
			"nnodes":       "2:4",
			"rdzv_backend": "zeus",
			"rdzv_id":      "foobar",
		}).Runs("user_script.py", []string{"--script_arg", "foo"}, nil)

		Convey("overrides replace the defaults, canonical order is preserved", func() {
			So(role.Args, ShouldResemble, []string{
				"-m", "torchelastic.distributed.launch",
				"--nnodes", "2:4",
				"--rdzv_backend", "zeus",
				"--rdzv_id", "foobar",
				"--role", "test_role",
				macro.ImgRoot + "/user_script.py",
				"--script_arg", "foo",
			})
		})
	})

	Convey("Given a script already rooted at img_root", t, func() {
		role := NewElasticRole("test_role", map[string]interface{}{"no_python": false}).
			Runs(macro.ImgRoot+"/user_script.py", nil, nil)

		Convey("the script is not re-prefixed", func() {
			So(role.Args[len(role.Args)-1], ShouldEqual, macro.ImgRoot+"/user_script.py")
		})
	})
}
