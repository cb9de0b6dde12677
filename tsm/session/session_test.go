package session

import (
	"regexp"
	"testing"
	"time"

	"github.com/inconshreveable/log15"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/torchdeploy/tsm"
	"github.com/torchdeploy/tsm/scheduler"
)

// fakeBackend is a minimal in-memory scheduler.Backend double for exercising
// Session's dispatch and handle-resolution logic without a real scheduler.
type fakeBackend struct {
	apps     map[string]*tsm.DescribeAppResponse
	nextID   int
	submitFn func(app *tsm.Application) error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{apps: map[string]*tsm.DescribeAppResponse{}}
}

func (f *fakeBackend) RunOpts() *tsm.RunOpts { return tsm.NewRunOpts() }

func (f *fakeBackend) Submit(app *tsm.Application, cfg *tsm.RunConfig) (string, error) {
	if f.submitFn != nil {
		if err := f.submitFn(app); err != nil {
			return "", err
		}
	}
	f.nextID++
	id := app.Name + "_" + string(rune('0'+f.nextID))
	f.apps[id] = &tsm.DescribeAppResponse{AppID: id, State: tsm.Running}
	return id, nil
}

func (f *fakeBackend) SubmitDryRun(app *tsm.Application, cfg *tsm.RunConfig) (tsm.AppDryRunInfo, error) {
	return tsm.AppDryRunInfo{Request: app.Name}, nil
}

func (f *fakeBackend) Describe(appID string) (*tsm.DescribeAppResponse, error) {
	return f.apps[appID], nil
}

func (f *fakeBackend) Cancel(appID string) error {
	if desc, ok := f.apps[appID]; ok {
		desc.State = tsm.Cancelled
	}
	return nil
}

func (f *fakeBackend) Exists(appID string) bool {
	_, ok := f.apps[appID]
	return ok
}

func (f *fakeBackend) Wait(appID string) (*tsm.AppStatus, error) {
	desc, ok := f.apps[appID]
	if !ok {
		return nil, nil
	}
	return &tsm.AppStatus{State: desc.State, Roles: desc.Roles}, nil
}

func (f *fakeBackend) LogIter(appID, roleName string, k int, regex *regexp.Regexp, since, until *time.Time) (scheduler.LineIterator, error) {
	return &fakeLineIterator{lines: []string{"line one", "line two"}}, nil
}

type fakeLineIterator struct {
	lines []string
	i     int
}

func (it *fakeLineIterator) Next() (string, bool) {
	if it.i >= len(it.lines) {
		return "", false
	}
	line := it.lines[it.i]
	it.i++
	return line, true
}

func (it *fakeLineIterator) Close() error { return nil }

func validApp() *tsm.Application {
	container := tsm.NewContainer("/abs/image").Require(tsm.NewResources(1, 0, 256, nil))
	role := tsm.NewRole("worker").Runs("/bin/echo", nil, nil).On(container)
	return tsm.NewApplication("myapp").Of(role)
}

func TestSessionRunAndInspect(t *testing.T) {
	Convey("Given a session with one fake backend", t, func() {
		backend := newFakeBackend()
		sess, err := New("mysession", map[string]scheduler.Backend{"local": backend}, log15.New())
		So(err, ShouldBeNil)

		Convey("Run rejects an invalid application before ever reaching the backend", func() {
			_, err := sess.Run(tsm.NewApplication("empty"), nil, "")
			So(err, ShouldNotBeNil)
		})

		Convey("Run dispatches to the default backend and returns a resolvable handle", func() {
			handle, err := sess.Run(validApp(), nil, "")
			So(err, ShouldBeNil)
			So(string(handle), ShouldStartWith, "local://mysession/")

			Convey("Status reflects the backend's state", func() {
				status, err := sess.Status(handle)
				So(err, ShouldBeNil)
				So(status.State, ShouldEqual, tsm.Running)
			})

			Convey("Stop cancels the app", func() {
				err := sess.Stop(handle)
				So(err, ShouldBeNil)

				status, err := sess.Status(handle)
				So(err, ShouldBeNil)
				So(status.State, ShouldEqual, tsm.Cancelled)
			})

			Convey("Wait returns the already-terminal status without blocking when cancelled first", func() {
				So(sess.Stop(handle), ShouldBeNil)
				status, err := sess.Wait(handle)
				So(err, ShouldBeNil)
				So(status.State, ShouldEqual, tsm.Cancelled)
			})

			Convey("LogLines proxies to the backend's LogIter", func() {
				it, err := sess.LogLines(handle, "worker", 0, nil, nil, nil)
				So(err, ShouldBeNil)
				line, ok := it.Next()
				So(ok, ShouldBeTrue)
				So(line, ShouldEqual, "line one")
			})

			Convey("the handle appears in List", func() {
				handles := sess.List()
				So(len(handles), ShouldEqual, 1)
				So(handles[0], ShouldEqual, handle)
			})
		})

		Convey("Run against an unknown backend name fails", func() {
			_, err := sess.Run(validApp(), nil, "kubernetes")
			So(err, ShouldNotBeNil)
		})

		Convey("DryRun does not register a handle", func() {
			_, err := sess.DryRun(validApp(), nil, "")
			So(err, ShouldBeNil)
			So(len(sess.List()), ShouldEqual, 0)
		})

		Convey("a handle from a different session is rejected", func() {
			foreign := tsm.MakeAppHandle("local", "othersession", "app_1")
			_, err := sess.Status(foreign)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestSessionNewValidation(t *testing.T) {
	Convey("New rejects an empty session name", t, func() {
		_, err := New("", map[string]scheduler.Backend{"local": newFakeBackend()}, nil)
		So(err, ShouldNotBeNil)
	})

	Convey("New rejects an empty backend map", t, func() {
		_, err := New("s", map[string]scheduler.Backend{}, nil)
		So(err, ShouldNotBeNil)
	})

	Convey("New defaults the logger when nil", t, func() {
		sess, err := New("s", map[string]scheduler.Backend{"local": newFakeBackend()}, nil)
		So(err, ShouldBeNil)
		So(sess, ShouldNotBeNil)
	})
}
