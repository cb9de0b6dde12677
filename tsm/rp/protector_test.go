package rp

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestProtector(t *testing.T) {
	Convey("Given a Protector allowing 2 concurrent tokens", t, func() {
		p := New("test-resource", 0, 2, time.Second)

		Convey("a Request within the limit is granted promptly", func() {
			receipt, err := p.Request(1)
			So(err, ShouldBeNil)
			So(receipt, ShouldNotEqual, Receipt(""))

			granted := p.WaitUntilGranted(receipt)
			So(granted, ShouldBeTrue)

			p.Release(receipt)
		})

		Convey("a Request over the maximum is rejected immediately", func() {
			_, err := p.Request(3)
			So(err, ShouldNotBeNil)

			rpErr, ok := err.(Error)
			So(ok, ShouldBeTrue)
			So(rpErr.Err, ShouldEqual, ErrOverMaximumTokens)
		})

		Convey("two requests within the limit can both be granted concurrently", func() {
			r1, err := p.Request(1)
			So(err, ShouldBeNil)
			r2, err := p.Request(1)
			So(err, ShouldBeNil)

			So(p.WaitUntilGranted(r1), ShouldBeTrue)
			So(p.WaitUntilGranted(r2), ShouldBeTrue)

			p.Release(r1)
			p.Release(r2)
		})

		Convey("a third request waits until a token is released", func() {
			r1, _ := p.Request(1)
			r2, _ := p.Request(1)
			So(p.WaitUntilGranted(r1), ShouldBeTrue)
			So(p.WaitUntilGranted(r2), ShouldBeTrue)

			r3, _ := p.Request(1)

			done := make(chan bool, 1)
			go func() {
				done <- p.WaitUntilGranted(r3)
			}()

			select {
			case <-done:
				t.Fatal("r3 should not have been granted before a release")
			case <-time.After(100 * time.Millisecond):
			}

			p.Release(r1)

			select {
			case granted := <-done:
				So(granted, ShouldBeTrue)
			case <-time.After(2 * time.Second):
				t.Fatal("r3 was never granted after r1's release")
			}

			p.Release(r2)
			p.Release(r3)
		})

		Convey("WaitUntilGranted on an unknown receipt returns false", func() {
			So(p.WaitUntilGranted(Receipt("bogus")), ShouldBeFalse)
		})

		Convey("Touch and Release on an unknown receipt are no-ops", func() {
			So(func() { p.Touch(Receipt("bogus")) }, ShouldNotPanic)
			So(func() { p.Release(Receipt("bogus")) }, ShouldNotPanic)
		})
	})
}

func TestProtectorAvailabilityCallback(t *testing.T) {
	Convey("Given a Protector with an availability callback reporting zero", t, func() {
		p := New("test-resource", 10*time.Millisecond, 5, time.Second)
		available := 0
		p.SetAvailabilityCallback(func() int { return available })

		Convey("a request waits until the callback reports availability", func() {
			receipt, err := p.Request(1)
			So(err, ShouldBeNil)

			done := make(chan bool, 1)
			go func() { done <- p.WaitUntilGranted(receipt) }()

			select {
			case <-done:
				t.Fatal("should not be granted while availability is 0")
			case <-time.After(50 * time.Millisecond):
			}

			available = 1
			select {
			case granted := <-done:
				So(granted, ShouldBeTrue)
			case <-time.After(2 * time.Second):
				t.Fatal("never granted once availability turned positive")
			}

			p.Release(receipt)
		})
	})
}
