// Copyright 2026 The Lunch Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lunch

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSignal(t *testing.T) {
	Convey("Given a signal", t, func() {
		var s Signal[int]
		var a, b []int
		ua := s.Subscribe(func(v int) { a = append(a, v) })
		s.Subscribe(func(v int) { b = append(b, v) })
		So(s.Len(), ShouldEqual, 2)

		Convey("Every subscriber sees every value in order", func() {
			s.Publish(1)
			s.Publish(2)
			So(a, ShouldResemble, []int{1, 2})
			So(b, ShouldResemble, []int{1, 2})
		})

		Convey("Unsubscribed functions are no longer called", func() {
			s.Publish(1)
			ua()
			So(s.Len(), ShouldEqual, 1)
			s.Publish(2)
			So(a, ShouldResemble, []int{1})
			So(b, ShouldResemble, []int{1, 2})

			Convey("And unsubscribing twice is harmless", func() {
				ua()
				So(s.Len(), ShouldEqual, 1)
			})
		})

		Convey("Subscribers may unsubscribe while being called", func() {
			var uc func()
			calls := 0
			uc = s.Subscribe(func(int) {
				calls++
				uc()
			})
			s.Publish(1)
			s.Publish(2)
			So(calls, ShouldEqual, 1)
			So(b, ShouldResemble, []int{1, 2})
		})
	})
}
