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
	"sync"
)

// Signal is a synchronous publish/subscribe channel.  Subscribers are
// called in the order they subscribed, on the goroutine that publishes,
// and Publish does not return until every subscriber has returned.
//
// Subscribers may unsubscribe (themselves or others) from within a
// callback; that takes effect on the next Publish.
type Signal[T any] struct {
	subs []subscription[T]
	next int
	lock sync.Mutex
}

type subscription[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn, and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (s *Signal[T]) Subscribe(fn func(T)) func() {
	s.lock.Lock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscription[T]{id: id, fn: fn})
	s.lock.Unlock()
	return func() {
		s.unsubscribe(id)
	}
}

func (s *Signal[T]) unsubscribe(id int) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every current subscriber.
func (s *Signal[T]) Publish(v T) {
	s.lock.Lock()
	subs := s.subs
	s.lock.Unlock()
	for _, sub := range subs {
		sub.fn(v)
	}
}

// Len returns the number of subscribers.
func (s *Signal[T]) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.subs)
}
