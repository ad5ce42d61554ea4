package loop

// Listeners is an ordered set of callbacks. Not safe for use off the loop.
type Listeners[T any] struct {
	next  int
	ids   []int
	funcs map[int]func(T)
}

// Add registers f and returns a func that removes it.
func (l *Listeners[T]) Add(f func(T)) (remove func()) {
	if l.funcs == nil {
		l.funcs = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.ids = append(l.ids, id)
	l.funcs[id] = f
	return func() {
		if _, ok := l.funcs[id]; !ok {
			return
		}
		delete(l.funcs, id)
		for i, v := range l.ids {
			if v == id {
				l.ids = append(l.ids[:i], l.ids[i+1:]...)
				break
			}
		}
	}
}

// Emit calls every listener in registration order.
func (l *Listeners[T]) Emit(v T) {
	// copy so listeners may unsubscribe while being called
	ids := append([]int(nil), l.ids...)
	for _, id := range ids {
		if f, ok := l.funcs[id]; ok {
			f(v)
		}
	}
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	return len(l.ids)
}
