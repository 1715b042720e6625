package promise

// Combinators are package functions because methods cannot introduce type
// parameters. Every derived promise forwards aborted and canceled outcomes
// untouched, and failures too unless the combinator intercepts them.

// Then runs f with the value of p once it succeeds. An error from f fails the
// derived promise.
func Then[T, U any](p *Promise[T], f func(T) (U, error)) *Promise[U] {
	return derive(p, func(v T, next *Promise[U]) {
		u, err := f(v)
		if err != nil {
			next.Fail(err)
			return
		}
		next.Keep(u)
	}, nil)
}

// Map is Then for transformations that cannot fail.
func Map[T, U any](p *Promise[T], f func(T) U) *Promise[U] {
	return derive(p, func(v T, next *Promise[U]) {
		next.Keep(f(v))
	}, nil)
}

// Next continues with the promise returned by f.
func Next[T, U any](p *Promise[T], f func(T) *Promise[U]) *Promise[U] {
	return derive(p, func(v T, next *Promise[U]) {
		next.Adopt(f(v))
	}, nil)
}

// Recover gives f a chance to resolve a replacement when p fails. f receives
// the failure and the pending derived promise, which it must resolve (directly
// or through Adopt). Success, abort and cancellation are forwarded.
func Recover[T any](p *Promise[T], f func(err error, next *Promise[T])) *Promise[T] {
	return derive(p, func(v T, next *Promise[T]) {
		next.Keep(v)
	}, f)
}

// Catch observes a failure of p and forwards it unchanged.
func Catch[T any](p *Promise[T], f func(error)) *Promise[T] {
	return derive(p, func(v T, next *Promise[T]) {
		next.Keep(v)
	}, func(err error, next *Promise[T]) {
		f(err)
		next.Fail(err)
	})
}

// Finally runs f after p reaches any terminal state and forwards the outcome.
func Finally[T any](p *Promise[T], f func()) *Promise[T] {
	next := New(func(next *Promise[T]) {
		p.whenDone(func() {
			state, v, err := p.snapshot()
			defer func() { next.resolve(state, v, err) }()
			defer func() {
				if r := recover(); r != nil {
					state, err = Failed, panicError(r)
				}
			}()
			f()
		})
		p.start()
	})
	next.OnCancel(func() { p.Cancel() })
	return next
}

// derive wires a lazy child to parent. Starting the child starts the parent
// and cancelling the child cancels the parent.
func derive[T, U any](parent *Promise[T], onValue func(T, *Promise[U]), onErr func(error, *Promise[U])) *Promise[U] {
	child := New(func(child *Promise[U]) {
		parent.whenDone(func() {
			state, v, err := parent.snapshot()
			defer func() {
				if r := recover(); r != nil {
					child.Fail(panicError(r))
				}
			}()
			switch state {
			case Succeeded:
				onValue(v, child)
			case Failed:
				if onErr != nil {
					onErr(err, child)
					return
				}
				child.Fail(err)
			case Aborted:
				child.Abort()
			case Canceled:
				child.Cancel()
			}
		})
		parent.start()
	})
	child.OnCancel(func() { parent.Cancel() })
	return child
}
