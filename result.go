package todo

// Result is the uniform envelope returned by every API client call.
// Exactly one of Data and Error is authoritative: OK reports which.
type Result[T any] struct {
	Data   T
	Error  string
	Status int

	err error
}

// Success builds a successful result.
func Success[T any](data T, status int) Result[T] {
	return Result[T]{Data: data, Status: status}
}

// Failure builds a failed result carrying err. The zero status means no
// response was received.
func Failure[T any](err error, status int) Result[T] {
	return Result[T]{Error: MessageOf(err), Status: status, err: err}
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.err == nil }

// Err returns the typed error of a failed result, or nil.
func (r Result[T]) Err() error { return r.err }

// Unwrap returns the payload and the typed error in Go's usual shape.
func (r Result[T]) Unwrap() (T, error) {
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return r.Data, nil
}
