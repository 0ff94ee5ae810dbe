package domain

// Result is the envelope returned by every query and mutation that crosses the
// service boundary: either Data on success or Error on failure, never both.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Ok wraps a successful value.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Result[T]{Success: false, Error: msg}
}

// ResultOf builds a Result from a value/error pair.
func ResultOf[T any](data T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(data)
}
