package errors_test

import (
	"fmt"
	"io"

	stderrors "errors"

	"github.com/ajitpratap0/tabular/pkg/errors"
)

// Example demonstrates creating an error with table context.
func Example() {
	err := errors.New(errors.ErrorTypeOutOfRange, "start beyond row count").
		WithTable("events.cstore:/run1").
		WithRange(120, 200, 1)

	fmt.Println(err.Error())

	// Output:
	// out_of_range: start beyond row count [start=120 step=1 stop=200 table=events.cstore:/run1]
}

// ExampleWrap shows how backend failures keep their cause.
func ExampleWrap() {
	err := errors.BackendIO(io.ErrUnexpectedEOF, "read chunk").
		WithDetail("chunk", 7)

	if errors.IsType(err, errors.ErrorTypeBackendIO) {
		fmt.Println("backend failure")
	}
	if stderrors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause preserved")
	}

	// Output:
	// backend failure
	// cause preserved
}

// ExampleBackendIO shows that typed causes keep their kind.
func ExampleBackendIO() {
	closed := errors.New(errors.ErrorTypeClosed, "table is closed")
	err := errors.BackendIO(closed, "append")

	fmt.Println(errors.GetType(err))

	// Output:
	// closed
}
