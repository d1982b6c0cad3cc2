package queue

import (
	"errors"
	"io"
	"log/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func asQueueError(err error, target **Error) bool {
	return errors.As(err, target)
}
