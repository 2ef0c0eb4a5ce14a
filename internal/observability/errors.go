package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors drops nil entries, logs whatever remains as a single entry,
// and returns the survivors joined under the operation name. Returns nil when
// nothing failed.
func AggregateErrors(operation string, errs ...error) error {
	failed := make([]error, 0, len(errs))
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		failed = append(failed, err)
		messages = append(messages, err.Error())
	}
	if len(failed) == 0 {
		return nil
	}
	Log().Error("operation failed",
		Field{Key: "operation", Value: operation},
		Field{Key: "errors", Value: messages})
	return fmt.Errorf("%s: %w", operation, errors.Join(failed...))
}
