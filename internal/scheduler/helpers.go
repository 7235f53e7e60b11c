package scheduler

import (
	"encoding/json"
	"errors"
)

func asImpl(err error, target any) bool {
	return errors.As(err, target)
}

func jsonMarshalIndent(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
