package batch

import (
	"context"
	"encoding/json"
	"fmt"
)

// Item statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is the outcome for one id.
type Result[T any] struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Value  T      `json:"value,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Summary aggregates the results of a batch. Attempted always equals
// Succeeded + Failed.
type Summary[T any] struct {
	Attempted int         `json:"attempted"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []Result[T] `json:"results"`
}

// Incomplete reports whether any item failed.
func (s Summary[T]) Incomplete() bool {
	return s.Failed > 0
}

// Add records one result.
func (s *Summary[T]) Add(r Result[T]) {
	s.Attempted++
	if r.Status == StatusSuccess {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Process runs fn on each id in order. A failing item is recorded and the
// remaining items still run. Once ctx is done the remaining items are
// recorded as failed without calling fn.
func Process[T any](ctx context.Context, ids []string, fn func(ctx context.Context, id string) (T, error)) Summary[T] {
	s := Summary[T]{Results: make([]Result[T], 0, len(ids))}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.Add(NewErrorResult[T](id, err))
			continue
		}
		v, err := fn(ctx, id)
		if err != nil {
			s.Add(NewErrorResult[T](id, err))
			continue
		}
		s.Add(NewSuccessResult(id, v))
	}
	return s
}

// NewSuccessResult creates a success result.
func NewSuccessResult[T any](id string, v T) Result[T] {
	return Result[T]{ID: id, Status: StatusSuccess, Value: v}
}

// NewErrorResult creates an error result.
func NewErrorResult[T any](id string, err error) Result[T] {
	return Result[T]{ID: id, Status: StatusError, Error: err.Error()}
}

// IDs is the messageIds parameter: a JSON string or an array of strings.
// Empty entries are rejected.
type IDs []string

func (ids *IDs) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStringOrArray(raw, "messageIds")
	if err != nil {
		return err
	}
	*ids = parsed
	return nil
}

// ParseStringOrArray parses a parameter that can be either a single string or
// an array of strings.
func ParseStringOrArray(param any, paramName string) ([]string, error) {
	if param == nil {
		return nil, fmt.Errorf("%s is required", paramName)
	}

	var result []string
	switch v := param.(type) {
	case string:
		if v == "" {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		result = []string{v}
	case []any:
		if len(v) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", paramName)
		}
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] must be a string", paramName, i)
			}
			if str == "" {
				return nil, fmt.Errorf("%s[%d] cannot be empty", paramName, i)
			}
			result = append(result, str)
		}
	default:
		return nil, fmt.Errorf("%s must be a string or array of strings", paramName)
	}
	return result, nil
}
