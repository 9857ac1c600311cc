package batch

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
)

func TestParseStringOrArray(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    []string
		wantErr bool
	}{
		{name: "single string", input: "m1", want: []string{"m1"}},
		{name: "array of strings", input: []any{"m1", "m2", "m3"}, want: []string{"m1", "m2", "m3"}},
		{name: "nil input", input: nil, wantErr: true},
		{name: "empty string", input: "", wantErr: true},
		{name: "empty array", input: []any{}, wantErr: true},
		{name: "array with non-string", input: []any{"m1", 2.0}, wantErr: true},
		{name: "array with empty string", input: []any{"m1", ""}, wantErr: true},
		{name: "number", input: 12.0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStringOrArray(tt.input, "messageIds")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseStringOrArray() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ParseStringOrArray() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIDs_UnmarshalJSON(t *testing.T) {
	var in struct {
		MessageIDs IDs `json:"messageIds"`
	}
	if err := json.Unmarshal([]byte(`{"messageIds":"m1"}`), &in); err != nil {
		t.Fatalf("single id: %v", err)
	}
	if !slices.Equal(in.MessageIDs, []string{"m1"}) {
		t.Errorf("MessageIDs = %v, want [m1]", in.MessageIDs)
	}

	if err := json.Unmarshal([]byte(`{"messageIds":["m1","m2"]}`), &in); err != nil {
		t.Fatalf("array: %v", err)
	}
	if !slices.Equal(in.MessageIDs, []string{"m1", "m2"}) {
		t.Errorf("MessageIDs = %v, want [m1 m2]", in.MessageIDs)
	}

	if err := json.Unmarshal([]byte(`{"messageIds":[]}`), &in); err == nil {
		t.Error("expected error for empty array")
	}
}

func TestProcess(t *testing.T) {
	fn := func(ctx context.Context, id string) (string, error) {
		if id == "id2" {
			return "", errors.New("failed to process id2")
		}
		return "processed " + id, nil
	}

	s := Process(context.Background(), []string{"id1", "id2", "id3"}, fn)

	if s.Attempted != 3 || s.Succeeded != 2 || s.Failed != 1 {
		t.Fatalf("summary = %d/%d/%d, want 3/2/1", s.Attempted, s.Succeeded, s.Failed)
	}
	if s.Results[0].Value != "processed id1" {
		t.Errorf("Results[0].Value = %q", s.Results[0].Value)
	}
	if s.Results[1].Status != StatusError || s.Results[1].Error != "failed to process id2" {
		t.Errorf("Results[1] = %+v", s.Results[1])
	}
	if s.Results[2].Status != StatusSuccess {
		t.Errorf("Results[2].Status = %s, want success", s.Results[2].Status)
	}
}

func TestProcess_CanceledSkipsRemaining(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fn := func(ctx context.Context, id string) (int, error) {
		calls++
		cancel()
		return 1, nil
	}

	s := Process(ctx, []string{"a", "b", "c"}, fn)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s.Attempted != 3 || s.Succeeded != 1 || s.Failed != 2 {
		t.Errorf("summary = %d/%d/%d, want 3/1/2", s.Attempted, s.Succeeded, s.Failed)
	}
}
