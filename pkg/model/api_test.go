package model

import (
	"errors"
	"testing"
)

func TestListOptions_Clamp(t *testing.T) {
	tests := []struct {
		in   ListOptions
		want ListOptions
	}{
		{ListOptions{Limit: 0, Offset: -3}, ListOptions{Limit: DefaultRunLimit, Offset: 0}},
		{ListOptions{Limit: 500, Offset: 10}, ListOptions{Limit: MaxRunLimit, Offset: 10}},
		{ListOptions{Limit: 5, Offset: 1, State: RunStateFailed}, ListOptions{Limit: 5, Offset: 1, State: RunStateFailed}},
	}
	for _, tt := range tests {
		got := tt.in
		got.Clamp()
		if got != tt.want {
			t.Errorf("Clamp(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestListOptions_Validate(t *testing.T) {
	tests := []struct {
		state   RunState
		wantErr bool
	}{
		{"", false},
		{RunStateCompleted, false},
		{RunStateCancelled, false},
		{"PAUSED", true},
		{"completed", true},
	}
	for _, tt := range tests {
		opts := DefaultListOptions()
		opts.State = tt.state
		err := opts.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(state=%q) = %v, wantErr %v", tt.state, err, tt.wantErr)
			continue
		}
		var apiErr *APIError
		if err != nil && (!errors.As(err, &apiErr) || apiErr.Code != ErrValidation) {
			t.Errorf("Validate(state=%q) = %v, want VALIDATION_ERROR", tt.state, err)
		}
	}
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		limit, offset, total int
		hasMore              bool
	}{
		{20, 0, 5, false},
		{2, 0, 5, true},
		{2, 3, 5, false},
		{2, 2, 5, true},
	}
	for _, tt := range tests {
		pg := NewPagination(ListOptions{Limit: tt.limit, Offset: tt.offset}, tt.total)
		if pg.Total != tt.total || pg.Limit != tt.limit || pg.Offset != tt.offset || pg.HasMore != tt.hasMore {
			t.Errorf("NewPagination(limit=%d, offset=%d, total=%d) = %+v", tt.limit, tt.offset, tt.total, pg)
		}
	}
}
