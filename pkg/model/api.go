package model

import (
	"fmt"
	"time"
)

// Response is the JSON envelope around every run history API reply.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination describes the page of runs in a list reply.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// NewPagination builds the pagination block for a page of opts out of total.
func NewPagination(opts ListOptions, total int) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	}
}

// Run list page bounds.
const (
	DefaultRunLimit = 20
	MaxRunLimit     = 100
)

// ListOptions selects a page of runs, newest first. An empty State lists
// runs in every state.
type ListOptions struct {
	Limit  int
	Offset int
	State  RunState
}

// DefaultListOptions returns the first page of runs in any state.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: DefaultRunLimit}
}

// Validate rejects an unknown state filter. Out-of-range paging is not an
// error; Clamp fixes it.
func (o ListOptions) Validate() error {
	if o.State == "" || o.State.IsValid() {
		return nil
	}
	return &APIError{
		Code:    ErrValidation,
		Message: fmt.Sprintf("unknown run state %q", string(o.State)),
	}
}

// Clamp brings Limit into [1, MaxRunLimit] (0 means DefaultRunLimit) and
// Offset to at least 0.
func (o *ListOptions) Clamp() {
	switch {
	case o.Limit <= 0:
		o.Limit = DefaultRunLimit
	case o.Limit > MaxRunLimit:
		o.Limit = MaxRunLimit
	}
	o.Offset = max(o.Offset, 0)
}
