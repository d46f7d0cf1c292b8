package storage

import (
	"context"
	"errors"

	"servermonitor/collector"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("store closed")

// Observation is re-exported here so callers do not need to import
// the collector package just to call Store.Append().
type Observation = collector.Observation

// Store abstracts a persistence back-end for observations.
type Store interface {
	// Append durably writes exactly one observation. Rows are never
	// rewritten once appended.
	Append(ctx context.Context, o Observation) error

	// Close releases any resources (files, DB connections).
	Close() error
}

// Querier is implemented by stores that can read observations back.
type Querier interface {
	// Query returns up to limit observations, newest first. An empty
	// endpoint matches every endpoint.
	Query(ctx context.Context, endpoint string, limit int) ([]Observation, error)
}

// Multi appends to several stores in order. A failure in one store does not
// prevent the others from receiving the row.
type Multi []Store

// Append implements Store.
func (m Multi) Append(ctx context.Context, o Observation) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Store.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
