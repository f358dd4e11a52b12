// Package shrink minimizes failing input sequences.
//
// Minimize implements delta debugging (ddmin): it repeatedly tries to drop
// chunks of the sequence, keeping any smaller candidate that still fails,
// until no single element can be removed. The result is 1-minimal, not
// globally minimal.
//
// The predicate must be deterministic; the same candidate must always
// give the same answer.
package shrink

import (
	"context"
	"fmt"
)

// Predicate reports whether a candidate still reproduces the failure. An
// error aborts minimization.
type Predicate[T any] func(ctx context.Context, candidate []T) (bool, error)

// Stats describes a minimization.
type Stats struct {
	// Tests is the number of predicate calls.
	Tests int
	// From and To are the input and output lengths.
	From, To int
}

// Minimize returns a 1-minimal subsequence of items for which fails holds.
// items itself must fail. The input slice is not modified.
func Minimize[T any](ctx context.Context, items []T, fails Predicate[T]) ([]T, Stats, error) {
	stats := Stats{From: len(items)}
	test := func(c []T) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		stats.Tests++
		return fails(ctx, c)
	}

	ok, err := test(items)
	if err != nil {
		return nil, stats, err
	}
	if !ok {
		return nil, stats, fmt.Errorf("shrink: input of length %d does not fail", len(items))
	}

	current := append([]T(nil), items...)
	n := 2
	for len(current) >= 2 {
		chunks := split(current, n)
		reduced := false

		// Try each chunk alone.
		for _, c := range chunks {
			ok, err := test(c)
			if err != nil {
				return nil, stats, err
			}
			if ok {
				current, n, reduced = c, 2, true
				break
			}
		}

		// Try each complement.
		if !reduced && n > 2 {
			for i := range chunks {
				c := complement(chunks, i)
				ok, err := test(c)
				if err != nil {
					return nil, stats, err
				}
				if ok {
					current, n, reduced = c, max(n-1, 2), true
					break
				}
			}
		}

		if !reduced {
			if n >= len(current) {
				break
			}
			n = min(2*n, len(current))
		}
	}

	stats.To = len(current)
	return current, stats, nil
}

// split cuts items into n nearly equal, non-empty, contiguous chunks.
func split[T any](items []T, n int) [][]T {
	n = min(n, len(items))
	out := make([][]T, 0, n)
	start := 0
	for i := range n {
		size := (len(items) - start) / (n - i)
		out = append(out, items[start:start+size:start+size])
		start += size
	}
	return out
}

// complement concatenates every chunk except chunks[skip].
func complement[T any](chunks [][]T, skip int) []T {
	var out []T
	for i, c := range chunks {
		if i != skip {
			out = append(out, c...)
		}
	}
	return out
}
