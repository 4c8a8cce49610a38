// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math"
	"time"
)

// latency accumulates a running mean and variance (Welford) without
// storing samples. Not safe for concurrent use: each goroutine owns
// one, and they are merged after the goroutines stop.
type latency struct {
	count uint64
	mean  float64
	m2    float64
	max   time.Duration
}

func (l *latency) add(sample time.Duration) {
	l.count++
	value := float64(sample)
	delta := value - l.mean
	l.mean += delta / float64(l.count)
	l.m2 += delta * (value - l.mean)
	if sample > l.max {
		l.max = sample
	}
}

// merge folds other into l (Chan et al. parallel variance).
func (l *latency) merge(other latency) {
	if other.count == 0 {
		return
	}
	if l.count == 0 {
		*l = other
		return
	}
	total := l.count + other.count
	delta := other.mean - l.mean
	l.m2 += other.m2 + delta*delta*float64(l.count)*float64(other.count)/float64(total)
	l.mean += delta * float64(other.count) / float64(total)
	l.count = total
	l.max = max(l.max, other.max)
}

func (l *latency) stddev() time.Duration {
	if l.count < 2 {
		return 0
	}
	return time.Duration(math.Sqrt(l.m2 / float64(l.count-1)))
}

func (l *latency) String() string {
	if l.count == 0 {
		return "no samples"
	}
	return fmt.Sprintf("n=%d mean=%v stddev=%v max=%v",
		l.count, time.Duration(l.mean), l.stddev(), l.max)
}
