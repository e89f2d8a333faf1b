/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collector

import (
	"time"
)

// DataPoint represents a single time-series data point.
type DataPoint struct {
	// Timestamp is when this data point was recorded.
	Timestamp time.Time

	// Value is the metric value at this timestamp.
	Value float64
}

// TimeSeries represents a sequence of data points over time.
// Note: This type is not thread-safe. Concurrency control should be
// handled by the owning sampler.
type TimeSeries struct {
	// Points are the data points in chronological order.
	Points []DataPoint
}

// AddPoint adds a data point to the time series.
func (ts *TimeSeries) AddPoint(timestamp time.Time, value float64) {
	ts.Points = append(ts.Points, DataPoint{
		Timestamp: timestamp,
		Value:     value,
	})
}

// Latest returns the most recent data point, or nil if empty.
func (ts *TimeSeries) Latest() *DataPoint {
	if len(ts.Points) == 0 {
		return nil
	}
	return &ts.Points[len(ts.Points)-1]
}

// InWindow returns data points within the specified time window.
// Points are returned where: now - window <= timestamp <= now.
func (ts *TimeSeries) InWindow(now time.Time, window time.Duration) []DataPoint {
	cutoff := now.Add(-window)

	var result []DataPoint
	for _, p := range ts.Points {
		if !p.Timestamp.Before(cutoff) && !p.Timestamp.After(now) {
			result = append(result, p)
		}
	}
	return result
}

// Average returns the mean of the points in the window ending at now. The
// boolean is false when the window holds no points.
func (ts *TimeSeries) Average(now time.Time, window time.Duration) (float64, bool) {
	points := ts.InWindow(now, window)
	if len(points) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range points {
		sum += p.Value
	}
	return sum / float64(len(points)), true
}

// Prune removes data points older than the retention period before now.
func (ts *TimeSeries) Prune(now time.Time, retention time.Duration) {
	cutoff := now.Add(-retention)

	var kept []DataPoint
	for _, p := range ts.Points {
		if !p.Timestamp.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	ts.Points = kept
}

// TimeSeriesBuffer is a bounded buffer for storing time-series data.
// It automatically prunes old data to stay within the retention period.
// Note: This type is not thread-safe.
type TimeSeriesBuffer struct {
	// Series is the underlying time series.
	Series *TimeSeries

	// Retention is how long to keep data points.
	Retention time.Duration

	// MaxPoints is the maximum number of points to store (0 = unlimited).
	MaxPoints int
}

// NewTimeSeriesBuffer creates a new buffer with the specified retention.
func NewTimeSeriesBuffer(retention time.Duration) *TimeSeriesBuffer {
	return &TimeSeriesBuffer{
		Series:    &TimeSeries{},
		Retention: retention,
	}
}

// Add adds a data point and prunes data that fell out of retention.
func (b *TimeSeriesBuffer) Add(timestamp time.Time, value float64) {
	b.Series.AddPoint(timestamp, value)
	b.prune(timestamp)
}

// prune removes old data points based on retention and max points.
func (b *TimeSeriesBuffer) prune(now time.Time) {
	// Prune by retention
	if b.Retention > 0 {
		b.Series.Prune(now, b.Retention)
	}

	// Prune by max points (keep most recent)
	if b.MaxPoints > 0 && len(b.Series.Points) > b.MaxPoints {
		b.Series.Points = b.Series.Points[len(b.Series.Points)-b.MaxPoints:]
	}
}
