package influxdb

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// fieldNamePattern restricts queryable field names to safe identifiers.
// Field names are interpolated into Flux source, so anything outside
// this pattern is rejected before the query is built.
var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// SeriesPoint is one aggregated point in a history query result.
type SeriesPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// QuerySensorHistory returns aggregated history for one sensor field.
//
// Points are mean-aggregated into windows so a day of 5-second samples
// comes back as a plottable series instead of seventeen thousand rows.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device tag to filter on
//   - field: Sensor field name (e.g. "feed_temp_c", "weight_kg")
//   - since: How far back to query (e.g. 24h)
//   - window: Aggregation window (e.g. 5m); 0 disables aggregation
//
// Returns:
//   - []SeriesPoint: Time-ordered points (empty slice if no data)
//   - error: If the field name is invalid or the query fails
func (c *Client) QuerySensorHistory(ctx context.Context, deviceID, field string, since, window time.Duration) ([]SeriesPoint, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if !fieldNamePattern.MatchString(field) {
		return nil, fmt.Errorf("%w: invalid field name %q", ErrQueryFailed, field)
	}
	if since <= 0 {
		return nil, fmt.Errorf("%w: range must be positive", ErrQueryFailed)
	}

	flux := fmt.Sprintf(`from(bucket: %q)
	|> range(start: -%s)
	|> filter(fn: (r) => r._measurement == "sensor_readings")
	|> filter(fn: (r) => r.device_id == %q)
	|> filter(fn: (r) => r._field == %q)`,
		c.cfg.Bucket, formatFluxDuration(since), deviceID, field)

	if window > 0 {
		flux += fmt.Sprintf("\n\t|> aggregateWindow(every: %s, fn: mean, createEmpty: false)",
			formatFluxDuration(window))
	}

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	points := []SeriesPoint{}
	for result.Next() {
		value, ok := result.Record().Value().(float64)
		if !ok {
			continue
		}
		points = append(points, SeriesPoint{
			Time:  result.Record().Time(),
			Value: value,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return points, nil
}

// QueryFeedTotals returns total grams dispensed per day over the range.
//
// Backs the feed-history view: one bar per day of completed feeds.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - deviceID: Device tag to filter on
//   - since: How far back to query (e.g. 7*24h)
//
// Returns:
//   - []SeriesPoint: One point per day with summed grams
//   - error: If the query fails
func (c *Client) QueryFeedTotals(ctx context.Context, deviceID string, since time.Duration) ([]SeriesPoint, error) {
	if !c.IsConnected() {
		return nil, ErrNotConnected
	}
	if since <= 0 {
		return nil, fmt.Errorf("%w: range must be positive", ErrQueryFailed)
	}

	flux := fmt.Sprintf(`from(bucket: %q)
	|> range(start: -%s)
	|> filter(fn: (r) => r._measurement == "feed_events")
	|> filter(fn: (r) => r.device_id == %q)
	|> filter(fn: (r) => r.event == "completed")
	|> filter(fn: (r) => r._field == "grams")
	|> aggregateWindow(every: 1d, fn: sum, createEmpty: false)`,
		c.cfg.Bucket, formatFluxDuration(since), deviceID)

	result, err := c.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}
	defer result.Close()

	points := []SeriesPoint{}
	for result.Next() {
		value, ok := result.Record().Value().(float64)
		if !ok {
			continue
		}
		points = append(points, SeriesPoint{
			Time:  result.Record().Time(),
			Value: value,
		})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrQueryFailed, err)
	}

	return points, nil
}

// formatFluxDuration renders a duration in Flux syntax.
// Flux rejects Go's "1h0m0s"; it wants compact forms like "1h" or "90s".
func formatFluxDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		return fmt.Sprintf("%dh", int64(d/time.Hour))
	}
	if d%time.Minute == 0 {
		return fmt.Sprintf("%dm", int64(d/time.Minute))
	}
	return fmt.Sprintf("%ds", int64(d/time.Second))
}
