package timeframe

// Configured returns the static list of timeframes both services aggregate
// and store, finest unit first. The order is significant: the aggregator
// emits closed candles in this order.
func Configured() []Window {
	units := []struct {
		unit  Unit
		sizes []int
	}{
		{Second, []int{1, 5, 10, 15, 30, 45}},
		{Minute, []int{1, 2, 3, 5, 10, 15, 30, 45}},
		{Hour, []int{1, 2, 4, 6, 8, 12}},
		{Day, []int{1, 2, 3}},
		{Week, []int{1, 2}},
		{Month, []int{1, 2, 3, 6}},
		{Year, []int{1, 2, 3, 5}},
	}

	var windows []Window
	for _, u := range units {
		for _, size := range u.sizes {
			windows = append(windows, Window{Size: size, Unit: u.unit})
		}
	}
	return windows
}
