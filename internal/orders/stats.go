package orders

import "time"

// StatsWindows: awal hari ini, 7 hari ke belakang dari awal hari ini, dan awal bulan,
// di timezone milik now.
func StatsWindows(now time.Time) (today, week, month time.Time) {
	y, m, d := now.Date()
	today = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	week = today.AddDate(0, 0, -7)
	month = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return today, week, month
}
