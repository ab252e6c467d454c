package stock

import "time"

// FreshnessWindow: berapa lama reservasi kartu / order pending dihormati.
// Aggregator dan Reconciler wajib pakai konstanta yang sama.
const FreshnessWindow = 5 * time.Minute

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(func() time.Time { return time.Now().UTC() })

// Cutoff: timestamp <= cutoff dianggap stale.
//
// Tie-break: timestamp yang umurnya tepat FreshnessWindow sudah stale, jadi
// reservasi pada T berlaku selama [T, T+W) dan order pending yang dibuat pada T
// ikut di-cancel reconciler pada T+W. Aggregator, reservasi, dan reconciler
// semua memakai batas yang sama (<= cutoff), jadi tidak ada kartu yang terbaca
// reserved sementara order-nya sudah boleh di-cancel.
func Cutoff(now time.Time) time.Time { return now.Add(-FreshnessWindow) }

// IsStale true kalau t sudah berumur >= FreshnessWindow pada saat now.
func IsStale(t, now time.Time) bool { return !t.After(Cutoff(now)) }

// IsFresh: reservasi masih berlaku (reservedAt ada dan belum stale).
func IsFresh(reservedAt *time.Time, now time.Time) bool {
	return reservedAt != nil && !IsStale(*reservedAt, now)
}
