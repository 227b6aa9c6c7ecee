package state

const (
	hourMicros    = int64(3600 * 1_000_000)
	volumeBuckets = 24
)

// VolumeWindow keeps traded contracts in hourly buckets covering 24 hours.
type VolumeWindow struct {
	buckets [volumeBuckets]int64
	hours   [volumeBuckets]int64
}

func hourOf(ts int64) int64 {
	h := ts / hourMicros
	if ts < 0 && ts%hourMicros != 0 {
		h--
	}
	return h
}

// Add records qty traded at ts.
func (v *VolumeWindow) Add(ts int64, qty int64) {
	hour := hourOf(ts)
	i := int(((hour % volumeBuckets) + volumeBuckets) % volumeBuckets)
	if v.hours[i] != hour {
		v.hours[i] = hour
		v.buckets[i] = 0
	}
	v.buckets[i] += qty
}

// Total returns volume traded in the 24 hours ending at now.
func (v *VolumeWindow) Total(now int64) int64 {
	current := hourOf(now)
	var total int64
	for i := range v.buckets {
		if v.hours[i] > current-volumeBuckets && v.hours[i] <= current {
			total += v.buckets[i]
		}
	}
	return total
}
