package fsengine

import "time"

func unixNanoToTime(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
