package domain

import "time"

// TrackPoint 是轨迹中的一个定位点。时间统一为 UTC。
type TrackPoint struct {
	Time time.Time
	Lat  float64
	Lon  float64
}
