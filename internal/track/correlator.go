package track

import (
	"sort"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

// Correlator 回答“相机在时刻 T 位于何处”。
//
// 不变量：pts 全局按时间升序；同一时间的点保持加载顺序。构造后只读，可被并发调用。
type Correlator struct {
	pts    []domain.TrackPoint
	maxGap time.Duration
}

// NewCorrelator 合并所有轨迹来源（不信任来源自身的顺序）。
// maxGap 是允许插值的最大相邻点间隔。
func NewCorrelator(tracks [][]domain.TrackPoint, maxGap time.Duration) *Correlator {
	n := 0
	for _, t := range tracks {
		n += len(t)
	}
	pts := make([]domain.TrackPoint, 0, n)
	for _, t := range tracks {
		pts = append(pts, t...)
	}
	sortPoints(pts)
	return &Correlator{pts: pts, maxGap: maxGap}
}

// Len 返回合并后的点数。
func (c *Correlator) Len() int { return len(c.pts) }

// Span 返回轨迹覆盖的时间范围；没有点时 ok=false。
func (c *Correlator) Span() (first, last time.Time, ok bool) {
	if len(c.pts) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return c.pts[0].Time, c.pts[len(c.pts)-1].Time, true
}

// Correlate 返回 t 时刻的插值位置。
//
// 规则：
// - 精确命中某个点：返回该点，Gap=0
// - t 在整个轨迹范围之外：不返回
// - 相邻两点间隔超过 maxGap：不返回
// - 否则对 lat/lon 分别线性插值，Gap 为相邻两点的间隔
func (c *Correlator) Correlate(t time.Time) (domain.CorrelatedPosition, bool) {
	n := len(c.pts)
	if n == 0 {
		return domain.CorrelatedPosition{}, false
	}
	idx := sort.Search(n, func(i int) bool { return !c.pts[i].Time.Before(t) })
	if idx < n && c.pts[idx].Time.Equal(t) {
		p := c.pts[idx]
		return domain.CorrelatedPosition{Coord: domain.Coord{Lat: p.Lat, Lon: p.Lon}}, true
	}
	if idx == 0 || idx == n {
		return domain.CorrelatedPosition{}, false
	}

	a, b := c.pts[idx-1], c.pts[idx]
	gap := b.Time.Sub(a.Time)
	if gap > c.maxGap {
		return domain.CorrelatedPosition{}, false
	}
	frac := float64(t.Sub(a.Time)) / float64(gap)

	lonA, lonB := a.Lon, b.Lon
	// 跨越 ±180° 经线时走短边。
	if lonB-lonA > 180 {
		lonA += 360
	} else if lonA-lonB > 180 {
		lonB += 360
	}
	lon := lonA + frac*(lonB-lonA)
	if lon > 180 {
		lon -= 360
	}

	return domain.CorrelatedPosition{
		Coord: domain.Coord{Lat: a.Lat + frac*(b.Lat-a.Lat), Lon: lon},
		Gap:   gap,
	}, true
}

func sortPoints(pts []domain.TrackPoint) {
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Time.Before(pts[j].Time) })
}
