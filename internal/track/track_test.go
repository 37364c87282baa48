package track

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func pt(min int, lat, lon float64) domain.TrackPoint {
	return domain.TrackPoint{Time: t0.Add(time.Duration(min) * time.Minute), Lat: lat, Lon: lon}
}

func TestCorrelate_OutsideSpanIsAbsent(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 1, 1), pt(10, 2, 2)}}, time.Hour)

	if _, ok := c.Correlate(t0.Add(-time.Nanosecond)); ok {
		t.Fatalf("首点之前必须不返回")
	}
	if _, ok := c.Correlate(t0.Add(10*time.Minute + time.Nanosecond)); ok {
		t.Fatalf("末点之后必须不返回")
	}
	if _, ok := NewCorrelator(nil, time.Hour).Correlate(t0); ok {
		t.Fatalf("空轨迹必须不返回")
	}
}

func TestCorrelate_ExactMatchHasZeroGap(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 1, 1), pt(10, 2, 2)}}, time.Minute)

	for _, p := range []domain.TrackPoint{pt(0, 1, 1), pt(10, 2, 2)} {
		got, ok := c.Correlate(p.Time)
		if !ok || got.Gap != 0 || got.Lat != p.Lat || got.Lon != p.Lon {
			t.Fatalf("精确命中应返回该点且 gap=0：%+v ok=%v", got, ok)
		}
	}
}

func TestCorrelate_Interpolation(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 10, 20), pt(10, 20, 40)}}, time.Hour)

	got, ok := c.Correlate(t0.Add(5 * time.Minute))
	if !ok {
		t.Fatalf("期望有位置")
	}
	if math.Abs(got.Lat-15) > 1e-9 || math.Abs(got.Lon-30) > 1e-9 {
		t.Fatalf("中点插值不正确：%+v", got)
	}
	if got.Gap != 10*time.Minute {
		t.Fatalf("gap 应为相邻点间隔：%v", got.Gap)
	}

	got, _ = c.Correlate(t0.Add(2 * time.Minute))
	if math.Abs(got.Lat-12) > 1e-9 || math.Abs(got.Lon-24) > 1e-9 {
		t.Fatalf("20%% 处插值不正确：%+v", got)
	}
}

func TestCorrelate_GapExceedsMax(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 1, 1), pt(20, 2, 2)}}, 15*time.Minute)
	if _, ok := c.Correlate(t0.Add(10 * time.Minute)); ok {
		t.Fatalf("间隔超过 max_gap 时必须不返回")
	}
}

// 无内嵌 GPS 的照片：比前一个点晚 3 分钟、比后一个点早 5 分钟。
func TestCorrelate_ScenarioB(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 47.0, 8.0), pt(8, 47.8, 8.8)}}, 15*time.Minute)

	got, ok := c.Correlate(t0.Add(3 * time.Minute))
	if !ok {
		t.Fatalf("期望得到 correlated position")
	}
	if got.Gap != 8*time.Minute {
		t.Fatalf("confidence 应反映 8 分钟间隔：%v", got.Gap)
	}
	if math.Abs(got.Lat-47.3) > 1e-9 || math.Abs(got.Lon-8.3) > 1e-9 {
		t.Fatalf("插值不正确：%+v", got)
	}
}

func TestNewCorrelator_MergesAndSortsSources(t *testing.T) {
	// 第二个来源乱序，且与第一个来源交错。
	a := []domain.TrackPoint{pt(0, 0, 0), pt(20, 2, 2)}
	b := []domain.TrackPoint{pt(30, 3, 3), pt(10, 1, 1)}
	c := NewCorrelator([][]domain.TrackPoint{a, b}, time.Hour)

	if c.Len() != 4 {
		t.Fatalf("期望 4 个点，实际 %d", c.Len())
	}
	first, last, ok := c.Span()
	if !ok || !first.Equal(t0) || !last.Equal(t0.Add(30*time.Minute)) {
		t.Fatalf("Span 不正确：%v %v", first, last)
	}
	got, ok := c.Correlate(t0.Add(15 * time.Minute))
	if !ok || math.Abs(got.Lat-1.5) > 1e-9 || got.Gap != 10*time.Minute {
		t.Fatalf("合并后的括号对不正确：%+v", got)
	}
}

func TestCorrelate_Antimeridian(t *testing.T) {
	c := NewCorrelator([][]domain.TrackPoint{{pt(0, 0, 179), pt(10, 0, -179)}}, time.Hour)
	got, ok := c.Correlate(t0.Add(5 * time.Minute))
	if !ok || math.Abs(math.Abs(got.Lon)-180) > 1e-9 {
		t.Fatalf("跨 180° 经线应走短边：%+v", got)
	}
}

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="test" xmlns="http://www.topografix.com/GPX/1/1">
  <wpt lat="1.0" lon="1.0"><name>no time</name></wpt>
  <trk><trkseg>
    <trkpt lat="47.2" lon="8.2"><time>2024-05-01T10:10:00Z</time></trkpt>
    <trkpt lat="47.0" lon="8.0"><time>2024-05-01T10:00:00Z</time></trkpt>
  </trkseg></trk>
  <rte><rtept lat="48.0" lon="9.0"><time>2024-05-01T12:00:00.500+02:00</time></rtept></rte>
</gpx>`

func TestParseReader_GPX(t *testing.T) {
	pts, err := ParseReader(strings.NewReader(sampleGPX))
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if len(pts) != 3 {
		t.Fatalf("期望 3 个带时间的点，实际 %d", len(pts))
	}
	if !pts[0].Time.Equal(t0) || pts[0].Lat != 47.0 {
		t.Fatalf("点必须按时间升序：%+v", pts)
	}
	if pts[1].Time.Location() != time.UTC || !pts[1].Time.Equal(time.Date(2024, 5, 1, 10, 0, 0, 5e8, time.UTC)) {
		t.Fatalf("时间应统一为 UTC：%v", pts[1].Time)
	}
	if pts[2].Lat != 47.2 {
		t.Fatalf("点必须按时间升序：%+v", pts)
	}
}

func TestParse_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.gpx")
	if err := os.WriteFile(bad, []byte("<gpx><trk>"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	_, err := Parse(bad)
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Path != bad {
		t.Fatalf("期望 ParseError，实际 %v", err)
	}

	badCoord := filepath.Join(dir, "coord.gpx")
	body := `<gpx><trk><trkseg><trkpt lat="95" lon="0"><time>2024-05-01T10:00:00Z</time></trkpt></trkseg></trk></gpx>`
	if err := os.WriteFile(badCoord, []byte(body), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if _, err := Parse(badCoord); !errors.As(err, &pe) {
		t.Fatalf("越界坐标应报 ParseError，实际 %v", err)
	}

	if _, err := Parse(filepath.Join(dir, "missing.gpx")); !errors.As(err, &pe) {
		t.Fatalf("缺失文件应报 ParseError，实际 %v", err)
	}
}
