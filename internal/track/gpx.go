package track

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

// ParseError 表示轨迹文件无法解析。启动阶段遇到它必须中止（track_parse_failed）。
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s：轨迹文件 %q 无法解析：%v", domain.ErrCodeTrackParseFailed, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type gpxDoc struct {
	XMLName xml.Name `xml:"gpx"`
	Wpts    []gpxPt  `xml:"wpt"`
	Rtes    []struct {
		Pts []gpxPt `xml:"rtept"`
	} `xml:"rte"`
	Trks []struct {
		Segs []struct {
			Pts []gpxPt `xml:"trkpt"`
		} `xml:"trkseg"`
	} `xml:"trk"`
}

type gpxPt struct {
	Lat  string `xml:"lat,attr"`
	Lon  string `xml:"lon,attr"`
	Time string `xml:"time"`
}

// Parse 读取一个 GPX 1.0/1.1 文件中所有带时间的 trkpt / rtept / wpt。
// 不带 <time> 的点被忽略；返回的点按时间升序（同一时间保持文件内顺序）。
func Parse(path string) ([]domain.TrackPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	defer f.Close()

	pts, err := ParseReader(f)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return pts, nil
}

// ParseReader 是 Parse 的无路径版本。
func ParseReader(r io.Reader) ([]domain.TrackPoint, error) {
	var doc gpxDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}

	raw := make([]gpxPt, 0, 256)
	for _, trk := range doc.Trks {
		for _, seg := range trk.Segs {
			raw = append(raw, seg.Pts...)
		}
	}
	for _, rte := range doc.Rtes {
		raw = append(raw, rte.Pts...)
	}
	raw = append(raw, doc.Wpts...)

	out := make([]domain.TrackPoint, 0, len(raw))
	for i, p := range raw {
		if strings.TrimSpace(p.Time) == "" {
			continue
		}
		tp, err := convert(p)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个点：%w", i+1, err)
		}
		out = append(out, tp)
	}
	sortPoints(out)
	return out, nil
}

func convert(p gpxPt) (domain.TrackPoint, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
	if err != nil || lat < -90 || lat > 90 {
		return domain.TrackPoint{}, fmt.Errorf("lat 无效：%q", p.Lat)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
	if err != nil || lon < -180 || lon > 180 {
		return domain.TrackPoint{}, fmt.Errorf("lon 无效：%q", p.Lon)
	}
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(p.Time))
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("time 无效：%w", err)
	}
	return domain.TrackPoint{Time: t.UTC(), Lat: lat, Lon: lon}, nil
}
