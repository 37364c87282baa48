package export

import (
	"bytes"
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

type kmlOut struct {
	Document struct {
		Folders []struct {
			Name       string `xml:"name"`
			Placemarks []struct {
				Name        string `xml:"name"`
				Description string `xml:"description"`
				When        string `xml:"TimeStamp>when"`
				Point       string `xml:"Point>coordinates"`
				Line        string `xml:"LineString>coordinates"`
			} `xml:"Placemark"`
		} `xml:"Folder"`
	} `xml:"Document"`
}

func TestWriteKML(t *testing.T) {
	ct := time.Date(2023, 6, 1, 10, 0, 0, 0, time.UTC)
	m := Map{
		Name: "photos",
		Records: []domain.PhotoRecord{
			{SourcePath: "/in/b.jpg", CaptureTime: &ct, CorrelatedPosition: &domain.CorrelatedPosition{Coord: domain.Coord{Lat: 47.5, Lon: 8.5}, Gap: 8 * time.Minute}},
			{SourcePath: "/in/a.jpg", EmbeddedPosition: &domain.Coord{Lat: -33.5, Lon: 151.25}},
			{SourcePath: "/in/none.jpg", CaptureTime: &ct},
		},
		Tracks: map[string][]domain.TrackPoint{
			"/t/walk.gpx": {{Time: ct, Lat: 47, Lon: 8}, {Time: ct.Add(time.Minute), Lat: 48, Lon: 9}},
		},
	}
	var buf bytes.Buffer
	n, err := WriteKML(&buf, m)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if n != 2 {
		t.Fatalf("期望 2 个地标，实际 %d", n)
	}

	var out kmlOut
	if err := xml.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("KML 解析失败：%v\n%s", err, buf.String())
	}
	if len(out.Document.Folders) != 2 {
		t.Fatalf("期望 photos + tracks 两个 Folder：%s", buf.String())
	}
	ps := out.Document.Folders[0].Placemarks
	if len(ps) != 2 || ps[0].Name != "/in/a.jpg" || ps[1].Name != "/in/b.jpg" {
		t.Fatalf("地标不符合预期：%+v", ps)
	}
	if !strings.HasPrefix(strings.TrimSpace(ps[0].Point), "151.25,-33.5") {
		t.Fatalf("坐标应为 lon,lat：%q", ps[0].Point)
	}
	if ps[0].When != "" || !strings.Contains(ps[0].Description, "exif") {
		t.Fatalf("a.jpg 无拍摄时间、位置来自 EXIF：%+v", ps[0])
	}
	if ps[1].When == "" || !strings.Contains(ps[1].Description, "8m0s") {
		t.Fatalf("b.jpg 应带时间与轨迹间隔：%+v", ps[1])
	}
	tr := out.Document.Folders[1].Placemarks
	if len(tr) != 1 || tr[0].Name != "walk.gpx" || strings.TrimSpace(tr[0].Line) == "" {
		t.Fatalf("轨迹折线不符合预期：%+v", tr)
	}
}

func TestWriteKMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "map.kml")
	if _, err := WriteKMLFile(path, Map{Name: "empty"}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取失败：%v", err)
	}
	if !strings.Contains(string(b), "<kml") {
		t.Fatalf("输出不是 KML：%s", b)
	}
}
