package export

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	kml "github.com/twpayne/go-kml"

	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/infra/fsx"
)

// Map 是一次地图导出的输入。
type Map struct {
	Name    string
	Records []domain.PhotoRecord
	// Tracks 非空时额外输出每条轨迹的折线。
	Tracks map[string][]domain.TrackPoint
}

// WriteKML 把有有效位置的记录渲染为 KML，返回输出的照片地标数。
//
// - 地标按源路径排序，名称为源路径
// - 有拍摄时间时带 TimeStamp；插值位置在描述中标注与最近轨迹点的间隔
func WriteKML(w io.Writer, m Map) (int, error) {
	recs := append([]domain.PhotoRecord(nil), m.Records...)
	sort.Slice(recs, func(i, j int) bool { return recs[i].SourcePath < recs[j].SourcePath })

	photos := make([]kml.Element, 0, len(recs))
	for _, r := range recs {
		c, correlated, ok := r.EffectivePosition()
		if !ok {
			continue
		}
		children := []kml.Element{
			kml.Name(r.SourcePath),
			kml.Description(describe(r, correlated)),
		}
		if r.CaptureTime != nil {
			children = append(children, kml.TimeStamp(kml.When(*r.CaptureTime)))
		}
		children = append(children, kml.Point(kml.Coordinates(kml.Coordinate{Lon: c.Lon, Lat: c.Lat})))
		photos = append(photos, kml.Placemark(children...))
	}

	docChildren := []kml.Element{kml.Name(m.Name)}
	docChildren = append(docChildren, kml.Folder(append([]kml.Element{kml.Name("photos")}, photos...)...))

	if len(m.Tracks) > 0 {
		names := make([]string, 0, len(m.Tracks))
		for name := range m.Tracks {
			names = append(names, name)
		}
		sort.Strings(names)
		lines := []kml.Element{kml.Name("tracks")}
		for _, name := range names {
			pts := m.Tracks[name]
			if len(pts) < 2 {
				continue
			}
			coords := make([]kml.Coordinate, 0, len(pts))
			for _, p := range pts {
				coords = append(coords, kml.Coordinate{Lon: p.Lon, Lat: p.Lat})
			}
			lines = append(lines, kml.Placemark(
				kml.Name(filepath.Base(name)),
				kml.LineString(kml.Coordinates(coords...)),
			))
		}
		docChildren = append(docChildren, kml.Folder(lines...))
	}

	if err := kml.KML(kml.Document(docChildren...)).WriteIndent(w, "", "  "); err != nil {
		return 0, err
	}
	return len(photos), nil
}

// WriteKMLFile 原子写出 KML 文件（覆盖已有文件）。
func WriteKMLFile(path string, m Map) (int, error) {
	var buf bytes.Buffer
	n, err := WriteKML(&buf, m)
	if err != nil {
		return 0, err
	}
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), buf.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}

func describe(r domain.PhotoRecord, correlated bool) string {
	when := "undated"
	if r.CaptureTime != nil {
		when = r.CaptureTime.Format("2006-01-02 15:04:05 -07:00")
	}
	if correlated {
		return fmt.Sprintf("%s, track (gap %s)", when, r.CorrelatedPosition.Gap)
	}
	return when + ", exif"
}
