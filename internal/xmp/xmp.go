package xmp

import (
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/John-Robertt/photomc/internal/domain"
)

const (
	nsX    = "adobe:ns:meta/"
	nsRDF  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	nsEXIF = "http://ns.adobe.com/exif/1.0/"
)

// Sidecar 是写入 <photo>.xmp 的内容：位置来自轨迹插值。
type Sidecar struct {
	Position    domain.Coord
	CaptureTime string // RFC3339；为空时不写 DateTimeOriginal
}

type xmpmeta struct {
	XMLName xml.Name `xml:"x:xmpmeta"`
	NSX     string   `xml:"xmlns:x,attr"`
	RDF     rdf      `xml:"rdf:RDF"`
}

type rdf struct {
	NSRDF string      `xml:"xmlns:rdf,attr"`
	Desc  description `xml:"rdf:Description"`
}

type description struct {
	About  string `xml:"rdf:about,attr"`
	NSEXIF string `xml:"xmlns:exif,attr"`

	GPSVersionID     string `xml:"exif:GPSVersionID,attr"`
	GPSMapDatum      string `xml:"exif:GPSMapDatum,attr"`
	GPSLatitude      string `xml:"exif:GPSLatitude,attr"`
	GPSLongitude     string `xml:"exif:GPSLongitude,attr"`
	DateTimeOriginal string `xml:"exif:DateTimeOriginal,attr,omitempty"`
}

// Encode 生成 XMP sidecar；坐标使用 XMP 的 "DDD,MM.mmmmmmK" 形式。
func Encode(s Sidecar) ([]byte, error) {
	if !validCoord(s.Position) {
		return nil, fmt.Errorf("坐标越界：%v", s.Position)
	}
	m := xmpmeta{
		NSX: nsX,
		RDF: rdf{
			NSRDF: nsRDF,
			Desc: description{
				NSEXIF:           nsEXIF,
				GPSVersionID:     "2.2.0.0",
				GPSMapDatum:      "WGS-84",
				GPSLatitude:      formatCoord(s.Position.Lat, "N", "S"),
				GPSLongitude:     formatCoord(s.Position.Lon, "E", "W"),
				DateTimeOriginal: strings.TrimSpace(s.CaptureTime),
			},
		},
	}
	b, err := xml.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	const header = "<?xpacket begin=\"\ufeff\" id=\"W5M0MpCehiHzreSzNTczkc9d\"?>\n"
	const footer = "\n" + `<?xpacket end="w"?>` + "\n"
	out := append([]byte(header), b...)
	return append(out, footer...), nil
}

type decodedMeta struct {
	RDF struct {
		Desc struct {
			Lat string `xml:"http://ns.adobe.com/exif/1.0/ GPSLatitude,attr"`
			Lon string `xml:"http://ns.adobe.com/exif/1.0/ GPSLongitude,attr"`
		} `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
	} `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# RDF"`
}

// Decode 从 XMP 中读回 GPS 坐标。
func Decode(b []byte) (domain.Coord, error) {
	var m decodedMeta
	if err := xml.Unmarshal(b, &m); err != nil {
		return domain.Coord{}, err
	}
	lat, err := parseCoord(m.RDF.Desc.Lat, 'N', 'S')
	if err != nil {
		return domain.Coord{}, fmt.Errorf("GPSLatitude：%w", err)
	}
	lon, err := parseCoord(m.RDF.Desc.Lon, 'E', 'W')
	if err != nil {
		return domain.Coord{}, fmt.Errorf("GPSLongitude：%w", err)
	}
	return domain.Coord{Lat: lat, Lon: lon}, nil
}

func formatCoord(v float64, pos, neg string) string {
	ref := pos
	if v < 0 {
		ref = neg
	}
	v = math.Abs(v)
	deg := math.Floor(v)
	min := (v - deg) * 60
	return fmt.Sprintf("%d,%.6f%s", int(deg), min, ref)
}

func parseCoord(s string, pos, neg byte) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("格式无效：%q", s)
	}
	ref := s[len(s)-1]
	if ref != pos && ref != neg {
		return 0, fmt.Errorf("方向无效：%q", s)
	}
	degStr, minStr, ok := strings.Cut(s[:len(s)-1], ",")
	if !ok {
		return 0, fmt.Errorf("格式无效：%q", s)
	}
	deg, err := strconv.ParseFloat(degStr, 64)
	if err != nil {
		return 0, err
	}
	min, err := strconv.ParseFloat(minStr, 64)
	if err != nil {
		return 0, err
	}
	v := deg + min/60
	if ref == neg {
		v = -v
	}
	return v, nil
}

func validCoord(c domain.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!math.IsNaN(c.Lat) && !math.IsNaN(c.Lon)
}
