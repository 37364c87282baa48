package extract

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

// Options 控制无时区 EXIF 时间的解释方式。
type Options struct {
	// Location 用于解释没有 OffsetTime* 的 EXIF 时间；nil 表示 UTC。
	Location *time.Location
	// Offset 用于修正相机时钟偏差（加到最终时间上）。
	Offset time.Duration
}

// Metadata 是单个文件的提取结果（不含 content hash）。
type Metadata struct {
	Format      string
	Width       int
	Height      int
	CaptureTime *time.Time
	Position    *domain.Coord
	Warnings    []string
}

// Failure 是提取阶段的硬失败（文件不进入 plan）。
type Failure struct {
	Reason string // domain.ErrCodeOpenFailed / domain.ErrCodeUnsupportedFormat
	Err    error
}

func (e *Failure) Error() string { return fmt.Sprintf("%s：%v", e.Reason, e.Err) }
func (e *Failure) Unwrap() error { return e.Err }

// Extract 读取单个文件的元数据。
//
// 错误语义：
// - 打开失败 / 容器无法识别：返回 *Failure
// - 标签缺失/损坏、时间或 GPS 无法解析：不是错误，字段留空并追加 warning
func Extract(c Codec, path string, opts Options) (Metadata, error) {
	d, err := c.Decode(path)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			return Metadata{}, &Failure{Reason: domain.ErrCodeUnsupportedFormat, Err: err}
		}
		return Metadata{}, &Failure{Reason: domain.ErrCodeOpenFailed, Err: err}
	}

	m := Metadata{Format: d.Format, Width: d.Width, Height: d.Height}
	if d.TagErr != nil {
		m.Warnings = append(m.Warnings, fmt.Sprintf("%s: %v", domain.ErrCodeExtractFailed, d.TagErr))
	}
	tags := d.Tags
	if tags == nil {
		tags = Tags{}
	}

	if m.Width == 0 || m.Height == 0 {
		w, okW := tags.Int("PixelXDimension")
		h, okH := tags.Int("PixelYDimension")
		if okW && okH && w > 0 && h > 0 {
			m.Width, m.Height = int(w), int(h)
		}
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	if t, warn := CaptureTime(tags, loc); t != nil {
		v := t.Add(opts.Offset)
		m.CaptureTime = &v
	} else if warn != "" {
		m.Warnings = append(m.Warnings, warn)
	}

	if p, warn := Position(tags); p != nil {
		m.Position = p
	} else if warn != "" {
		m.Warnings = append(m.Warnings, warn)
	}
	return m, nil
}

// exifTimeLayout 是 EXIF 规定的日期时间格式。
const exifTimeLayout = "2006:01:02 15:04:05"

var timeTags = []struct{ value, offset string }{
	{"DateTimeOriginal", "OffsetTimeOriginal"},
	{"DateTimeDigitized", "OffsetTimeDigitized"},
	{"DateTime", "OffsetTime"},
}

// CaptureTime 按优先级 DateTimeOriginal > DateTimeDigitized > DateTime 选取拍摄时间。
// 有对应 OffsetTime* 时使用其时区，否则按 loc 解释。
// 返回的 warning 仅在存在时间标签但全部无法解析时非空。
func CaptureTime(tags Tags, loc *time.Location) (*time.Time, string) {
	var bad []string
	for _, tt := range timeTags {
		raw, ok := tags.String(tt.value)
		if !ok {
			continue
		}
		zone := loc
		if off, ok := tags.String(tt.offset); ok {
			if z, ok := parseOffset(off); ok {
				zone = z
			}
		}
		t, err := parseExifTime(raw, zone)
		if err != nil {
			bad = append(bad, tt.value)
			continue
		}
		return &t, ""
	}
	if len(bad) > 0 {
		return nil, fmt.Sprintf("%s: 无法解析时间标签 %s", domain.ErrCodeExtractFailed, strings.Join(bad, ","))
	}
	return nil, ""
}

func parseExifTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if len(raw) < len(exifTimeLayout) {
		return time.Time{}, fmt.Errorf("时间格式不正确：%q", raw)
	}
	// 部分相机写入 "YYYY-MM-DD" 或带小数秒的尾巴，只取前 19 个字符，并统一分隔符。
	s := []byte(raw[:len(exifTimeLayout)])
	s[4], s[7] = ':', ':'
	if s[10] == 'T' {
		s[10] = ' '
	}
	if strings.HasPrefix(string(s), "0000") {
		return time.Time{}, fmt.Errorf("时间为空值：%q", raw)
	}
	return time.ParseInLocation(exifTimeLayout, string(s), loc)
}

// parseOffset 解析 "+08:00" / "-05:30" 形式的 EXIF 时区偏移。
func parseOffset(s string) (*time.Location, bool) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("-07:00", s)
	if err != nil {
		return nil, false
	}
	_, off := t.Zone()
	return time.FixedZone(s, off), true
}

// Position 把 EXIF GPS（度/分/秒有理数 + N/S/E/W）转换为带符号的十进制度数。
// (0,0) 视为相机写入的占位值，按缺失处理。
func Position(tags Tags) (*domain.Coord, string) {
	latR, okLat := tags.Rats("GPSLatitude")
	lonR, okLon := tags.Rats("GPSLongitude")
	if !okLat && !okLon {
		return nil, ""
	}
	if !okLat || !okLon {
		return nil, fmt.Sprintf("%s: GPS 标签不完整", domain.ErrCodeExtractFailed)
	}
	lat, ok1 := dmsToDecimal(latR)
	lon, ok2 := dmsToDecimal(lonR)
	if !ok1 || !ok2 {
		return nil, fmt.Sprintf("%s: GPS 有理数无效", domain.ErrCodeExtractFailed)
	}
	if ref, ok := tags.String("GPSLatitudeRef"); ok && strings.EqualFold(strings.TrimSpace(ref), "S") {
		lat = -lat
	}
	if ref, ok := tags.String("GPSLongitudeRef"); ok && strings.EqualFold(strings.TrimSpace(ref), "W") {
		lon = -lon
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Sprintf("%s: GPS 坐标越界 (%v,%v)", domain.ErrCodeExtractFailed, lat, lon)
	}
	if lat == 0 && lon == 0 {
		return nil, ""
	}
	return &domain.Coord{Lat: lat, Lon: lon}, ""
}

func dmsToDecimal(r []Rat) (float64, bool) {
	var parts [3]float64
	for i := 0; i < len(r) && i < 3; i++ {
		if r[i].Num == 0 && r[i].Den == 0 {
			continue
		}
		v, ok := r[i].Float()
		if !ok {
			return 0, false
		}
		parts[i] = v
	}
	v := parts[0] + parts[1]/60 + parts[2]/3600
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
