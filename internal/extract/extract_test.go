package extract

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/John-Robertt/photomc/internal/domain"
)

type fakeCodec struct {
	d   Decoded
	err error
}

func (f fakeCodec) Decode(string) (Decoded, error) { return f.d, f.err }

func TestExtract_HardFailures(t *testing.T) {
	_, err := Extract(fakeCodec{err: ErrUnsupported}, "/x.jpg", Options{})
	var fe *Failure
	if !errors.As(err, &fe) || fe.Reason != domain.ErrCodeUnsupportedFormat {
		t.Fatalf("期望 unsupported_format，实际 %v", err)
	}

	_, err = Extract(fakeCodec{err: &OpenError{Path: "/x.jpg", Err: errors.New("denied")}}, "/x.jpg", Options{})
	if !errors.As(err, &fe) || fe.Reason != domain.ErrCodeOpenFailed {
		t.Fatalf("期望 open_failed，实际 %v", err)
	}
}

func TestExtract_TagFailureIsWarning(t *testing.T) {
	m, err := Extract(fakeCodec{d: Decoded{Format: FormatJPEG, Width: 4, Height: 3, TagErr: errors.New("no exif")}}, "/x.jpg", Options{})
	if err != nil {
		t.Fatalf("标签缺失不应是错误：%v", err)
	}
	if m.CaptureTime != nil || m.Position != nil {
		t.Fatalf("字段应保持缺失：%+v", m)
	}
	if len(m.Warnings) != 1 || !strings.HasPrefix(m.Warnings[0], domain.ErrCodeExtractFailed) {
		t.Fatalf("期望一条 extract_failed warning：%v", m.Warnings)
	}
	if m.Width != 4 || m.Height != 3 {
		t.Fatalf("尺寸不正确：%+v", m)
	}
}

func TestCaptureTime_Preference(t *testing.T) {
	tags := Tags{
		"DateTime":          {Str: "2020:01:01 00:00:00"},
		"DateTimeDigitized": {Str: "2021:01:01 00:00:00"},
		"DateTimeOriginal":  {Str: "2022:06:15 08:30:00"},
	}
	got, _ := CaptureTime(tags, time.UTC)
	if got == nil || got.Year() != 2022 {
		t.Fatalf("DateTimeOriginal 必须优先：%v", got)
	}

	delete(tags, "DateTimeOriginal")
	got, _ = CaptureTime(tags, time.UTC)
	if got == nil || got.Year() != 2021 {
		t.Fatalf("其次应为 DateTimeDigitized：%v", got)
	}

	// 无法解析的 Original 被跳过，回落到后续标签。
	tags["DateTimeOriginal"] = Tag{Str: "0000:00:00 00:00:00"}
	got, _ = CaptureTime(tags, time.UTC)
	if got == nil || got.Year() != 2021 {
		t.Fatalf("空值时间应被跳过：%v", got)
	}
}

func TestCaptureTime_OffsetAndLocation(t *testing.T) {
	tags := Tags{
		"DateTimeOriginal":   {Str: "2024:03:01 12:00:00"},
		"OffsetTimeOriginal": {Str: "+08:00"},
	}
	got, _ := CaptureTime(tags, time.UTC)
	want := time.Date(2024, 3, 1, 4, 0, 0, 0, time.UTC)
	if got == nil || !got.Equal(want) {
		t.Fatalf("OffsetTimeOriginal 未生效：%v", got)
	}
	if got.Hour() != 12 {
		t.Fatalf("墙上时间必须保持相机本地时间：%v", got)
	}

	delete(tags, "OffsetTimeOriginal")
	loc := time.FixedZone("X", -5*3600)
	got, _ = CaptureTime(tags, loc)
	if got == nil || !got.Equal(time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC)) {
		t.Fatalf("无 offset 时应按配置时区解释：%v", got)
	}
}

func TestCaptureTime_AllBadGivesWarning(t *testing.T) {
	got, warn := CaptureTime(Tags{"DateTime": {Str: "garbage"}}, time.UTC)
	if got != nil || warn == "" {
		t.Fatalf("期望无时间 + warning，实际 %v %q", got, warn)
	}
}

func TestExtract_TimeOffsetApplied(t *testing.T) {
	c := fakeCodec{d: Decoded{Format: FormatJPEG, Tags: Tags{"DateTimeOriginal": {Str: "2024:03:01 12:00:00"}}}}
	m, err := Extract(c, "/x.jpg", Options{Offset: -90 * time.Second})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.CaptureTime == nil || !m.CaptureTime.Equal(time.Date(2024, 3, 1, 11, 58, 30, 0, time.UTC)) {
		t.Fatalf("time_offset 未生效：%v", m.CaptureTime)
	}
}

func TestPosition_DMSAndRefs(t *testing.T) {
	tags := Tags{
		"GPSLatitude":     {Rats: []Rat{{47, 1}, {22, 1}, {1800, 100}}},
		"GPSLatitudeRef":  {Str: "S"},
		"GPSLongitude":    {Rats: []Rat{{8, 1}, {30, 1}, {0, 1}}},
		"GPSLongitudeRef": {Str: "W"},
	}
	p, warn := Position(tags)
	if p == nil {
		t.Fatalf("期望有位置，warning=%q", warn)
	}
	if math.Abs(p.Lat-(-47.375)) > 1e-9 || math.Abs(p.Lon-(-8.5)) > 1e-9 {
		t.Fatalf("DMS 转换不正确：%+v", p)
	}
}

func TestPosition_ZeroIsAbsent(t *testing.T) {
	tags := Tags{
		"GPSLatitude":  {Rats: []Rat{{0, 1}, {0, 1}, {0, 1}}},
		"GPSLongitude": {Rats: []Rat{{0, 1}, {0, 1}, {0, 1}}},
	}
	if p, warn := Position(tags); p != nil || warn != "" {
		t.Fatalf("(0,0) 应视为缺失且不告警：%v %q", p, warn)
	}
}

func TestPosition_BadRationalWarns(t *testing.T) {
	tags := Tags{
		"GPSLatitude":  {Rats: []Rat{{1, 0}}},
		"GPSLongitude": {Rats: []Rat{{1, 1}}},
	}
	if p, warn := Position(tags); p != nil || warn == "" {
		t.Fatalf("分母为 0 应告警：%v %q", p, warn)
	}
}

func TestExtract_DimensionsFromTags(t *testing.T) {
	c := fakeCodec{d: Decoded{Format: FormatHEIF, Tags: Tags{
		"PixelXDimension": {Ints: []int64{4032}},
		"PixelYDimension": {Ints: []int64{3024}},
	}}}
	m, err := Extract(c, "/x.heic", Options{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if m.Width != 4032 || m.Height != 3024 {
		t.Fatalf("应回落到 PixelX/YDimension：%+v", m)
	}
}
