package testsupport

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// PhotoOption customizes the generated JPEG.
type PhotoOption func(*photoSpec)

type photoSpec struct {
	width, height int
	seed          uint8

	dateTimeOriginal   string
	offsetTimeOriginal string
	dateTime           string

	hasGPS   bool
	lat, lon float64
}

// WithCaptureTime sets DateTimeOriginal ("2006:01:02 15:04:05").
func WithCaptureTime(v string) PhotoOption {
	return func(s *photoSpec) { s.dateTimeOriginal = v }
}

// WithOffsetTime sets OffsetTimeOriginal ("+08:00").
func WithOffsetTime(v string) PhotoOption {
	return func(s *photoSpec) { s.offsetTimeOriginal = v }
}

// WithDateTime sets IFD0 DateTime.
func WithDateTime(v string) PhotoOption {
	return func(s *photoSpec) { s.dateTime = v }
}

// WithGPS embeds signed decimal coordinates as DMS rationals + refs.
func WithGPS(lat, lon float64) PhotoOption {
	return func(s *photoSpec) { s.hasGPS, s.lat, s.lon = true, lat, lon }
}

// WithSeed changes pixel content so that otherwise identical photos hash differently.
func WithSeed(seed uint8) PhotoOption {
	return func(s *photoSpec) { s.seed = seed }
}

// WithSize sets the image dimensions.
func WithSize(w, h int) PhotoOption {
	return func(s *photoSpec) { s.width, s.height = w, h }
}

// JPEG returns a small baseline JPEG with an APP1 EXIF block built from opts.
func JPEG(t testing.TB, opts ...PhotoOption) []byte {
	t.Helper()

	ps := photoSpec{width: 8, height: 6}
	for _, o := range opts {
		o(&ps)
	}

	img := image.NewRGBA(image.Rect(0, 0, ps.width, ps.height))
	for y := 0; y < ps.height; y++ {
		for x := 0; x < ps.width; x++ {
			img.Set(x, y, color.RGBA{R: ps.seed, G: uint8(x * 20), B: uint8(y * 20), A: 255})
		}
	}
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}

	tiff := buildTIFF(ps)
	if tiff == nil {
		return body.Bytes()
	}

	payload := append([]byte("Exif\x00\x00"), tiff...)
	app1 := make([]byte, 4, 4+len(payload))
	app1[0], app1[1] = 0xFF, 0xE1
	binary.BigEndian.PutUint16(app1[2:], uint16(len(payload)+2))
	app1 = append(app1, payload...)

	b := body.Bytes()
	out := make([]byte, 0, len(b)+len(app1))
	out = append(out, b[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, b[2:]...)
	return out
}

// WritePhoto writes JPEG(opts...) to path, creating parent directories.
func WritePhoto(t testing.TB, path string, opts ...PhotoOption) []byte {
	t.Helper()
	b := JPEG(t, opts...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return b
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

const (
	typeASCII    = 2
	typeLong     = 4
	typeRational = 5
)

func ascii(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(b)), data: b}
}

func rationals(tag uint16, vals ...[2]uint32) ifdEntry {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(b[8*i:], v[0])
		binary.LittleEndian.PutUint32(b[8*i+4:], v[1])
	}
	return ifdEntry{tag: tag, typ: typeRational, count: uint32(len(vals)), data: b}
}

func dms(v float64) [][2]uint32 {
	v = math.Abs(v)
	deg := math.Floor(v)
	minF := (v - deg) * 60
	min := math.Floor(minF)
	sec := (minF - min) * 60
	return [][2]uint32{{uint32(deg), 1}, {uint32(min), 1}, {uint32(math.Round(sec * 10000)), 10000}}
}

func buildTIFF(s photoSpec) []byte {
	var ifd0, exifIFD, gpsIFD []ifdEntry
	if s.dateTime != "" {
		ifd0 = append(ifd0, ascii(0x0132, s.dateTime))
	}
	if s.dateTimeOriginal != "" {
		exifIFD = append(exifIFD, ascii(0x9003, s.dateTimeOriginal))
	}
	if s.offsetTimeOriginal != "" {
		exifIFD = append(exifIFD, ascii(0x9011, s.offsetTimeOriginal))
	}
	if s.hasGPS {
		latRef, lonRef := "N", "E"
		if s.lat < 0 {
			latRef = "S"
		}
		if s.lon < 0 {
			lonRef = "W"
		}
		gpsIFD = append(gpsIFD,
			ascii(0x0001, latRef),
			rationals(0x0002, dms(s.lat)...),
			ascii(0x0003, lonRef),
			rationals(0x0004, dms(s.lon)...),
		)
	}
	if len(ifd0) == 0 && len(exifIFD) == 0 && len(gpsIFD) == 0 {
		return nil
	}
	if len(exifIFD) > 0 {
		ifd0 = append(ifd0, ifdEntry{tag: 0x8769, typ: typeLong, count: 1})
	}
	if len(gpsIFD) > 0 {
		ifd0 = append(ifd0, ifdEntry{tag: 0x8825, typ: typeLong, count: 1})
	}

	size := func(es []ifdEntry) int {
		if len(es) == 0 {
			return 0
		}
		return 2 + 12*len(es) + 4
	}
	le := binary.LittleEndian
	off0 := 8
	offExif := off0 + size(ifd0)
	offGPS := offExif + size(exifIFD)
	dataOff := offGPS + size(gpsIFD)

	for i := range ifd0 {
		switch ifd0[i].tag {
		case 0x8769:
			ifd0[i].data = le.AppendUint32(nil, uint32(offExif))
		case 0x8825:
			ifd0[i].data = le.AppendUint32(nil, uint32(offGPS))
		}
	}

	buf := make([]byte, dataOff)
	copy(buf, "II")
	le.PutUint16(buf[2:], 42)
	le.PutUint32(buf[4:], uint32(off0))

	var data []byte
	write := func(at int, es []ifdEntry) {
		if len(es) == 0 {
			return
		}
		sort.Slice(es, func(i, j int) bool { return es[i].tag < es[j].tag })
		le.PutUint16(buf[at:], uint16(len(es)))
		p := at + 2
		for _, e := range es {
			le.PutUint16(buf[p:], e.tag)
			le.PutUint16(buf[p+2:], e.typ)
			le.PutUint32(buf[p+4:], e.count)
			if len(e.data) <= 4 {
				copy(buf[p+8:p+12], e.data)
			} else {
				le.PutUint32(buf[p+8:], uint32(dataOff+len(data)))
				data = append(data, e.data...)
				if len(data)%2 == 1 {
					data = append(data, 0)
				}
			}
			p += 12
		}
		le.PutUint32(buf[p:], 0)
	}
	write(off0, ifd0)
	write(offExif, exifIFD)
	write(offGPS, gpsIFD)
	return append(buf, data...)
}
