package extract

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/mknote"
	"github.com/rwcarlsen/goexif/tiff"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

func init() {
	exif.RegisterParsers(mknote.All...)
}

// maxEmbeddedScan 是在非 JPEG/TIFF 容器中搜索 EXIF 块时读取的最大字节数。
const maxEmbeddedScan = 4 << 20

// maxTIFFRaw 是 TIFF 容器为读取 Exif 子目录而缓存的最大字节数。
const maxTIFFRaw = 16 << 20

// 这些标签晚于 goexif 的字段表，需要从 Exif 子目录里按 ID 读取。
var extraExifTags = map[uint16]string{
	0x9010: "OffsetTime",
	0x9011: "OffsetTimeOriginal",
	0x9012: "OffsetTimeDigitized",
}

// ExifCodec 是基于 goexif + image.DecodeConfig 的 Codec 实现。
type ExifCodec struct{}

func (ExifCodec) Decode(path string) (Decoded, error) {
	f, err := os.Open(path)
	if err != nil {
		return Decoded{}, &OpenError{Path: path, Err: err}
	}
	defer f.Close()

	head := make([]byte, SniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Decoded{}, &OpenError{Path: path, Err: err}
	}
	format := Sniff(head[:n])
	if format == "" {
		return Decoded{}, ErrUnsupported
	}

	out := Decoded{Format: format}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Decoded{}, &OpenError{Path: path, Err: err}
	}
	if cfg, _, err := image.DecodeConfig(f); err == nil {
		out.Width, out.Height = cfg.Width, cfg.Height
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return Decoded{}, &OpenError{Path: path, Err: err}
	}
	out.Tags, out.TagErr = readTags(f, format)
	return out, nil
}

func readTags(f *os.File, format string) (Tags, error) {
	var (
		x   *exif.Exif
		raw []byte
		err error
	)
	switch format {
	case FormatJPEG:
		x, err = exif.Decode(f)
		if x != nil {
			raw = x.Raw
		}
	case FormatTIFF:
		raw, err = io.ReadAll(io.LimitReader(f, maxTIFFRaw))
		if err != nil {
			return nil, err
		}
		x, err = exif.Decode(bytes.NewReader(raw))
	default:
		// PNG(eXIf)/WebP(EXIF)/HEIF(Exif item)：在文件头部搜索内嵌的 TIFF 块。
		buf, rerr := io.ReadAll(io.LimitReader(f, maxEmbeddedScan))
		if rerr != nil {
			return nil, rerr
		}
		raw = findEmbeddedTIFF(buf)
		if raw == nil {
			return nil, fmt.Errorf("%s：未找到 EXIF 数据", format)
		}
		x, err = exif.Decode(bytes.NewReader(raw))
	}
	if x == nil {
		return nil, err
	}

	// 解析器失败时 goexif 仍返回已解析的部分，尽量保留。
	tags := Tags{}
	if werr := x.Walk(walker(tags)); werr != nil && err == nil {
		err = werr
	}
	readExtraExifTags(x, raw, tags)
	return tags, err
}

type walker Tags

func (w walker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if v, ok := convertTag(tag); ok {
		w[string(name)] = v
	}
	return nil
}

func convertTag(tag *tiff.Tag) (Tag, bool) {
	var v Tag
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return Tag{}, false
		}
		v.Str = strings.TrimRight(s, "\x00 ")
	case tiff.IntVal:
		for i := 0; i < int(tag.Count); i++ {
			n, err := tag.Int64(i)
			if err != nil {
				return Tag{}, false
			}
			v.Ints = append(v.Ints, n)
		}
	case tiff.RatVal:
		for i := 0; i < int(tag.Count); i++ {
			num, den, err := tag.Rat2(i)
			if err != nil {
				return Tag{}, false
			}
			v.Rats = append(v.Rats, Rat{Num: num, Den: den})
		}
	case tiff.FloatVal:
		for i := 0; i < int(tag.Count); i++ {
			fv, err := tag.Float(i)
			if err != nil {
				return Tag{}, false
			}
			v.Floats = append(v.Floats, fv)
		}
	default:
		return Tag{}, false
	}
	return v, true
}

// readExtraExifTags 从原始 TIFF 块里重新解析 Exif 子目录，补充 goexif 不认识的标签。
// 任何失败都只意味着这些标签缺失。
func readExtraExifTags(x *exif.Exif, raw []byte, tags Tags) {
	if len(raw) == 0 || x.Tiff == nil {
		return
	}
	ptr, err := x.Get(exif.ExifIFDPointer)
	if err != nil {
		return
	}
	off, err := ptr.Int64(0)
	if err != nil || off <= 0 || off >= int64(len(raw)) {
		return
	}
	r := bytes.NewReader(raw)
	if _, err := r.Seek(off, io.SeekStart); err != nil {
		return
	}
	dir, _, err := tiff.DecodeDir(r, byteOrder(raw))
	if err != nil {
		return
	}
	for _, tag := range dir.Tags {
		name, ok := extraExifTags[tag.Id]
		if !ok {
			continue
		}
		if v, ok := convertTag(tag); ok {
			tags[name] = v
		}
	}
}

func byteOrder(raw []byte) binary.ByteOrder {
	if bytes.HasPrefix(raw, []byte("MM")) {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// findEmbeddedTIFF 在容器字节中定位 EXIF 的 TIFF 头。
//
// 支持的形式：
// - "Exif\0\0" 前缀（HEIF Exif item、部分 WebP 写入器）
// - PNG eXIf chunk / WebP EXIF chunk：chunk 数据直接是 TIFF 头
func findEmbeddedTIFF(buf []byte) []byte {
	if i := bytes.Index(buf, []byte("Exif\x00\x00")); i >= 0 {
		rest := buf[i+6:]
		if isTIFFHeader(rest) {
			return rest
		}
	}
	for _, marker := range [][]byte{[]byte("eXIf"), []byte("EXIF")} {
		i := bytes.Index(buf, marker)
		if i < 0 {
			continue
		}
		// PNG：type 之后紧跟数据；WebP：type 之后是 4 字节长度。
		for _, skip := range []int{4, 8} {
			if j := i + skip; j < len(buf) && isTIFFHeader(buf[j:]) {
				return buf[j:]
			}
		}
	}
	return nil
}

func isTIFFHeader(b []byte) bool {
	return bytes.HasPrefix(b, []byte("II*\x00")) || bytes.HasPrefix(b, []byte("MM\x00*"))
}
