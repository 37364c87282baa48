package extract

import "bytes"

const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatGIF  = "gif"
	FormatTIFF = "tiff"
	FormatWebP = "webp"
	FormatHEIF = "heif"
	FormatAVIF = "avif"
	FormatBMP  = "bmp"
)

// SniffLen 是 Sniff 需要的最大头部长度。
const SniffLen = 64

// Sniff 通过魔数识别容器格式；无法识别时返回空串。
func Sniff(h []byte) string {
	switch {
	case len(h) >= 3 && h[0] == 0xFF && h[1] == 0xD8 && h[2] == 0xFF:
		return FormatJPEG
	case bytes.HasPrefix(h, []byte("\x89PNG\r\n\x1a\n")):
		return FormatPNG
	case bytes.HasPrefix(h, []byte("GIF87a")), bytes.HasPrefix(h, []byte("GIF89a")):
		return FormatGIF
	case bytes.HasPrefix(h, []byte("II*\x00")), bytes.HasPrefix(h, []byte("MM\x00*")):
		return FormatTIFF
	case len(h) >= 12 && bytes.Equal(h[:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WEBP")):
		return FormatWebP
	case bytes.HasPrefix(h, []byte("BM")) && len(h) >= 14:
		return FormatBMP
	case len(h) >= 12 && bytes.Equal(h[4:8], []byte("ftyp")):
		return sniffFtyp(h)
	}
	return ""
}

// sniffFtyp 识别 ISO-BMFF 系列（HEIF/HEIC/AVIF）。
func sniffFtyp(h []byte) string {
	major := string(h[8:12])
	switch major {
	case "avif", "avis":
		return FormatAVIF
	case "heic", "heix", "hevc", "hevx", "heim", "heis":
		return FormatHEIF
	case "mif1", "msf1":
		// 通用 brand：看 compatible brands 是否声明 avif。
		if bytes.Contains(h[12:], []byte("avif")) {
			return FormatAVIF
		}
		return FormatHEIF
	}
	return ""
}
