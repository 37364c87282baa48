package extract

import (
	"errors"
	"fmt"
)

// ErrUnsupported 表示容器格式无法识别（内容嗅探失败）。
var ErrUnsupported = errors.New("unsupported format")

// OpenError 表示文件无法打开或读取。
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("无法打开 %q：%v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// Rat 是 EXIF 有理数。
type Rat struct {
	Num int64
	Den int64
}

// Float 返回有理数的浮点值；分母为 0 时 ok=false。
func (r Rat) Float() (float64, bool) {
	if r.Den == 0 {
		return 0, false
	}
	return float64(r.Num) / float64(r.Den), true
}

// Tag 是与具体解码库无关的标签值：只填充与其类型对应的字段。
type Tag struct {
	Str    string
	Ints   []int64
	Rats   []Rat
	Floats []float64
}

// Tags 是标签名到值的只读字典（名称采用 EXIF 规范名，例如 DateTimeOriginal）。
type Tags map[string]Tag

// String 返回字符串标签；不存在或为空时 ok=false。
func (t Tags) String(name string) (string, bool) {
	v, ok := t[name]
	if !ok || v.Str == "" {
		return "", false
	}
	return v.Str, true
}

// Rats 返回有理数数组标签。
func (t Tags) Rats(name string) ([]Rat, bool) {
	v, ok := t[name]
	if !ok || len(v.Rats) == 0 {
		return nil, false
	}
	return v.Rats, true
}

// Int 返回整数标签的第一个值。
func (t Tags) Int(name string) (int64, bool) {
	v, ok := t[name]
	if !ok || len(v.Ints) == 0 {
		return 0, false
	}
	return v.Ints[0], true
}

// Decoded 是一次容器解码的结果。
//
// 约束：
// - Format 非空（无法识别时 Decode 必须返回 ErrUnsupported）
// - Width/Height 为 0 表示未知
// - TagErr 非空表示标签字典缺失/损坏：不是致命错误
type Decoded struct {
	Format string
	Width  int
	Height int
	Tags   Tags
	TagErr error
}

// Codec 是叶子解码器的窄接口：容器嗅探 + 尺寸 + 标签字典。
type Codec interface {
	Decode(path string) (Decoded, error)
}
