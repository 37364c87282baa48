package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func TestThumbnail_ScalesDownKeepingAspect(t *testing.T) {
	// 构造“左黑右白”的原图，验证缩放后仍保持左右分布。
	const (
		w = 800
		h = 400
	)
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < w/2 {
				src.Set(x, y, color.RGBA{0, 0, 0, 255})
			} else {
				src.Set(x, y, color.RGBA{255, 255, 255, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}

	out, err := Thumbnail(&buf, 200)
	if err != nil {
		t.Fatalf("Thumbnail 失败：%v", err)
	}
	got, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode 缩略图失败：%v", err)
	}
	gb := got.Bounds()
	if gb.Dx() != 200 || gb.Dy() != 100 {
		t.Fatalf("尺寸不符合预期：got=%dx%d want=200x100", gb.Dx(), gb.Dy())
	}

	c := color.RGBAModel.Convert(got.At(gb.Dx()*3/4, gb.Dy()/2)).(color.RGBA)
	if c.R < 200 || c.G < 200 || c.B < 200 {
		t.Fatalf("右侧应接近白色：%v", c)
	}
	c = color.RGBAModel.Convert(got.At(gb.Dx()/4, gb.Dy()/2)).(color.RGBA)
	if c.R > 50 || c.G > 50 || c.B > 50 {
		t.Fatalf("左侧应接近黑色：%v", c)
	}
}

func TestThumbnail_NoUpscale(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 30, 60))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}
	out, err := Thumbnail(&buf, 200)
	if err != nil {
		t.Fatalf("Thumbnail 失败：%v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode 失败：%v", err)
	}
	if cfg.Width != 30 || cfg.Height != 60 {
		t.Fatalf("小图不应放大：%dx%d", cfg.Width, cfg.Height)
	}
}

func TestThumbnail_Invalid(t *testing.T) {
	if _, err := Thumbnail(bytes.NewReader([]byte("not an image")), 100); err == nil {
		t.Fatalf("期望非图片输入返回错误")
	}
}

func TestFit(t *testing.T) {
	cases := []struct{ w, h, m, ww, wh int }{
		{4000, 3000, 240, 240, 180},
		{3000, 4000, 240, 180, 240},
		{100, 50, 240, 100, 50},
		{10000, 1, 240, 240, 1},
	}
	for _, c := range cases {
		if w, h := fit(c.w, c.h, c.m); w != c.ww || h != c.wh {
			t.Fatalf("fit(%d,%d,%d) 期望 %dx%d，实际 %dx%d", c.w, c.h, c.m, c.ww, c.wh, w, h)
		}
	}
}
