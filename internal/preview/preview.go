package preview

import (
	"bytes"
	"encoding/base64"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/John-Robertt/photomc/internal/domain"
	"github.com/John-Robertt/photomc/internal/infra/fsx"
)

// SkippedSection 是跳过动作所在分组的标题。
const SkippedSection = "(skipped)"

// Key 是预览页中一条记录的身份；用于判断已有预览是否与计划一致。
type Key struct {
	Source      string
	Destination string
	Kind        string
}

type entry struct {
	Key
	Name   string
	Reason string
	Flags  []string
	Thumb  template.URL
}

type section struct {
	Dir     string
	Entries []entry
}

type page struct {
	DestRoot string
	Mode     string
	Total    int
	Sections []section
}

// ThumbFunc 为源文件生成 JPEG 缩略图；返回错误时该条目不带缩略图。
type ThumbFunc func(path string) ([]byte, error)

// Options 控制 Write 的行为。
type Options struct {
	// Force 为 true 时即使已有预览内容相同也重新生成。
	Force bool
	Thumb ThumbFunc
}

// Write 把计划渲染为静态 HTML 预览并写到 path。
//
// 已有文件列出的条目与计划完全一致且未指定 Force 时不重写，返回 written=false。
func Write(path string, p domain.Plan, opts Options) (written bool, err error) {
	if !opts.Force {
		if f, err := os.Open(path); err == nil {
			keys, rerr := ReadKeys(f)
			_ = f.Close()
			if rerr == nil && sameKeys(keys, Keys(p)) {
				log.Debug().Str("path", path).Msg("预览未变化，跳过")
				return false, nil
			}
		}
	}
	b, err := Render(p, opts.Thumb)
	if err != nil {
		return false, err
	}
	if err := fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), b); err != nil {
		return false, err
	}
	return true, nil
}

// Render 生成 HTML：按目标目录分组，组与组内条目都按路径排序。
func Render(p domain.Plan, thumb ThumbFunc) ([]byte, error) {
	bySection := map[string][]entry{}
	for _, a := range p.Actions {
		e := entry{
			Key:    Key{Source: a.Source, Destination: a.Destination, Kind: string(a.Kind)},
			Name:   filepath.Base(a.Source),
			Reason: a.Reason,
			Flags:  a.Flags,
		}
		dir := SkippedSection
		if !a.Kind.IsSkip() {
			dir = relDir(p.DestRoot, a.Destination)
			e.Name = filepath.Base(a.Destination)
			if thumb != nil {
				if b, err := thumb(a.Source); err == nil {
					e.Thumb = template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(b))
				} else {
					log.Debug().Err(err).Str("path", a.Source).Msg("缩略图生成失败")
				}
			}
		}
		bySection[dir] = append(bySection[dir], e)
	}

	pg := page{DestRoot: p.DestRoot, Mode: p.Mode, Total: len(p.Actions)}
	for dir, es := range bySection {
		sort.Slice(es, func(i, j int) bool {
			if es[i].Destination != es[j].Destination {
				return es[i].Destination < es[j].Destination
			}
			return es[i].Source < es[j].Source
		})
		pg.Sections = append(pg.Sections, section{Dir: dir, Entries: es})
	}
	sort.Slice(pg.Sections, func(i, j int) bool {
		// 跳过分组固定放在最后。
		if (pg.Sections[i].Dir == SkippedSection) != (pg.Sections[j].Dir == SkippedSection) {
			return pg.Sections[j].Dir == SkippedSection
		}
		return pg.Sections[i].Dir < pg.Sections[j].Dir
	})

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, pg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadKeys 从已有预览中读回条目（li.entry 的 data-* 属性）。
func ReadKeys(r io.Reader) ([]Key, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	keys := make([]Key, 0)
	doc.Find("li.entry").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("data-source")
		dst, _ := s.Attr("data-dest")
		kind, _ := s.Attr("data-kind")
		keys = append(keys, Key{Source: src, Destination: dst, Kind: kind})
	})
	sortKeys(keys)
	return keys, nil
}

// Keys 返回计划对应的条目集合（已排序）。
func Keys(p domain.Plan) []Key {
	keys := make([]Key, 0, len(p.Actions))
	for _, a := range p.Actions {
		keys = append(keys, Key{Source: a.Source, Destination: a.Destination, Kind: string(a.Kind)})
	}
	sortKeys(keys)
	return keys
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Source < keys[j].Source })
}

func sameKeys(a, b []Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func relDir(root, dest string) string {
	dir := filepath.Dir(dest)
	if rel, err := filepath.Rel(root, dir); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return dir
}

var pageTmpl = template.Must(template.New("preview").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>photomc plan: {{.DestRoot}}</title>
<style>
body { font-family: sans-serif; margin: 1.5em; }
ul { list-style: none; padding: 0; display: flex; flex-wrap: wrap; gap: 12px; }
li.entry { width: 260px; border: 1px solid #ddd; padding: 6px; font-size: 12px; word-break: break-all; }
li.entry img { max-width: 240px; max-height: 240px; display: block; }
.flags { color: #a60; }
.reason { color: #a00; }
</style>
</head>
<body>
<h1>{{.DestRoot}}</h1>
<p>mode: {{.Mode}}, files: {{.Total}}</p>
{{range .Sections}}<section>
<h2>{{.Dir}}</h2>
<ul>
{{range .Entries}}<li class="entry" data-source="{{.Source}}" data-dest="{{.Destination}}" data-kind="{{.Kind}}">
{{if .Thumb}}<img src="{{.Thumb}}" alt="{{.Name}}">{{end}}
<div class="name">{{.Name}}</div>
<div class="source">{{.Source}}</div>
{{if .Reason}}<div class="reason">{{.Kind}}: {{.Reason}}</div>{{end}}
{{if .Flags}}<div class="flags">{{range $i, $f := .Flags}}{{if $i}}, {{end}}{{$f}}{{end}}</div>{{end}}
</li>
{{end}}</ul>
</section>
{{end}}</body>
</html>
`))
