// Package normalize 把与提供商无关的请求字段映射为各提供商接受的形式：
// 尺寸枚举、像素对，以及内联或远程图片引用。
package normalize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size 是显式像素对。
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String 渲染为 WxH，即 Ark size 字段接受的形式。
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseRatio 解析 "16:9"、"16x9"、"16/9" 这类比例并约分。
func ParseRatio(token string) (w, h int, ok bool) {
	token = strings.TrimSpace(strings.ToLower(token))
	if token == "" {
		return 0, 0, false
	}
	sep := strings.IndexAny(token, ":x/")
	if sep <= 0 || sep == len(token)-1 {
		return 0, 0, false
	}
	w, err1 := strconv.Atoi(strings.TrimSpace(token[:sep]))
	h, err2 := strconv.Atoi(strings.TrimSpace(token[sep+1:]))
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, false
	}
	g := gcd(w, h)
	return w / g, h / g, true
}

// CanonicalRatio 返回约分后的 "W:H"，无法解析时返回空串。
func CanonicalRatio(token string) string {
	w, h, ok := ParseRatio(token)
	if !ok {
		return ""
	}
	return strconv.Itoa(w) + ":" + strconv.Itoa(h)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// PixelTable 把比例映射为像素对，未知比例映射为默认值。
type PixelTable struct {
	def     Size
	entries map[string]Size
}

// NewPixelTable 创建 PixelTable，键会规范化。
func NewPixelTable(def Size, entries map[string]Size) PixelTable {
	t := PixelTable{def: def, entries: make(map[string]Size, len(entries))}
	for k, v := range entries {
		if c := CanonicalRatio(k); c != "" {
			t.entries[c] = v
		}
	}
	return t
}

// Lookup 返回 ratio 对应的像素对。
func (t PixelTable) Lookup(ratio string) Size {
	if s, ok := t.entries[CanonicalRatio(ratio)]; ok {
		return s
	}
	return t.def
}

// Default 返回兜底像素对。
func (t PixelTable) Default() Size {
	return t.def
}

// BucketTable 把比例映射为具名尺寸档位，未知比例映射为默认值。
type BucketTable struct {
	def     string
	entries map[string]string
}

// NewBucketTable 创建 BucketTable，键会规范化，值按字面返回。
func NewBucketTable(def string, entries map[string]string) BucketTable {
	t := BucketTable{def: def, entries: make(map[string]string, len(entries))}
	for k, v := range entries {
		if c := CanonicalRatio(k); c != "" {
			t.entries[c] = v
		}
	}
	return t
}

// Lookup 返回 ratio 对应的档位名。
func (t BucketTable) Lookup(ratio string) string {
	if s, ok := t.entries[CanonicalRatio(ratio)]; ok {
		return s
	}
	return t.def
}

// Default 返回兜底档位。
func (t BucketTable) Default() string {
	return t.def
}

// VolcPixels 是火山视觉接口与 Ark 图像接口共用的像素表。
var VolcPixels = NewPixelTable(Size{Width: 2048, Height: 2048}, map[string]Size{
	"1:1":  {Width: 2048, Height: 2048},
	"16:9": {Width: 2560, Height: 1440},
	"9:16": {Width: 1440, Height: 2560},
	"4:3":  {Width: 2304, Height: 1728},
	"3:4":  {Width: 1728, Height: 2304},
	"3:2":  {Width: 2496, Height: 1664},
	"2:3":  {Width: 1664, Height: 2496},
	"21:9": {Width: 3024, Height: 1296},
})

// FalBuckets 是 fal 的 image_size 枚举。
var FalBuckets = NewBucketTable("square_hd", map[string]string{
	"16:9": "landscape_16_9",
	"9:16": "portrait_16_9",
	"1:1":  "square_hd",
	"4:3":  "landscape_4_3",
	"3:4":  "portrait_4_3",
})

// FalVideoRatios 是 fal 视频模型接受的 aspect_ratio 字面值。未收录的比例返回空串，由模型取默认值。
var FalVideoRatios = NewBucketTable("", map[string]string{
	"16:9": "16:9",
	"9:16": "9:16",
	"1:1":  "1:1",
	"4:3":  "4:3",
	"3:4":  "3:4",
	"21:9": "21:9",
})

// KlingRatios 列出可灵接受的 aspect_ratio 值。
var KlingRatios = NewBucketTable("1:1", map[string]string{
	"16:9": "16:9",
	"9:16": "9:16",
	"1:1":  "1:1",
	"4:3":  "4:3",
	"3:4":  "3:4",
	"3:2":  "3:2",
	"2:3":  "2:3",
	"21:9": "21:9",
})
