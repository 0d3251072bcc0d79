// Package wheel draws the three-pillar progress ring as a standalone SVG.
package wheel

import (
	"bytes"
	"math"
	"strconv"
	"text/template"
)

const (
	Radius      = 100.0
	center      = 110.0
	strokeWidth = 20
)

// Circumference of the ring, also used as the dash array length.
var Circumference = 2 * math.Pi * Radius

// Progress holds percentages in [0,100]; Render clamps anything outside.
type Progress struct {
	Spiritual float64 `json:"spiritual"`
	Mental    float64 `json:"mental"`
	Physical  float64 `json:"physical"`
}

type Segment struct {
	Pillar   string
	Color    string
	Offset   float64
	Rotation float64
}

// Segments lays the arcs out one after another: spiritual starts at the
// top, mental starts 30 degrees plus 1.2 degrees per spiritual percent,
// physical starts 150 degrees plus the same share of the first two.
func Segments(p Progress) []Segment {
	s, m, ph := clamp(p.Spiritual), clamp(p.Mental), clamp(p.Physical)
	return []Segment{
		{Pillar: "Spiritual", Color: "hsl(var(--chart-2, 142 71% 45%))", Offset: dashOffset(s), Rotation: -90},
		{Pillar: "Mental", Color: "hsl(var(--chart-3, 217 91% 60%))", Offset: dashOffset(m), Rotation: 30 + s*1.2},
		{Pillar: "Physical", Color: "hsl(var(--chart-4, 271 81% 56%))", Offset: dashOffset(ph), Rotation: 150 + s*1.2 + m*1.2},
	}
}

func Render(p Progress) ([]byte, error) {
	var buf bytes.Buffer
	err := svgTemplate.Execute(&buf, struct {
		Circumference float64
		Segments      []Segment
	}{Circumference: Circumference, Segments: Segments(p)})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func dashOffset(percent float64) float64 {
	return Circumference - percent/100*Circumference
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var svgTemplate = template.Must(template.New("wheel").Funcs(template.FuncMap{
	"num": num,
}).Parse(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 220 220" role="img" aria-label="Harmony progress">
  <circle cx="` + num(center) + `" cy="` + num(center) + `" r="` + num(Radius) + `" fill="none" stroke="hsl(var(--muted, 210 40% 96%))" stroke-width="` + strconv.Itoa(strokeWidth) + `"/>
{{- range .Segments}}
  <circle data-pillar="{{.Pillar}}" cx="110" cy="110" r="100" fill="none" stroke="{{.Color}}" stroke-width="20" stroke-dasharray="{{num $.Circumference}}" stroke-dashoffset="{{num .Offset}}" transform="rotate({{num .Rotation}} 110 110)"/>
{{- end}}
  <circle cx="110" cy="110" r="40" fill="hsl(var(--background, 0 0% 100%))" stroke="hsl(var(--primary, 262 83% 58%))" stroke-width="2" opacity="0.75"/>
  <text x="110" y="115" text-anchor="middle" fill="hsl(var(--foreground, 222 47% 11%))" font-size="16" font-weight="bold">Harmony</text>
</svg>
`))
