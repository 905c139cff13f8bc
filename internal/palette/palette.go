// Package palette assigns colors to subjects and topics.
//
// Every subject gets a base color from a fixed palette; topics within a
// subject get shade variations derived from that base. Both assignments
// are deterministic and stable: a subject is never recolored once
// mapped, and shade derivation is a pure function of (base, index,
// count) so repeated saves of the same topic set never jitter.
package palette

import (
	"fmt"
	"math"
	"strings"
)

// basePalette holds 16 maximally-distinct base colors. New subjects take
// the first unused entry; when all 16 are in use assignment cycles with
// modulo.
var basePalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
	"#bcf60c", "#fabebe", "#008080", "#e6beff",
	"#9a6324", "#fffac8", "#800000", "#aaffc3",
}

// Lightness bounds for derived shades. Shades outside this band lose
// too much contrast against card text.
const (
	minLightness = 0.30
	maxLightness = 0.70
)

// AssignSubjectColor returns the color for a subject. An existing
// mapping is returned unchanged; otherwise the next unused palette
// entry is chosen. The caller owns extending the map.
func AssignSubjectColor(subject string, existing map[string]string) string {
	if c, ok := existing[subject]; ok && c != "" {
		return c
	}

	used := make(map[string]bool, len(existing))
	for _, c := range existing {
		used[strings.ToLower(c)] = true
	}
	for _, c := range basePalette {
		if !used[c] {
			return c
		}
	}
	// Palette exhausted: cycle by how many subjects are already mapped.
	return basePalette[len(existing)%len(basePalette)]
}

// DeriveTopicShades produces count visually-distinct variants of a base
// color, one per topic. Derivation is deterministic in (base, index,
// count): small hue rotations spread around the base hue plus a bounded
// lightness dither.
func DeriveTopicShades(base string, count int) []string {
	if count <= 0 {
		return []string{}
	}

	h, s, l, ok := hexToHSL(base)
	if !ok {
		h, s, l = 0, 0.6, 0.5
	}

	dither := []float64{-0.08, 0.04, -0.04, 0.08}
	shades := make([]string, count)
	for i := 0; i < count; i++ {
		hue := math.Mod(h+float64(i)*12-float64(count-1)*6+720, 360)
		light := clamp(l+dither[i%len(dither)], minLightness, maxLightness)
		shades[i] = hslToHex(hue, s, light)
	}
	return shades
}

// TextColorFor returns black or white, whichever contrasts better with
// the given background color.
func TextColorFor(bg string) string {
	r, g, b, ok := hexToRGB(bg)
	if !ok {
		return "#000000"
	}
	// Perceived luminance (ITU-R BT.601 weights).
	lum := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	if lum > 140 {
		return "#000000"
	}
	return "#ffffff"
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func hexToRGB(hex string) (r, g, b int, ok bool) {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		return 0, 0, 0, false
	}
	return r, g, b, true
}

func hexToHSL(hex string) (h, s, l float64, ok bool) {
	ri, gi, bi, ok := hexToRGB(hex)
	if !ok {
		return 0, 0, 0, false
	}
	r := float64(ri) / 255
	g := float64(gi) / 255
	b := float64(bi) / 255

	maxC := math.Max(r, math.Max(g, b))
	minC := math.Min(r, math.Min(g, b))
	l = (maxC + minC) / 2

	if maxC == minC {
		return 0, 0, l, true
	}

	d := maxC - minC
	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}

	switch maxC {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h *= 60
	return h, s, l, true
}

func hslToHex(h, s, l float64) string {
	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToRGB(p, q, h/360+1.0/3)
		g = hueToRGB(p, q, h/360)
		b = hueToRGB(p, q, h/360-1.0/3)
	}
	return fmt.Sprintf("#%02x%02x%02x",
		int(math.Round(r*255)), int(math.Round(g*255)), int(math.Round(b*255)))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
