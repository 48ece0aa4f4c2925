package logo

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"
	"unicode"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const defaultPlaceholderSize = 256

// Backgrounds dark enough that the white label stays readable.
var placeholderPalette = []color.RGBA{
	{R: 0x26, G: 0x32, B: 0x38, A: 0xFF},
	{R: 0x37, G: 0x47, B: 0x4F, A: 0xFF},
	{R: 0x4E, G: 0x34, B: 0x2E, A: 0xFF},
	{R: 0x1B, G: 0x5E, B: 0x20, A: 0xFF},
	{R: 0x0D, G: 0x47, B: 0xA1, A: 0xFF},
	{R: 0x4A, G: 0x14, B: 0x8C, A: 0xFF},
	{R: 0x88, G: 0x0E, B: 0x4F, A: 0xFF},
	{R: 0xBF, G: 0x36, B: 0x0C, A: 0xFF},
}

// Placeholder renders a stand-in tile: the channel's initials (or its number
// when the name yields none) on a background derived from the name, so a
// channel keeps the same tile across restarts.
func Placeholder(name string, number int, size int) *Logo {
	if size <= 0 {
		size = defaultPlaceholderSize
	}

	label := placeholderLabel(name, number)
	bg := placeholderPalette[hashName(name)%uint32(len(placeholderPalette))]

	// Render at glyph scale, then upscale with a hard-edged kernel so the
	// bitmap font stays crisp instead of blurring.
	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()
	side := max(textWidth+14, 27)

	small := image.NewRGBA(image.Rect(0, 0, side, side))
	draw.Draw(small, small.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  small,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P((side-textWidth)/2, (side-face.Height)/2+face.Ascent),
	}
	drawer.DrawString(label)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), small, small.Bounds(), xdraw.Src, nil)

	var buf bytes.Buffer
	_ = png.Encode(&buf, dst)
	return &Logo{ContentType: "image/png", Data: buf.Bytes()}
}

func placeholderLabel(name string, number int) string {
	if initials := nameInitials(name); initials != "" {
		return initials
	}
	if number > 0 {
		return strconv.Itoa(number)
	}
	return "TV"
}

// nameInitials takes the first letter of up to three words. A single-word
// name contributes its first two letters.
func nameInitials(name string) string {
	words := strings.Fields(name)
	letters := make([]rune, 0, 3)
	for _, word := range words {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				letters = append(letters, unicode.ToUpper(r))
				break
			}
		}
		if len(letters) == 3 {
			break
		}
	}
	if len(letters) == 1 {
		runes := []rune(words[0])
		if len(runes) > 1 && (unicode.IsLetter(runes[1]) || unicode.IsDigit(runes[1])) {
			letters = append(letters, unicode.ToUpper(runes[1]))
		}
	}
	return string(letters)
}

func hashName(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
