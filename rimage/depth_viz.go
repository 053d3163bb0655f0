package rimage

import (
	"image"
	"math"
)

// ToGray16 renders the depth map for inspection: valid depths are mapped
// linearly onto the 16-bit gray range between the map's own min and max, and
// empty pixels stay black. Nearer surfaces render brighter.
func (dm *DepthMap) ToGray16() *image.Gray16 {
	minD, maxD := math.Inf(1), math.Inf(-1)
	for _, d := range dm.data {
		if math.IsInf(d, 1) {
			continue
		}
		if d < minD {
			minD = d
		}
		if d > maxD {
			maxD = d
		}
	}
	img := image.NewGray16(image.Rect(0, 0, dm.width, dm.height))
	if minD > maxD {
		return img
	}
	span := maxD - minD
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			d := dm.GetDepth(x, y)
			if math.IsInf(d, 1) {
				continue
			}
			v := uint16(math.MaxUint16)
			if span > 0 {
				v = uint16((1 - (d-minD)/span) * math.MaxUint16)
			}
			i := img.PixOffset(x, y)
			img.Pix[i] = uint8(v >> 8)
			img.Pix[i+1] = uint8(v)
		}
	}
	return img
}
