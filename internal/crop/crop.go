// Package crop derives a tightly bounded component image from a raw
// full-viewport screenshot. The raw image is always captured at physical
// resolution, so the target's viewport rect is scaled by the device pixel
// ratio before clamping into the image bounds.
package crop

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	"github.com/uiforensics/elementcap/internal/protocol"
)

// Result is the cropped image plus its physical pixel dimensions.
type Result struct {
	PNG    []byte
	Width  int
	Height int
}

// Crop cuts the scaled, clamped target region out of a raw PNG screenshot.
// Targets partially outside the viewport yield a smaller-than-requested
// crop; a fully off-screen target fails with a typed CROP_EMPTY error so
// the operator can scroll it into view and reselect.
func Crop(rawPNG []byte, viewport protocol.Rect, dpr float64) (Result, error) {
	if dpr <= 0 {
		dpr = 1
	}

	src, err := png.Decode(bytes.NewReader(rawPNG))
	if err != nil {
		return Result{}, protocol.NewError(protocol.CodeCaptureFailed, "decode raw screenshot", err)
	}
	bounds := src.Bounds()
	imgW := bounds.Dx()
	imgH := bounds.Dy()

	region := Clamp(viewport, dpr, imgW, imgH)
	if region.Empty() {
		return Result{}, protocol.NewError(protocol.CodeCropEmpty,
			fmt.Sprintf("target region %gx%g at (%g,%g) lies outside the %dx%d screenshot",
				viewport.W, viewport.H, viewport.X, viewport.Y, imgW, imgH), nil)
	}

	dst := image.NewRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(dst, dst.Bounds(), src, region.Min.Add(bounds.Min), draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return Result{}, protocol.NewError(protocol.CodeCaptureFailed, "encode cropped image", err)
	}
	return Result{PNG: buf.Bytes(), Width: region.Dx(), Height: region.Dy()}, nil
}

// Clamp converts a logical viewport rect into a physical-pixel region that
// never exceeds the image bounds. Steps, in order: scale all four fields by
// the device pixel ratio, clamp the origin into [0,imgW]x[0,imgH], then
// clamp width and height against the remaining span. A zero-or-negative
// dimension comes back as an empty rectangle.
func Clamp(viewport protocol.Rect, dpr float64, imgW, imgH int) image.Rectangle {
	x := int(viewport.X * dpr)
	y := int(viewport.Y * dpr)
	w := int(viewport.W * dpr)
	h := int(viewport.H * dpr)

	x = clampInt(x, 0, imgW)
	y = clampInt(y, 0, imgH)
	if w > imgW-x {
		w = imgW - x
	}
	if h > imgH-y {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+w, y+h)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
