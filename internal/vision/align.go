package vision

import (
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// arcFaceTemplate holds the canonical 5-point landmark positions of a
// 112x112 ArcFace input.
var arcFaceTemplate = [5][2]float64{
	{38.2946, 51.6963},
	{73.5318, 51.5014},
	{56.0252, 71.7366},
	{41.5493, 92.3655},
	{70.7299, 92.2041},
}

// similarityTransform returns the least-squares similarity transform
// (rotation, uniform scale, translation) mapping src onto dst, as an affine
// matrix in x/image/draw's src-to-dst layout. ok is false when src
// points are degenerate.
func similarityTransform(src, dst [5][2]float64) (m f64.Aff3, ok bool) {
	var msx, msy, mdx, mdy float64
	for i := 0; i < 5; i++ {
		msx += src[i][0]
		msy += src[i][1]
		mdx += dst[i][0]
		mdy += dst[i][1]
	}
	msx, msy, mdx, mdy = msx/5, msy/5, mdx/5, mdy/5

	var num1, num2, den float64
	for i := 0; i < 5; i++ {
		px, py := src[i][0]-msx, src[i][1]-msy
		qx, qy := dst[i][0]-mdx, dst[i][1]-mdy
		num1 += px*qx + py*qy
		num2 += px*qy - py*qx
		den += px*px + py*py
	}
	if den < 1e-9 {
		return m, false
	}
	a, b := num1/den, num2/den
	tx := mdx - (a*msx - b*msy)
	ty := mdy - (b*msx + a*msy)

	return f64.Aff3{a, -b, tx, b, a, ty}, true
}

// AlignFace warps img so the detection's landmarks land on the ArcFace
// template at size x size. Falls back to a padded bbox crop when the
// landmarks are degenerate.
func AlignFace(img image.Image, det Detection, size int) image.Image {
	scale := float64(size) / 112.0
	var src, dst [5][2]float64
	for i := 0; i < 5; i++ {
		src[i] = [2]float64{float64(det.Landmarks[i][0]), float64(det.Landmarks[i][1])}
		dst[i] = [2]float64{arcFaceTemplate[i][0] * scale, arcFaceTemplate[i][1] * scale}
	}

	m, ok := similarityTransform(src, dst)
	if !ok {
		crop := cropFace(img, det.BBox)
		if crop == nil {
			return nil
		}
		return resizeImage(crop, size, size)
	}

	out := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Transform(out, m, img, img.Bounds(), draw.Src, nil)
	return out
}
