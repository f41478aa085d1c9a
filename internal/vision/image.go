package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	// Registered decoders for reference photos.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

// DecodeImage decodes any registered format (jpeg, png, gif, bmp, webp).
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// LoadImage reads and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeImage(f)
}

func preprocessForDetection(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{128.0, 128.0, 128.0})
}

func preprocessForEmbedding(img image.Image, targetW, targetH int) []float32 {
	return imageToFloat32CHW(img, targetW, targetH, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW converts an image to CHW float32 format with normalization:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	rgba := resizeImage(img, targetW, targetH)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < targetW; x++ {
			px := row[x*4:]
			idx := y*targetW + x
			data[idx] = (float32(px[0]) - mean[0]) / std[0]
			data[plane+idx] = (float32(px[1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(px[2]) - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage scales img to exactly targetW x targetH with bilinear filtering.
func resizeImage(img image.Image, targetW, targetH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Dx() == targetW && rgba.Bounds().Dy() == targetH && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cropFace extracts the bbox region padded by 10% on each side.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1, x2, y2 := int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])
	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW, padH := w/10, h/10
	r := image.Rect(x1-padW, y1-padH, x2+padW, y2+padH).Intersect(bounds)
	if r.Empty() {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}

// EncodeJPEG encodes an image as JPEG with the given quality.
func EncodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// FaceSnapshot crops bbox with padding and encodes it as JPEG. It returns
// nil when the box lies outside img.
func FaceSnapshot(img image.Image, bbox [4]float32, quality int) []byte {
	face := cropFace(img, bbox)
	if face == nil {
		return nil
	}
	return EncodeJPEG(face, quality)
}
