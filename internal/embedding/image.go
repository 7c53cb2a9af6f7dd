package embedding

import (
	"bytes"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// maxUploadSize is the longest side sent to the embedding server.
const maxUploadSize = 1024

// decodeImage decodes any registered format, reporting failures as KindDecode.
func decodeImage(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", newError(KindDecode, "empty image")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", newError(KindDecode, "failed to decode image: %v", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, "", newError(KindDecode, "image has no pixels")
	}
	return img, format, nil
}

// fitImage shrinks img to fit within maxSize while keeping aspect ratio and
// returns JPEG bytes. Images already small enough are returned unchanged.
func fitImage(data []byte, img image.Image, maxSize int) ([]byte, error) {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width <= maxSize && height <= maxSize {
		return data, nil
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxSize
		newHeight = max(1, int(float64(height)*float64(maxSize)/float64(width)))
	} else {
		newHeight = maxSize
		newWidth = max(1, int(float64(width)*float64(maxSize)/float64(height)))
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, newError(KindDecode, "failed to encode resized image: %v", err)
	}
	return buf.Bytes(), nil
}

// grayscale scales img to size x size and returns luma values indexed [x][y].
func grayscale(img image.Image, size int) [][]float64 {
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	gray := make([][]float64, size)
	for x := range size {
		gray[x] = make([]float64, size)
		for y := range size {
			r, g, b, _ := dst.At(x, y).RGBA()
			// ITU-R BT.601 luma formula.
			gray[x][y] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return gray
}

// dct2 computes the 2D DCT-II of a square matrix.
func dct2(gray [][]float64) [][]float64 {
	size := len(gray)
	cosTable := make([][]float64, size)
	for i := range cosTable {
		cosTable[i] = make([]float64, size)
		for j := range size {
			cosTable[i][j] = math.Cos(math.Pi * float64(i) * (2*float64(j) + 1) / (2 * float64(size)))
		}
	}

	// Separable: rows first, then columns.
	tmp := make([][]float64, size)
	for u := range size {
		tmp[u] = make([]float64, size)
		for y := range size {
			var sum float64
			for x := range size {
				sum += gray[x][y] * cosTable[u][x]
			}
			tmp[u][y] = sum
		}
	}
	out := make([][]float64, size)
	for u := range size {
		out[u] = make([]float64, size)
		for v := range size {
			var sum float64
			for y := range size {
				sum += tmp[u][y] * cosTable[v][y]
			}
			out[u][v] = sum
		}
	}
	return out
}

// zigzag returns the first n coefficients of m in zigzag order, skipping DC.
func zigzag(m [][]float64, n int) []float64 {
	size := len(m)
	out := make([]float64, 0, n)
	for s := 0; s < 2*size-1 && len(out) < n; s++ {
		for i := range s + 1 {
			u, v := i, s-i
			if s%2 == 0 {
				u, v = s-i, i
			}
			if u >= size || v >= size || (u == 0 && v == 0) {
				continue
			}
			out = append(out, m[u][v])
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// GIF: 47 49 46 38
	if data[0] == 0x47 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x38 {
		return "image/gif"
	}
	// BMP: 42 4D
	if data[0] == 0x42 && data[1] == 0x4D {
		return "image/bmp"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
