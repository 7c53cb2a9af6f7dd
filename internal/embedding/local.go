package embedding

import (
	"context"
	"math"
)

// dctSize is the side of the grayscale thumbnail the local descriptor is
// computed from.
const dctSize = 32

// LocalProvider derives a deterministic descriptor from the low-frequency
// DCT coefficients of the image. It does no face detection: a featureless
// image counts as "no face" and everything else as one face. Meant for
// development and demos without an embedding server.
type LocalProvider struct {
	dim int
}

// NewLocalProvider creates a local provider producing dim-length vectors.
func NewLocalProvider(dim int) *LocalProvider {
	if dim <= 0 {
		dim = 128
	}
	if dim > dctSize*dctSize-1 {
		dim = dctSize*dctSize - 1
	}
	return &LocalProvider{dim: dim}
}

func (p *LocalProvider) Name() string { return "local" }

// Embed returns the unit-normalized zigzag DCT coefficients of the image.
func (p *LocalProvider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindProviderUnavailable, Err: err}
	}
	img, _, err := decodeImage(image)
	if err != nil {
		return nil, err
	}

	coeffs := zigzag(dct2(grayscale(img, dctSize)), p.dim)

	var norm float64
	for _, c := range coeffs {
		norm += c * c
	}
	norm = math.Sqrt(norm)
	// Anything below this is a flat image with no structure to describe.
	if norm < 1e-6 {
		return nil, newError(KindNoFace, "image has no detail")
	}

	vec := make([]float32, p.dim)
	for i, c := range coeffs {
		vec[i] = float32(c / norm)
	}
	return vec, nil
}
