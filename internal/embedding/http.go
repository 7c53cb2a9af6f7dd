package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

const defaultEmbeddingURL = "http://localhost:8000"

// HTTPProvider calls the face embedding server's /embed/face endpoint.
type HTTPProvider struct {
	baseURL string
	dim     int
	client  *http.Client
}

// NewHTTPProvider creates a client for the embedding server. dim, when
// positive, is checked against every returned embedding.
func NewHTTPProvider(baseURL string, dim int) *HTTPProvider {
	if baseURL == "" {
		baseURL = defaultEmbeddingURL
	}
	return &HTTPProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{},
	}
}

// FaceDetection represents a single detected face
type FaceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	BBox      []float64 `json:"bbox"` // [x1, y1, x2, y2]
	DetScore  float64   `json:"det_score"`
}

// FaceResponse represents the response from the face embedding endpoint
type FaceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []FaceDetection `json:"faces"`
	Model      string          `json:"model"`
}

func (p *HTTPProvider) Name() string { return "http" }

// Embed validates and downsizes the image locally, then asks the server for
// face embeddings. Exactly one face must be found; overlapping detections
// of the same face count once.
func (p *HTTPProvider) Embed(ctx context.Context, image []byte) ([]float32, error) {
	img, _, err := decodeImage(image)
	if err != nil {
		return nil, err
	}
	upload, err := fitImage(image, img, maxUploadSize)
	if err != nil {
		return nil, err
	}

	body, err := p.postMultipartImage(ctx, "/embed/face", upload)
	if err != nil {
		return nil, err
	}

	var faceResp FaceResponse
	if err := json.Unmarshal(body, &faceResp); err != nil {
		return nil, newError(KindProviderUnavailable, "failed to parse response: %v", err)
	}

	faces := distinctFaces(faceResp.Faces)
	switch {
	case len(faces) == 0:
		return nil, newError(KindNoFace, "no face detected")
	case len(faces) > 1:
		return nil, newError(KindMultipleFaces, "%d faces detected", len(faces))
	}

	vec := faces[0].Embedding
	if len(vec) == 0 {
		return nil, newError(KindProviderUnavailable, "empty embedding returned")
	}
	if p.dim > 0 && len(vec) != p.dim {
		return nil, newError(KindProviderUnavailable, "embedding has %d dimensions, expected %d", len(vec), p.dim)
	}
	return vec, nil
}

// postMultipartImage posts the image as the "file" form field with an
// explicit Content-Type based on magic byte detection.
func (p *HTTPProvider) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindProviderUnavailable, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &Error{Kind: KindProviderUnavailable, Err: err}
		}
		return nil, newError(KindProviderUnavailable, "failed to read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnsupportedMediaType,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, newError(KindDecode, "API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		return nil, newError(KindProviderUnavailable, "API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
