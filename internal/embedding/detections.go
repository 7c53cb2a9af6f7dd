package embedding

import "sort"

// duplicateOverlap is the IoU above which two detections are taken to be the
// same face reported twice by the detector.
const duplicateOverlap = 0.6

// iou computes intersection over union of two [x1, y1, x2, y2] boxes. Boxes
// of the wrong length or without area score 0.
func iou(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}

	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// distinctFaces drops detections that overlap a higher scoring one by more
// than duplicateOverlap. Detections without a box are always kept.
func distinctFaces(faces []FaceDetection) []FaceDetection {
	if len(faces) < 2 {
		return faces
	}
	sorted := append([]FaceDetection(nil), faces...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DetScore > sorted[j].DetScore })

	kept := sorted[:0]
	for _, f := range sorted {
		duplicate := false
		for _, k := range kept {
			if iou(f.BBox, k.BBox) > duplicateOverlap {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, f)
		}
	}
	return kept
}
