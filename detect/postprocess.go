package detect

import (
	"sort"

	"github.com/shelfsight/edge-vision/images"
	"github.com/shelfsight/edge-vision/tracking"
)

// outputCells returns the number of anchor cells a YOLOv8-style head emits
// for a square input: one cell per position at strides 8, 16 and 32.
// For a 640 input this is 6400 + 1600 + 400 = 8400.
func outputCells(inputSize int) int {
	s8 := inputSize / 8
	s16 := inputSize / 16
	s32 := inputSize / 32
	return s8*s8 + s16*s16 + s32*s32
}

// decodeOutput converts the raw model output into predictions in source-frame
// pixel coordinates.
//
// The output layout is [4+numClasses][cells]: four box rows (center x,
// center y, width, height in input-size pixels) followed by one per-class
// score row. For each cell the best class is taken; cells below the
// confidence threshold are skipped. Box coordinates are scaled from the model
// input square back to the original frame size.
func decodeOutput(output []float32, inputSize, srcWidth, srcHeight int, confidence float32) []tracking.Prediction {
	cells := outputCells(inputSize)
	numClasses := len(output)/cells - 4
	if numClasses <= 0 {
		return nil
	}
	if numClasses > NumClasses() {
		numClasses = NumClasses()
	}

	predictions := make([]tracking.Prediction, 0, 16)
	sx := float32(srcWidth) / float32(inputSize)
	sy := float32(srcHeight) / float32(inputSize)

	for idx := 0; idx < cells; idx++ {
		// Pick the class with the highest score for this cell.
		classID := 0
		best := float32(-1)
		for c := 0; c < numClasses; c++ {
			if score := output[cells*(c+4)+idx]; score > best {
				best = score
				classID = c
			}
		}
		if best < confidence {
			continue
		}

		xc, yc := output[idx], output[cells+idx]
		w, h := output[2*cells+idx], output[3*cells+idx]
		predictions = append(predictions, tracking.Prediction{
			ClassName:  ClassName(classID),
			Confidence: best,
			Box: images.Rect{
				X1: int((xc - w/2) * sx),
				Y1: int((yc - h/2) * sy),
				X2: int((xc + w/2) * sx),
				Y2: int((yc + h/2) * sy),
			},
		})
	}
	return predictions
}

// applyNMS filters overlapping detections with greedy, class-aware
// Non-Maximum Suppression. The input is sorted by confidence in place;
// for each surviving box, lower-scored same-class boxes overlapping above
// the IoU threshold are suppressed.
func applyNMS(predictions []tracking.Prediction, iouThreshold float32) []tracking.Prediction {
	n := len(predictions)
	if n == 0 {
		return nil
	}

	sort.SliceStable(predictions, func(a, b int) bool {
		return predictions[a].Confidence > predictions[b].Confidence
	})

	used := make([]bool, n)
	filtered := make([]tracking.Prediction, 0, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}
		filtered = append(filtered, predictions[i])
		for j := i + 1; j < n; j++ {
			if used[j] || predictions[i].ClassName != predictions[j].ClassName {
				continue
			}
			if images.CalculateIoU(predictions[i].Box, predictions[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}
	return filtered
}

// filterClasses drops predictions whose label is not in the allow-set.
// A nil set keeps everything.
func filterClasses(predictions []tracking.Prediction, allowed map[string]bool) []tracking.Prediction {
	if allowed == nil {
		return predictions
	}
	kept := predictions[:0]
	for _, p := range predictions {
		if allowed[p.ClassName] {
			kept = append(kept, p)
		}
	}
	return kept
}
