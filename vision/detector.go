// Package vision analyzes streamed camera frames for liveness indicators.
// It works on cheap whole-frame statistics (texture sharpness, skin tone
// ratio, inter-frame motion) and produces one verdict per frame plus a
// session level summary.
package vision

import (
	"image"
	"math"

	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/images"
	"github.com/ComputerGear/NeuroLock-AI-Powered-Biometric-Security-Locker/models"
)

type Config struct {
	// SkinPctMin is the minimum fraction of skin-tone pixels required to
	// consider that a face is present in the frame at all.
	SkinPctMin float64
	// LaplacianMin is the minimum sharpness variance below which a frame
	// is treated as a flat reproduction (print or screen replay).
	LaplacianMin float64
	// MotionMin is the minimum normalized inter-frame difference that
	// counts as natural movement.
	MotionMin float64
	// MinValidFrames is the number of face-bearing frames needed before
	// the session summary is meaningful.
	MinValidFrames int
	// PassConfidence is the 0-100 session confidence needed to pass.
	PassConfidence int
	// MaxSide bounds the analyzed resolution; larger frames are downscaled.
	MaxSide int
}

func DefaultConfig() Config {
	return Config{
		SkinPctMin:     0.08,
		LaplacianMin:   25.0,
		MotionMin:      0.012,
		MinValidFrames: 8,
		PassConfidence: 85,
		MaxSide:        320,
	}
}

// FrameMetrics are the raw per-frame measurements a verdict is derived from.
type FrameMetrics struct {
	FacePresent bool
	SkinPct     float64
	LapVar      float64
	Motion      float64
}

// Detector accumulates state for a single liveness session. Not safe for
// concurrent use; each socket owns one.
type Detector struct {
	cfg      Config
	prevGray *image.Gray
	history  []FrameMetrics
	frameSeq int

	bestFrame  image.Image
	bestLapVar float64
}

func NewDetector(cfg Config) *Detector {
	if cfg.MinValidFrames <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{cfg: cfg}
}

// AnalyzeFrame measures one frame and returns its verdict. Frames are
// assumed to arrive in capture order; motion is measured against the
// previous frame.
func (d *Detector) AnalyzeFrame(img image.Image) models.Verdict {
	d.frameSeq++

	scaled := images.Downscale(img, d.cfg.MaxSide)
	gray := images.ToGray(scaled)

	m := FrameMetrics{
		SkinPct: skinPercent(scaled),
		LapVar:  laplacianVariance(gray),
	}
	m.FacePresent = m.SkinPct >= d.cfg.SkinPctMin
	if d.prevGray != nil && d.prevGray.Bounds() == gray.Bounds() {
		m.Motion = meanAbsDiff(d.prevGray, gray)
	}
	d.prevGray = gray
	d.history = append(d.history, m)

	if m.FacePresent && m.LapVar > d.bestLapVar {
		d.bestLapVar = m.LapVar
		d.bestFrame = img
	}

	verdict := d.verdictFor(m)
	verdict.FrameSeq = d.frameSeq
	return verdict
}

func (d *Detector) verdictFor(m FrameMetrics) models.Verdict {
	if !m.FacePresent {
		return models.Verdict{
			Label:      models.VerdictUncertain,
			Confidence: 0.5,
			Status:     "no face detected, hold still in front of the camera",
		}
	}

	if m.LapVar < d.cfg.LaplacianMin {
		// flat texture: printed photo or screen replay
		conf := 0.6 + 0.4*(1.0-m.LapVar/d.cfg.LaplacianMin)
		return models.Verdict{
			Label:      models.VerdictSpoof,
			Confidence: clamp01(conf),
			Status:     "frame looks like a reproduction",
		}
	}

	conf := 0.5
	if m.Motion >= d.cfg.MotionMin {
		conf += 0.3
	}
	if m.SkinPct >= 2*d.cfg.SkinPctMin {
		conf += 0.2
	}
	return models.Verdict{
		Label:      models.VerdictLive,
		Confidence: clamp01(conf),
		Status:     "analyzing...",
	}
}

// FrameCount reports how many frames have been analyzed.
func (d *Detector) FrameCount() int {
	return d.frameSeq
}

// BestFrame returns the sharpest face-bearing frame seen so far, used for
// face matching after the liveness gate passes. Nil when no face was seen.
func (d *Detector) BestFrame() image.Image {
	return d.bestFrame
}

// Summary weighs the accumulated frame history into a final 0-100
// confidence plus the indicators that contributed to it.
func (d *Detector) Summary() (int, []string) {
	var valid []FrameMetrics
	for _, m := range d.history {
		if m.FacePresent {
			valid = append(valid, m)
		}
	}
	if len(valid) < d.cfg.MinValidFrames {
		return 0, []string{"too few valid frames"}
	}

	motionFrames := 0
	skinVals := make([]float64, 0, len(valid))
	lapVals := make([]float64, 0, len(valid))
	for _, m := range valid {
		if m.Motion >= d.cfg.MotionMin {
			motionFrames++
		}
		skinVals = append(skinVals, m.SkinPct)
		lapVals = append(lapVals, m.LapVar)
	}
	skinMed := median(skinVals)
	lapMed := median(lapVals)

	score := 0.0
	var reasons []string
	if motionFrames > 0 {
		score += 0.45
		reasons = append(reasons, "natural motion detected")
	}
	if skinMed >= d.cfg.SkinPctMin && lapMed >= d.cfg.LaplacianMin {
		score += 0.35
		reasons = append(reasons, "skin and texture OK")
	}
	if motionFrames*2 >= len(valid) {
		score += 0.20
		reasons = append(reasons, "sustained movement")
	}
	if len(reasons) == 0 {
		reasons = []string{"no liveness indicators found"}
	}
	return int(score * 100), reasons
}

// Passed reports whether the session summary clears the pass threshold.
func (d *Detector) Passed() bool {
	conf, _ := d.Summary()
	return conf >= d.cfg.PassConfidence
}

// metric helpers ------------------------------------------------------------

// laplacianVariance measures texture sharpness using a 4-neighbor
// laplacian over the grayscale frame.
func laplacianVariance(gray *image.Gray) float64 {
	b := gray.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	n := 0
	sum, sumSq := 0.0, 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			up := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y)
			down := float64(gray.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y)
			left := float64(gray.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			right := float64(gray.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y)

			v := 4*c - up - down - left - right
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// skinPercent is the fraction of pixels whose YCbCr chroma falls in the
// common skin tone band (Cb 77-127, Cr 133-173).
func skinPercent(img image.Image) float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	skin := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			_, cb, cr := rgbToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			if cb >= 77 && cb <= 127 && cr >= 133 && cr <= 173 {
				skin++
			}
		}
	}
	return float64(skin) / float64(total)
}

func rgbToYCbCr(r, g, b uint8) (uint8, uint8, uint8) {
	yy := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
	cb := 128 - 0.168736*float64(r) - 0.331264*float64(g) + 0.5*float64(b)
	cr := 128 + 0.5*float64(r) - 0.418688*float64(g) - 0.081312*float64(b)
	return uint8(clamp(yy, 0, 255)), uint8(clamp(cb, 0, 255)), uint8(clamp(cr, 0, 255))
}

// meanAbsDiff is the normalized (0-1) mean absolute pixel difference
// between two equally sized grayscale frames.
func meanAbsDiff(a, b *image.Gray) float64 {
	bounds := a.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}

	sum := 0.0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += math.Abs(float64(a.GrayAt(x, y).Y) - float64(b.GrayAt(x, y).Y))
		}
	}
	return sum / float64(total) / 255.0
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}
