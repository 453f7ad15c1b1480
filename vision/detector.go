package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/png"

	"go.uber.org/zap"

	"github.com/certflow/certflow/answer"
	"github.com/certflow/certflow/errors"
	"github.com/certflow/certflow/platform"
)

// Config holds detection thresholds.
type Config struct {
	// ProgressThreshold is the fill fraction that counts as video complete.
	ProgressThreshold float64
	// DebounceSamples is how many consecutive readings at or above the
	// threshold are required before VideoComplete is reported.
	DebounceSamples int
	// ConfidenceThreshold is the minimum template match score, used when a
	// region does not configure its own.
	ConfidenceThreshold float64
	// MotionThreshold is the minimum mean frame delta for active playback.
	MotionThreshold float64
	// BlurThreshold is the minimum Laplacian variance for a sharp frame.
	BlurThreshold float64
}

// Detector classifies frames against a platform's configured regions.
type Detector struct {
	cfg       Config
	templates *templateCache
	engine    answer.Engine
	ocrModel  string
	logger    *zap.SugaredLogger
}

// NewDetector creates a detector. templatesDir is the directory template
// paths in platform tables resolve against. engine may be nil when OCR is
// not needed.
func NewDetector(cfg Config, templatesDir string, engine answer.Engine, ocrModel string, log *zap.SugaredLogger) *Detector {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Detector{
		cfg:       cfg,
		templates: newTemplateCache(templatesDir),
		engine:    engine,
		ocrModel:  ocrModel,
		logger:    log,
	}
}

// NewProgressDebounce creates the debounce counter a state machine owns for
// its progress region.
func (d *Detector) NewProgressDebounce() *Debounce {
	return NewDebounce(d.cfg.ProgressThreshold, d.cfg.DebounceSamples)
}

// Detect classifies the current frame. prev may be nil on the first poll;
// progress is the caller-owned debounce counter for the platform's progress
// region. Template matches for quiz/assignment/certificate take precedence
// over playback classification since they mean the video surface is gone.
func (d *Detector) Detect(prev, cur image.Image, plat *platform.Platform, progress *Debounce) (DetectionResult, error) {
	if cur == nil {
		return DetectionResult{}, errors.New("nil frame")
	}

	// Template regions first
	best := DetectionResult{Classification: Unknown}
	for i := range plat.Regions {
		region := &plat.Regions[i]
		if region.Kind != platform.RegionTemplate {
			continue
		}

		tmpl, err := d.templates.get(region.Template)
		if err != nil {
			return DetectionResult{}, err
		}

		threshold := region.Confidence
		if threshold == 0 {
			threshold = d.cfg.ConfidenceThreshold
		}

		score := matchTemplate(cur, region, tmpl)
		if score >= threshold && score > best.Confidence {
			best = DetectionResult{
				Classification: ParseClassification(region.Classifies),
				Confidence:     score,
				RegionID:       region.ID,
			}
		}
	}
	if best.Classification != Unknown {
		return best, nil
	}

	// Progress bar
	for i := range plat.Regions {
		region := &plat.Regions[i]
		if region.Kind != platform.RegionColorRange {
			continue
		}

		fill, err := ProgressFill(cur, region)
		if err != nil {
			return DetectionResult{}, err
		}
		d.logger.Debugw("Progress sample", "region", region.ID, "fill", fill)

		if progress != nil && progress.Observe(fill) {
			return DetectionResult{
				Classification: VideoComplete,
				Confidence:     fill,
				RegionID:       region.ID,
			}, nil
		}
		break
	}

	// Playback heuristic needs two frames
	if prev != nil {
		if ok, motion := playing(prev, cur, d.cfg.MotionThreshold, d.cfg.BlurThreshold); ok {
			confidence := motion / (d.cfg.MotionThreshold * 2)
			if confidence > 1 {
				confidence = 1
			}
			return DetectionResult{
				Classification: VideoPlaying,
				Confidence:     confidence,
			}, nil
		}
	}

	return DetectionResult{Classification: Unknown}, nil
}

// ExtractText transcribes the text visible in a frame region by sending it to
// the vision-capable answer model. This is the OCR capability the quiz flow
// uses to read question text.
func (d *Detector) ExtractText(ctx context.Context, frame image.Image, region *platform.Region) (string, error) {
	if d.engine == nil {
		return "", errors.New("no answer engine configured for text extraction")
	}

	rect := cropRect(frame, region.Rect)
	if rect.Empty() {
		return "", errors.Newf("region %s is outside the frame", region.ID)
	}

	crop := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			crop.Set(x, y, frame.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return "", errors.Wrap(err, "encode region")
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	ans, err := d.engine.Complete(ctx, answer.Request{
		SystemPrompt: "You transcribe text from screenshots. Return only the visible text, nothing else.",
		UserPrompt:   "Transcribe all text visible in this image.",
		Model:        d.ocrModel,
		Attachments: []answer.ContentPart{
			{Type: "image_url", ImageURL: &answer.ContentPartImage{URL: dataURI}},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "extract text")
	}
	return ans.Content, nil
}
