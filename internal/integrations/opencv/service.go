package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"

	"face-attendance/config"
	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

// Service detects faces locally with a Haar cascade. It implements facerecognition.Detector only.
type Service struct {
	cfg        config.OpenCVConfig
	classifier gocv.CascadeClassifier
	// CascadeClassifier ist nicht threadsicher
	mutex sync.Mutex
}

// NewService loads the cascade file configured in cfg.
func NewService(cfg config.OpenCVConfig) (*Service, error) {
	classifier := gocv.NewCascadeClassifier()
	if !classifier.Load(cfg.CascadeFile) {
		classifier.Close()
		return nil, fmt.Errorf("konnte Haar-Cascade nicht laden: %s", cfg.CascadeFile)
	}
	if cfg.ScaleFactor <= 1 {
		cfg.ScaleFactor = 1.1
	}
	if cfg.MinNeighbors <= 0 {
		cfg.MinNeighbors = 5
	}

	log.Infof("OpenCV face detector initialized with %s", cfg.CascadeFile)
	return &Service{cfg: cfg, classifier: classifier}, nil
}

// DetectFaces returns the cascade hits in img as fractional boxes.
func (s *Service) DetectFaces(ctx context.Context, img []byte) ([]facerecognition.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, models.ErrInvalidImage
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(mat, &gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(gray, &gray)

	s.mutex.Lock()
	rects := s.classifier.DetectMultiScaleWithParams(
		gray,
		s.cfg.ScaleFactor,
		s.cfg.MinNeighbors,
		0,
		image.Pt(s.cfg.MinSizeWidth, s.cfg.MinSizeHeight),
		image.Pt(0, 0),
	)
	s.mutex.Unlock()

	w, h := float64(mat.Cols()), float64(mat.Rows())
	boxes := make([]facerecognition.BoundingBox, 0, len(rects))
	for _, r := range rects {
		boxes = append(boxes, facerecognition.BoundingBox{
			Left:   float64(r.Min.X) / w,
			Top:    float64(r.Min.Y) / h,
			Width:  float64(r.Dx()) / w,
			Height: float64(r.Dy()) / h,
			// Haar cascades liefern keinen Score
			Confidence: 100,
		})
	}

	log.Debugf("OpenCV detected %d faces", len(boxes))
	return boxes, nil
}

// Close gibt die Ressourcen des OpenCV-Service frei
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.classifier.Close()
}
