package rekognition

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"face-attendance/config"
	"face-attendance/internal/core/models"
	"face-attendance/internal/integrations/facerecognition"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	log "github.com/sirupsen/logrus"
)

// deleteBatchSize is the most face ids DeleteFaces accepts per call.
const deleteBatchSize = 100

// API is the subset of the Rekognition client the service calls.
type API interface {
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *rekognition.SearchFacesByImageInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	IndexFaces(ctx context.Context, in *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	ListFaces(ctx context.Context, in *rekognition.ListFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.ListFacesOutput, error)
	DeleteFaces(ctx context.Context, in *rekognition.DeleteFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DeleteFacesOutput, error)
	CreateCollection(ctx context.Context, in *rekognition.CreateCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.CreateCollectionOutput, error)
	DescribeCollection(ctx context.Context, in *rekognition.DescribeCollectionInput, optFns ...func(*rekognition.Options)) (*rekognition.DescribeCollectionOutput, error)
}

// Service implements facerecognition.Provider on AWS Rekognition collections.
type Service struct {
	api          API
	collectionID string
}

// New builds a Rekognition client from cfg. Empty keys use the default credential chain.
func New(ctx context.Context, cfg config.RekognitionConfig, collectionID string) (*Service, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := rekognition.NewFromConfig(awsCfg, func(o *rekognition.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, collectionID), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api API, collectionID string) *Service {
	return &Service{api: api, collectionID: collectionID}
}

// Name returns the provider type.
func (s *Service) Name() facerecognition.ProviderType {
	return facerecognition.ProviderRekognition
}

// IsAvailable describes the configured collection.
func (s *Service) IsAvailable(ctx context.Context) bool {
	_, err := s.api.DescribeCollection(ctx, &rekognition.DescribeCollectionInput{
		CollectionId: aws.String(s.collectionID),
	})
	if err != nil {
		log.Warnf("Rekognition availability check failed: %v", err)
		return false
	}
	return true
}

// EnsureCollection creates the collection unless it already exists.
func (s *Service) EnsureCollection(ctx context.Context, collectionID string) error {
	_, err := s.api.CreateCollection(ctx, &rekognition.CreateCollectionInput{
		CollectionId: aws.String(collectionID),
	})
	if err == nil {
		log.Infof("Created Rekognition collection %s", collectionID)
		return nil
	}
	var exists *types.ResourceAlreadyExistsException
	if errors.As(err, &exists) {
		log.Debugf("Rekognition collection %s already exists", collectionID)
		return nil
	}
	return unavailable("create collection", err)
}

// DetectFaces returns the faces Rekognition finds in img. Its boxes are already fractional.
func (s *Service) DetectFaces(ctx context.Context, img []byte) ([]facerecognition.BoundingBox, error) {
	out, err := s.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: img},
		Attributes: []types.Attribute{types.AttributeDefault},
	})
	if err != nil {
		if isInvalidImage(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
		}
		return nil, unavailable("detect", err)
	}

	boxes := make([]facerecognition.BoundingBox, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		if fd.BoundingBox == nil {
			continue
		}
		boxes = append(boxes, facerecognition.BoundingBox{
			Left:       float64(aws.ToFloat32(fd.BoundingBox.Left)),
			Top:        float64(aws.ToFloat32(fd.BoundingBox.Top)),
			Width:      float64(aws.ToFloat32(fd.BoundingBox.Width)),
			Height:     float64(aws.ToFloat32(fd.BoundingBox.Height)),
			Confidence: float64(aws.ToFloat32(fd.Confidence)),
		})
	}
	return boxes, nil
}

// SearchIdentity searches the collection for the single best match at or above threshold.
func (s *Service) SearchIdentity(ctx context.Context, crop []byte, collectionID string, threshold float64) (*facerecognition.Candidate, error) {
	out, err := s.api.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(s.collection(collectionID)),
		Image:              &types.Image{Bytes: crop},
		FaceMatchThreshold: aws.Float32(float32(threshold)),
		MaxFaces:           aws.Int32(1),
	})
	if err != nil {
		if noFaceInCrop(err) {
			return nil, nil
		}
		return nil, unavailable("search", err)
	}

	if len(out.FaceMatches) == 0 || out.FaceMatches[0].Face == nil {
		return nil, nil
	}
	match := out.FaceMatches[0]
	confidence := float64(aws.ToFloat32(match.Similarity))
	if confidence < threshold {
		return nil, nil
	}
	return &facerecognition.Candidate{
		IdentityKey: aws.ToString(match.Face.ExternalImageId),
		Confidence:  confidence,
	}, nil
}

// IndexFace stores the largest face of img under identityKey.
func (s *Service) IndexFace(ctx context.Context, img []byte, collectionID, identityKey string) (string, error) {
	out, err := s.api.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:    aws.String(s.collection(collectionID)),
		Image:           &types.Image{Bytes: img},
		ExternalImageId: aws.String(identityKey),
		MaxFaces:        aws.Int32(1),
		QualityFilter:   types.QualityFilterAuto,
	})
	if err != nil {
		if isInvalidImage(err) {
			return "", fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
		}
		return "", unavailable("index", err)
	}
	if len(out.FaceRecords) == 0 || out.FaceRecords[0].Face == nil {
		return "", models.ErrNoFaceDetected
	}
	return aws.ToString(out.FaceRecords[0].Face.FaceId), nil
}

// DeleteIdentity deletes every face whose external image id is identityKey.
func (s *Service) DeleteIdentity(ctx context.Context, collectionID, identityKey string) error {
	collection := s.collection(collectionID)

	var faceIDs []string
	paginator := rekognition.NewListFacesPaginator(s.api, &rekognition.ListFacesInput{
		CollectionId: aws.String(collection),
		MaxResults:   aws.Int32(1000),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return unavailable("list faces", err)
		}
		for _, f := range page.Faces {
			if aws.ToString(f.ExternalImageId) == identityKey {
				faceIDs = append(faceIDs, aws.ToString(f.FaceId))
			}
		}
	}

	for start := 0; start < len(faceIDs); start += deleteBatchSize {
		end := min(start+deleteBatchSize, len(faceIDs))
		if _, err := s.api.DeleteFaces(ctx, &rekognition.DeleteFacesInput{
			CollectionId: aws.String(collection),
			FaceIds:      faceIDs[start:end],
		}); err != nil {
			return unavailable("delete faces", err)
		}
	}

	log.Infof("Deleted %d Rekognition faces for %s", len(faceIDs), identityKey)
	return nil
}

func (s *Service) collection(collectionID string) string {
	if collectionID != "" {
		return collectionID
	}
	return s.collectionID
}

func unavailable(op string, err error) error {
	return facerecognition.Unavailable(facerecognition.ProviderRekognition, op, err)
}

func isInvalidImage(err error) bool {
	var invalidFormat *types.InvalidImageFormatException
	var tooLarge *types.ImageTooLargeException
	return errors.As(err, &invalidFormat) || errors.As(err, &tooLarge)
}

// noFaceInCrop reports the InvalidParameter Rekognition returns for a crop without a detectable face.
// Other InvalidParameter errors (threshold, collection id) are request errors and stay errors.
func noFaceInCrop(err error) bool {
	var invalid *types.InvalidParameterException
	if !errors.As(err, &invalid) {
		return false
	}
	return strings.Contains(strings.ToLower(invalid.ErrorMessage()), "no faces")
}
