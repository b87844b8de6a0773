package compreface

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"face-attendance/config"

	log "github.com/sirupsen/logrus"
)

// codeNoFaceFound is CompreFace's error code for an image without a detectable face.
const codeNoFaceFound = 28

// Client für CompreFace-API
type Client struct {
	config     config.CompreFaceConfig
	httpClient *http.Client
}

// Box repräsentiert die Begrenzungsbox eines Gesichts in Pixeln
type Box struct {
	Probability float64 `json:"probability"`
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
}

// Subject repräsentiert eine erkannte Person
type Subject struct {
	Subject    string  `json:"subject"`
	Similarity float64 `json:"similarity"`
}

// RecognitionResult repräsentiert ein erkanntes Gesicht
type RecognitionResult struct {
	Box      Box       `json:"box"`
	Subjects []Subject `json:"subjects"`
}

// RecognitionResponse repräsentiert die Antwort der CompreFace-API
type RecognitionResponse struct {
	Result []RecognitionResult `json:"result"`
}

// AddResponse repräsentiert die Antwort beim Hinzufügen eines Beispiels
type AddResponse struct {
	ImageID string `json:"image_id"`
	Subject string `json:"subject"`
}

// APIError is a non-2xx answer from CompreFace.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("CompreFace API returned error (status %d): %s", e.StatusCode, e.Message)
}

// NoFaceFound reports whether CompreFace rejected the image because it saw no face.
func (e *APIError) NoFaceFound() bool {
	return e.StatusCode == http.StatusBadRequest && e.Code == codeNoFaceFound
}

// NewClient erstellt einen neuen CompreFace-Client
func NewClient(cfg config.CompreFaceConfig) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping prüft, ob der CompreFace-Dienst erreichbar ist
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/recognition/subjects/", nil, nil, c.config.RecognitionAPIKey)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Detect finds faces in an image using the detection service.
func (c *Client) Detect(ctx context.Context, imageData []byte) ([]Box, error) {
	body, contentType, err := multipartImage(imageData)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("det_prob_threshold", c.threshold())

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/detection/detect", query, body, c.detectionKey())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var result RecognitionResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	boxes := make([]Box, 0, len(result.Result))
	for _, r := range result.Result {
		boxes = append(boxes, r.Box)
	}
	log.Debugf("CompreFace detected %d faces", len(boxes))
	return boxes, nil
}

// Recognize sends an image to recognition and asks for the single best subject per face.
func (c *Client) Recognize(ctx context.Context, imageData []byte) (*RecognitionResponse, error) {
	body, contentType, err := multipartImage(imageData)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", "0")
	query.Set("prediction_count", "1")
	query.Set("det_prob_threshold", c.threshold())

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/recognition/recognize", query, body, c.config.RecognitionAPIKey)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	var result RecognitionResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}
	log.Debugf("CompreFace recognition request took %s", time.Since(start))
	return &result, nil
}

// AddSubjectExample fügt ein Beispielbild für ein Subjekt/eine Person hinzu
func (c *Client) AddSubjectExample(ctx context.Context, subjectName string, imageData []byte) (*AddResponse, error) {
	body, contentType, err := multipartImage(imageData)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("subject", subjectName)
	query.Set("det_prob_threshold", c.threshold())

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/recognition/faces", query, body, c.config.RecognitionAPIKey)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var result AddResponse
	if err := c.do(req, &result); err != nil {
		return nil, err
	}

	log.Infof("Added example for subject %s with image ID %s", result.Subject, result.ImageID)
	return &result, nil
}

// DeleteSubject löscht ein Subjekt und alle zugehörigen Beispielbilder
func (c *Client) DeleteSubject(ctx context.Context, subjectName string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/recognition/subjects/"+url.PathEscape(subjectName), nil, nil, c.config.RecognitionAPIKey)
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return err
	}
	log.Infof("Deleted subject: %s", subjectName)
	return nil
}

func (c *Client) threshold() string {
	return strconv.FormatFloat(c.config.DetProbThreshold, 'f', 2, 64)
}

func (c *Client) detectionKey() string {
	if c.config.DetectionAPIKey != "" {
		return c.config.DetectionAPIKey
	}
	return c.config.RecognitionAPIKey
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, apiKey string) (*http.Request, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse API URL: %w", err)
	}
	u = u.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", apiKey)
	if body == nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out. Other statuses become *APIError.
func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bodyBytes)}
		var decoded struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(bodyBytes, &decoded) == nil && decoded.Message != "" {
			apiErr.Code, apiErr.Message = decoded.Code, decoded.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func multipartImage(imageData []byte) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "image.jpg")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
