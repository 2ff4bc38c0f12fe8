package faxing

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vellum/vellum/config"
)

const (
	defaultIFaxBaseURL      = "https://api.ifaxapp.com/v1"
	defaultIFaxPollInterval = 3 * time.Second
	defaultIFaxMaxRetries   = 3
)

var _ Sender = (*IFaxSender)(nil)

// IFaxSender delivers faxes through the iFax REST API. Sending is
// synchronous: the sender submits the job, polls its status until the
// provider settles it, and resubmits a failed job up to the retry limit.
type IFaxSender struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	sourceName   string
	sourceNumber string
	pollInterval time.Duration
	maxRetries   int
	logger       *zap.Logger
}

// IFaxOption configures the sender.
type IFaxOption func(*IFaxSender)

// WithIFaxLogger sets the sender's logger.
func WithIFaxLogger(log *zap.Logger) IFaxOption {
	return func(s *IFaxSender) { s.logger = log }
}

// WithIFaxBaseURL overrides the API endpoint.
func WithIFaxBaseURL(url string) IFaxOption {
	return func(s *IFaxSender) { s.baseURL = url }
}

// WithIFaxPollInterval overrides the delay between status polls.
func WithIFaxPollInterval(d time.Duration) IFaxOption {
	return func(s *IFaxSender) { s.pollInterval = d }
}

// WithIFaxHTTPClient overrides the HTTP client.
func WithIFaxHTTPClient(client *http.Client) IFaxOption {
	return func(s *IFaxSender) { s.httpClient = client }
}

// NewIFaxSender builds a sender from the configured API key and source
// identity.
func NewIFaxSender(cfg *config.FaxConfig, opts ...IFaxOption) *IFaxSender {
	s := &IFaxSender{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultIFaxBaseURL,
		apiKey:       cfg.IFaxAPIKey,
		sourceName:   cfg.SourceName,
		sourceNumber: cfg.SourceNumber,
		pollInterval: defaultIFaxPollInterval,
		maxRetries:   defaultIFaxMaxRetries,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ifaxEnvelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type ifaxDocument struct {
	FileName string `json:"fileName"`
	FileData string `json:"fileData,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
}

// Send submits the fax and waits for the provider to settle it.
func (s *IFaxSender) Send(ctx context.Context, msg Message) error {
	if msg.Recipient.Number == "" {
		return errors.New("message has no recipient number")
	}

	payload, err := s.sendPayload(msg)
	if err != nil {
		return err
	}

	var lastMessage string
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		jobID, err := s.submit(ctx, payload)
		if err != nil {
			return err
		}

		status, statusMessage, err := s.waitForResult(ctx, jobID)
		if err != nil {
			return err
		}
		if status != "failed" {
			s.logger.Debug("fax sent",
				zap.String("job_id", jobID),
				zap.String("status", status))
			return nil
		}

		lastMessage = statusMessage
		s.logger.Warn("fax attempt failed",
			zap.String("job_id", jobID),
			zap.Int("attempt", attempt+1),
			zap.String("message", statusMessage))
	}
	return fmt.Errorf("sending fax failed: %s", lastMessage)
}

func (s *IFaxSender) sendPayload(msg Message) (map[string]any, error) {
	docs := make([]ifaxDocument, 0, len(msg.Documents))
	for i, doc := range msg.Documents {
		name := doc.Filename
		if name == "" {
			name = fmt.Sprintf("document_%d.pdf", i+1)
		}
		switch {
		case doc.URL != "":
			docs = append(docs, ifaxDocument{FileName: name, FileURL: doc.URL})
		case len(doc.Data) > 0:
			docs = append(docs, ifaxDocument{
				FileName: name,
				FileData: base64.StdEncoding.EncodeToString(doc.Data),
			})
		default:
			return nil, fmt.Errorf("document %q has neither data nor a url", name)
		}
	}

	return map[string]any{
		"callerId":   s.sourceNumber,
		"from_name":  s.sourceName,
		"faxNumber":  msg.Recipient.Number,
		"to_name":    msg.Recipient.Name,
		"subject":    msg.Subject,
		"message":    msg.Body,
		"faxQuality": msg.Quality,
		"faxData":    docs,
	}, nil
}

func (s *IFaxSender) submit(ctx context.Context, payload map[string]any) (string, error) {
	data, err := s.post(ctx, "/customer/fax-send", payload)
	if err != nil {
		return "", err
	}

	var out struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode fax job: %w", err)
	}
	return out.JobID, nil
}

// waitForResult polls the job until the provider reports something other
// than sending.
func (s *IFaxSender) waitForResult(ctx context.Context, jobID string) (string, string, error) {
	for {
		data, err := s.post(ctx, "/customer/fax-status", map[string]any{"jobId": jobID})
		if err != nil {
			return "", "", err
		}

		var out struct {
			FaxStatus string `json:"faxStatus"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return "", "", fmt.Errorf("failed to decode fax status: %w", err)
		}
		if out.FaxStatus != "sending" {
			return out.FaxStatus, out.Message, nil
		}

		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

func (s *IFaxSender) post(ctx context.Context, path string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fax request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("accessToken", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fax api returned %s", resp.Status)
	}

	var envelope ifaxEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode fax response: %w", err)
	}
	if envelope.Status == 0 {
		return nil, fmt.Errorf("fax api rejected the request: %s", envelope.Message)
	}
	return envelope.Data, nil
}
