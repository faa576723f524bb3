package translator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SystranService translates via the Systran REST API on RapidAPI.
type SystranService struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewSystranService(apiKey string) *SystranService {
	return &SystranService{
		apiKey:  apiKey,
		baseURL: "https://api-systran-systran-translation-v1.p.rapidapi.com",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *SystranService) Name() string { return "systran" }

func (s *SystranService) Translate(ctx context.Context, cfg ServiceConfig, req Request) (*Result, error) {
	result := &Result{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	apiKey := s.apiKey
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		return result, fmt.Errorf("systran API key required")
	}

	sourceLang := req.SourceLang
	if sourceLang == "auto" {
		sourceLang = ""
	}

	systranReq := map[string]interface{}{
		"text":   []string{req.Text},
		"source": sourceLang,
		"target": req.TargetLang,
		"format": "text",
	}

	jsonData, err := json.Marshal(systranReq)
	if err != nil {
		return result, fmt.Errorf("failed to marshal request: %w", err)
	}

	base := s.baseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", base+"/translation/text/translate", bytes.NewBuffer(jsonData))
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-RapidAPI-Key", apiKey)
	httpReq.Header.Set("X-RapidAPI-Host", "api-systran-systran-translation-v1.p.rapidapi.com")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return result, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(string(body)), "language") {
			return result, &UnsupportedLanguageError{Lang: req.TargetLang}
		}
		return result, classifyStatus(resp.StatusCode, string(body))
	}

	var systranResp struct {
		Outputs []struct {
			Output string `json:"output"`
		} `json:"outputs"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&systranResp); err != nil {
		return result, &NetworkError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	if len(systranResp.Outputs) == 0 || systranResp.Outputs[0].Output == "" {
		return result, &NetworkError{Err: fmt.Errorf("empty translation response")}
	}

	result.TranslatedText = systranResp.Outputs[0].Output
	result.Confidence = 1.0

	return result, nil
}

func (s *SystranService) IsAvailable(ctx context.Context) error {
	if s.apiKey == "" {
		return fmt.Errorf("systran API key not configured")
	}
	return nil
}

func (s *SystranService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{"en", "fr", "es", "de", "it", "pt", "ru", "zh", "ja", "ko", "ar"}, nil
}

func (s *SystranService) MaxTextLen() int { return 0 }
