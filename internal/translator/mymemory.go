package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// myMemoryMaxChars is the request-size cap documented by the MyMemory API.
const myMemoryMaxChars = 500

// MyMemoryService translates via the free MyMemory HTTP API. Providing an
// e-mail address raises the daily quota.
type MyMemoryService struct {
	email   string
	baseURL string
	client  *http.Client
}

func NewMyMemoryService(email string) *MyMemoryService {
	return &MyMemoryService{
		email:   email,
		baseURL: "https://api.mymemory.translated.net",
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *MyMemoryService) Name() string { return "mymemory" }

func (s *MyMemoryService) Translate(ctx context.Context, cfg ServiceConfig, req Request) (*Result, error) {
	result := &Result{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	sourceLang := req.SourceLang
	if sourceLang == "" || sourceLang == "auto" {
		// MyMemory has no server-side detection; "en" is its documented default.
		sourceLang = "en"
	}

	langPair := fmt.Sprintf("%s|%s", sourceLang, req.TargetLang)

	base := s.baseURL
	if cfg.BaseURL != "" {
		base = cfg.BaseURL
	}

	apiURL := fmt.Sprintf("%s/get?q=%s&langpair=%s",
		base,
		url.QueryEscape(req.Text),
		url.QueryEscape(langPair))

	email := s.email
	if email == "" {
		email = cfg.Email
	}
	if email != "" {
		apiURL += fmt.Sprintf("&de=%s", url.QueryEscape(email))
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return result, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return result, classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, classifyStatus(resp.StatusCode, resp.Status)
	}

	var mymemResp struct {
		ResponseData struct {
			TranslatedText string  `json:"translatedText"`
			Match          float64 `json:"match"`
		} `json:"responseData"`
		ResponseStatus  int    `json:"responseStatus"`
		ResponseDetails string `json:"responseDetails"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&mymemResp); err != nil {
		return result, &NetworkError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	// MyMemory reports API errors in the body with a 200 transport status.
	if mymemResp.ResponseStatus != 200 {
		details := strings.ToUpper(mymemResp.ResponseDetails)
		switch {
		case mymemResp.ResponseStatus == 429 || strings.Contains(details, "QUOTA"):
			return result, ErrRateLimited
		case strings.Contains(details, "LANGUAGE"):
			return result, &UnsupportedLanguageError{Lang: langPair}
		default:
			return result, classifyStatus(mymemResp.ResponseStatus, mymemResp.ResponseDetails)
		}
	}

	result.TranslatedText = mymemResp.ResponseData.TranslatedText
	result.Confidence = mymemResp.ResponseData.Match

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	return result, nil
}

func (s *MyMemoryService) IsAvailable(ctx context.Context) error {
	return nil
}

func (s *MyMemoryService) SupportedLanguages(ctx context.Context) ([]string, error) {
	return []string{
		"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh",
		"ar", "nl", "pl", "tr", "sv", "da", "no", "fi", "el", "he",
		"th", "vi", "id", "ms", "cs", "hu", "ro", "uk", "bg", "ca",
	}, nil
}

func (s *MyMemoryService) MaxTextLen() int { return myMemoryMaxChars }
