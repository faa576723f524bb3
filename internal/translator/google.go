package translator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleService translates via the Cloud Translation API. The underlying
// client is created once and reused for every call; Close releases it.
type GoogleService struct {
	client *translate.Client
}

func NewGoogleService(ctx context.Context, cfg ServiceConfig) (*GoogleService, error) {
	opts := []option.ClientOption{}
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translate client: %w", err)
	}
	return &GoogleService{client: client}, nil
}

func (s *GoogleService) Name() string { return "google" }

func (s *GoogleService) Close() error { return s.client.Close() }

func (s *GoogleService) Translate(ctx context.Context, cfg ServiceConfig, req Request) (*Result, error) {
	result := &Result{ServiceName: s.Name()}
	start := time.Now()
	defer func() { result.Latency = time.Since(start) }()

	targetLangTag, err := language.Parse(req.TargetLang)
	if err != nil {
		return result, &UnsupportedLanguageError{Lang: req.TargetLang}
	}

	var opts *translate.Options
	if req.SourceLang != "" && req.SourceLang != "auto" {
		sourceLangTag, parseErr := language.Parse(req.SourceLang)
		if parseErr != nil {
			return result, &UnsupportedLanguageError{Lang: req.SourceLang}
		}
		opts = &translate.Options{Source: sourceLangTag}
	}

	translations, err := s.client.Translate(ctx, []string{req.Text}, targetLangTag, opts)
	if err != nil {
		return result, classifyGoogle(err, req)
	}

	if len(translations) == 0 {
		return result, &NetworkError{Err: fmt.Errorf("no translation returned")}
	}

	result.TranslatedText = translations[0].Text
	result.Confidence = 1.0

	return result, nil
}

func (s *GoogleService) IsAvailable(ctx context.Context) error {
	return nil
}

func (s *GoogleService) SupportedLanguages(ctx context.Context) ([]string, error) {
	langs, err := s.client.SupportedLanguages(ctx, language.English)
	if err != nil {
		return nil, classifyGoogle(err, Request{})
	}
	codes := make([]string, 0, len(langs))
	for _, l := range langs {
		codes = append(codes, l.Tag.String())
	}
	return codes, nil
}

func (s *GoogleService) MaxTextLen() int { return 0 }

// classifyGoogle maps Cloud Translation API failures onto the shared
// taxonomy using the embedded HTTP status.
func classifyGoogle(err error, req Request) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return ErrRateLimited
		case apiErr.Code >= 500:
			return &NetworkError{Err: err}
		case apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "language"):
			lang := req.TargetLang
			if lang == "" {
				lang = req.SourceLang
			}
			return &UnsupportedLanguageError{Lang: lang}
		}
	}
	return &NetworkError{Err: err}
}
