// Package translate переводит текст сообщений на японский через подключаемый
// провайдер. Адаптер всегда деградирует до "" вместо проброса ошибки:
// пропущенный перевод можно дозаполнить следующим проходом, а проброшенная
// ошибка уронила бы сообщение.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"teleosint/internal/config"
	"teleosint/internal/infra/logger"
)

// Provider переводит текст на японский, либо возвращает "" при любом сбое.
type Provider interface {
	Translate(ctx context.Context, text string) (string, error)
}

// Translator применяет короткие замыкания "выключено/пусто/уже японский"
// перед делегированием настроенному Provider. Любая ошибка провайдера
// схлопывается в "": сбои перевода никогда не распространяются.
type Translator struct {
	enabled  bool
	timeout  time.Duration
	provider Provider
}

// New собирает Translator по cfg. При cfg.Enabled == false возвращённый
// Translator всегда отдаёт "" и HTTP-клиент не создаёт.
func New(cfg config.TranslationConfig) *Translator {
	t := &Translator{
		enabled: cfg.Enabled,
		timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
	if !cfg.Enabled {
		return t
	}

	switch strings.ToLower(cfg.Provider) {
	case "deepl":
		t.provider = &deepLProvider{
			apiKey: cfg.DeepLAPIKey,
			apiURL: deeplURLOrDefault(cfg.DeepLAPIURL),
			client: &http.Client{Timeout: t.timeout},
		}
	default:
		// "auto" и всё прочее: обобщённый провайдер с автоопределением.
		// Живой сторонний SDK перевода сюда не подключён (см. DESIGN.md);
		// граница Provider при этом остаётся настоящей, а не deepl-only.
		t.provider = &autoProvider{}
	}
	return t
}

func deeplURLOrDefault(v string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return "https://api-free.deepl.com/v2/translate"
}

// Translate возвращает японский перевод text, либо "" когда перевод
// выключен, text пуст, srcLangHint уже японский или провайдер упал.
func (t *Translator) Translate(ctx context.Context, text, srcLangHint string) string {
	if !t.enabled {
		return ""
	}
	if text == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(srcLangHint), "ja") {
		return ""
	}
	if t.provider == nil {
		return ""
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	out, err := t.provider.Translate(callCtx, text)
	if err != nil {
		logger.Debug("translate: provider error, returning empty", zap.Error(err))
		return ""
	}
	return out
}

// deepLProvider постит на DeepL-совместимый HTTP-эндпоинт.
type deepLProvider struct {
	apiKey string
	apiURL string
	client *http.Client
}

type deeplResponse struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

func (p *deepLProvider) Translate(ctx context.Context, text string) (string, error) {
	if p.apiKey == "" {
		return "", nil
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", "JA")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errHTTPStatus(resp.StatusCode)
	}

	var parsed deeplResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", err
	}
	if len(parsed.Translations) == 0 {
		return "", nil
	}
	return parsed.Translations[0].Text, nil
}

type errHTTPStatus int

func (e errHTTPStatus) Error() string {
	return "translate: unexpected status code"
}

// autoProvider — точка расширения для обобщённого движка "auto→ja".
// Конкретный сторонний SDK к нему не подключён (см. DESIGN.md); он
// существует, чтобы граница интерфейса Provider была настоящей.
type autoProvider struct{}

func (p *autoProvider) Translate(_ context.Context, _ string) (string, error) {
	return "", nil
}
