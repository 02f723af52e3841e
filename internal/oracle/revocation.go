// Пакет oracle — HTTP-клиент внешнего оракула отзыва удостоверений.
//
// Ответ кэшировать нельзя: статус проверяется на каждый запрос доступа.
// Любая ошибка сети, таймаут, не-200 ответ или некорректное тело
// возвращаются вызывающему как ошибка, а не как «не отозвано».
package oracle

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrMalformedResponse — ответ оракула не содержит статуса отзыва.
var ErrMalformedResponse = errors.New("некорректный ответ оракула отзыва")

// revocationResponse — тело ответа GET /api/v1/revocation.
type revocationResponse struct {
	Revoked *bool `json:"revoked"`
}

// RevocationClient — клиент оракула отзыва.
type RevocationClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewRevocationClient создаёт клиент.
// baseURL — базовый URL сервиса отзыва.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
// timeout — таймаут запроса (AE_REVOCATION_TIMEOUT).
func NewRevocationClient(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*RevocationClient, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата оракула отзыва: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат оракула отзыва добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &RevocationClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		logger:     logger.With(slog.String("component", "revocation_oracle")),
	}, nil
}

// IsRevoked проверяет, отозвано ли удостоверение holder, выпущенное issuer.
// GET /api/v1/revocation?holder=...&issuer=...
func (c *RevocationClient) IsRevoked(ctx context.Context, holder, issuer string) (bool, error) {
	q := url.Values{"holder": {holder}, "issuer": {issuer}}
	reqURL := c.baseURL + "/api/v1/revocation?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return false, fmt.Errorf("создание запроса к оракулу отзыва: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
	if err != nil {
		return false, fmt.Errorf("запрос к оракулу отзыва %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return false, fmt.Errorf("оракул отзыва вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var out revocationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Revoked == nil {
		return false, fmt.Errorf("%w: нет поля revoked", ErrMalformedResponse)
	}

	c.logger.Debug("Статус отзыва получен",
		slog.String("holder", holder),
		slog.String("issuer", issuer),
		slog.Bool("revoked", *out.Revoked),
		slog.Duration("duration", time.Since(start)),
	)
	return *out.Revoked, nil
}

// BaseURL возвращает базовый URL оракула (для dephealth).
func (c *RevocationClient) BaseURL() string {
	return c.baseURL
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}
