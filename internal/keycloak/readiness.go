// readiness.go — готовность JWKS Keycloak и HTTP-клиент с дополнительным CA.
package keycloak

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const statusFail = "fail"

// jwk — поля ключа JWKS, по которым видно, годится ли он для проверки подписи.
type jwk struct {
	KID string `json:"kid"`
	KTY string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
}

// verifiesRS256 — ключ RSA для подписи (use и alg могут отсутствовать).
func (k jwk) verifiesRS256() bool {
	return k.KTY == "RSA" &&
		(k.Use == "" || k.Use == "sig") &&
		(k.Alg == "" || k.Alg == "RS256")
}

// JWKSReadinessChecker — проверка доступности Keycloak через JWKS.
// Нужна при любом источнике ролей: без ключа подписи токены не проверить.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
// client == nil — клиент с таймаутом timeout.
func NewJWKSReadinessChecker(jwksURL string, client *http.Client, timeout time.Duration) *JWKSReadinessChecker {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &JWKSReadinessChecker{jwksURL: jwksURL, client: client}
}

// CheckReady загружает JWKS и ищет в нём ключи RS256.
// Набор только из ключей шифрования (use=enc) означает degraded:
// Keycloak отвечает, но access token проверить нечем.
func (k *JWKSReadinessChecker) CheckReady(ctx context.Context) (status, message string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации Keycloak
	if err != nil {
		return statusFail, fmt.Sprintf("Keycloak JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("Keycloak JWKS вернул статус %d", resp.StatusCode)
	}

	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&set); err != nil {
		return "degraded", fmt.Sprintf("Keycloak JWKS: невалидный JSON: %v", err)
	}

	signing := 0
	for _, key := range set.Keys {
		if key.verifiesRS256() {
			signing++
		}
	}
	if signing == 0 {
		return "degraded", fmt.Sprintf("Keycloak JWKS: нет ключей RS256 (всего ключей: %d)", len(set.Keys))
	}
	return "ok", fmt.Sprintf("ключей подписи: %d", signing)
}

// HTTPClientWithCA создаёт HTTP-клиент, доверяющий дополнительному CA-сертификату.
// Пустой caCertPath — клиент с системным пулом.
func HTTPClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	if caCertPath == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата %s: %w", caCertPath, err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    caCertPool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}
