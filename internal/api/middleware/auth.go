// auth.go — JWT middleware: оракул идентичности и допуска Access Engine.
// Извлекает из проверенного JWT идентификатор субъекта (sub), издателя
// удостоверения (credential_issuer) и уровень допуска (clearance_level).
// Подпись проверяется через JWKS сервиса верификации удостоверений.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/access-engine/internal/api/errors"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyActor — проверенный субъект запроса.
	ContextKeyActor contextKey = "actor"
)

// credentialClaims — claims JWT, выпущенного сервисом верификации удостоверений.
type credentialClaims struct {
	jwt.RegisteredClaims
	// CredentialIssuer — проверенный издатель удостоверения держателя.
	CredentialIssuer string `json:"credential_issuer"`
	// ClearanceLevel — уровень допуска: число 0..4 или имя (CONFIDENTIAL).
	ClearanceLevel json.RawMessage `json:"clearance_level"`
}

// errMissingClearance — в токене нет уровня допуска.
var errMissingClearance = errors.New("отсутствует clearance_level")

// clearance разбирает уровень допуска из числа или строки.
func (c *credentialClaims) clearance() (classification.Level, error) {
	if len(c.ClearanceLevel) == 0 || string(c.ClearanceLevel) == "null" {
		return 0, errMissingClearance
	}

	var n int
	if err := json.Unmarshal(c.ClearanceLevel, &n); err == nil {
		return classification.NewLevel(n)
	}

	var s string
	if err := json.Unmarshal(c.ClearanceLevel, &s); err != nil {
		return 0, fmt.Errorf("clearance_level: %w", err)
	}
	return classification.ParseLevel(s)
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	logger    *slog.Logger
	issuer    string
	jwtLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS сервиса верификации.
// jwksURL — URL к JWKS endpoint.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer JWT (пусто — не проверяется).
// jwksClientTimeout — таймаут HTTP-клиента JWKS (AE_JWKS_CLIENT_TIMEOUT).
// jwksRefreshInterval — интервал обновления JWKS-ключей (AE_JWKS_REFRESH_INTERVAL).
// jwtLeeway — допустимое отклонение времени при проверке JWT (AE_JWT_LEEWAY).
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// NoErrorReturnFirstHTTPReq — стартуем даже если JWKS ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		logger:    logger.With(slog.String("component", "jwt_auth")),
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
	}, nil
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

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

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		logger: logger.With(slog.String("component", "jwt_auth")),
		issuer: issuer,
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), извлекает субъекта,
// издателя удостоверения и допуск и помещает service.Actor в контекст.
// Любая ошибка — 401 INVALID_CREDENTIAL.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			claims := &credentialClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				if err != nil {
					j.logger.Debug("JWT валидация не пройдена",
						slog.String("error", err.Error()),
						slog.String("remote_addr", r.RemoteAddr),
					)
				}
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				j.logger.Debug("Удостоверение не содержит обязательных атрибутов",
					slog.String("error", err.Error()),
				)
				apierrors.Unauthorized(w, "Удостоверение не содержит обязательных атрибутов: "+err.Error())
				return
			}

			noteSubject(r.Context(), actor.Identity)
			ctx := context.WithValue(r.Context(), ContextKeyActor, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// actorFromClaims строит субъекта из проверенных claims.
func actorFromClaims(c *credentialClaims) (*service.Actor, error) {
	if strings.TrimSpace(c.Subject) == "" {
		return nil, errors.New("отсутствует sub")
	}
	issuer := strings.TrimSpace(c.CredentialIssuer)
	if issuer == "" {
		return nil, errors.New("отсутствует credential_issuer")
	}
	level, err := c.clearance()
	if err != nil {
		return nil, err
	}
	return &service.Actor{
		Identity:  c.Subject,
		Issuer:    issuer,
		Clearance: level,
	}, nil
}

// --- Context helpers ---

// ActorFromContext извлекает субъекта из контекста запроса.
// Возвращает nil, если субъект не найден.
func ActorFromContext(ctx context.Context) *service.Actor {
	actor, _ := ctx.Value(ContextKeyActor).(*service.Actor)
	return actor
}

// WithActor помещает субъекта в контекст.
// Используется в тестах обработчиков вместо полного JWT middleware.
func WithActor(ctx context.Context, actor *service.Actor) context.Context {
	return context.WithValue(ctx, ContextKeyActor, actor)
}

// SubjectFromContext извлекает идентификатор субъекта из контекста запроса.
// Возвращает пустую строку, если субъект не найден.
func SubjectFromContext(ctx context.Context) string {
	actor := ActorFromContext(ctx)
	if actor == nil {
		return ""
	}
	return actor.Identity
}
