package security

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/akibul079/demo-sop-hub/internal/domain"
	"github.com/akibul079/demo-sop-hub/internal/ports"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultGoogleIssuerURL = "https://accounts.google.com"
	defaultJWKSCacheTTL    = time.Hour
	defaultClockSkew       = 30 * time.Second
)

var errUnknownKeyID = errors.New("unknown key id")

type GoogleVerifierConfig struct {
	ClientID  string
	IssuerURL string
	// AllowedIssuers defaults to the issuer URL plus its scheme-less form,
	// since Google signs with either.
	AllowedIssuers []string
	HTTPClient     *http.Client
	JWKSCacheTTL   time.Duration
	ClockSkew      time.Duration
	Now            func() time.Time
}

// GoogleVerifier validates Google ID tokens against the provider's published
// signing keys.
type GoogleVerifier struct {
	clientID   string
	issuerURL  string
	issuers    map[string]struct{}
	httpClient *http.Client
	skew       time.Duration
	now        func() time.Time

	discovery *expirable.LRU[string, oidcDiscoveryDocument]
	keys      *expirable.LRU[string, map[string]*rsa.PublicKey]
	fetches   singleflight.Group
}

type oidcDiscoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, errors.New("google client id is required")
	}
	issuerURL := strings.TrimRight(strings.TrimSpace(cfg.IssuerURL), "/")
	if issuerURL == "" {
		issuerURL = DefaultGoogleIssuerURL
	}
	allowed := cfg.AllowedIssuers
	if len(allowed) == 0 {
		allowed = []string{issuerURL, strings.TrimPrefix(strings.TrimPrefix(issuerURL, "https://"), "http://")}
	}
	issuers := make(map[string]struct{}, len(allowed))
	for _, iss := range allowed {
		if trimmed := strings.TrimSpace(iss); trimmed != "" {
			issuers[trimmed] = struct{}{}
		}
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	ttl := cfg.JWKSCacheTTL
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	skew := cfg.ClockSkew
	if skew <= 0 {
		skew = defaultClockSkew
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &GoogleVerifier{
		clientID:   clientID,
		issuerURL:  issuerURL,
		issuers:    issuers,
		httpClient: httpClient,
		skew:       skew,
		now:        now,
		discovery:  expirable.NewLRU[string, oidcDiscoveryDocument](4, nil, ttl),
		keys:       expirable.NewLRU[string, map[string]*rsa.PublicKey](4, nil, ttl),
	}, nil
}

// VerifyIDToken checks signature, audience, issuer and validity window, then
// extracts the profile claims.
func (v *GoogleVerifier) VerifyIDToken(ctx context.Context, raw string) (ports.ExternalIdentity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ports.ExternalIdentity{}, errors.New("id_token is required")
	}
	doc, err := v.discover(ctx)
	if err != nil {
		return ports.ExternalIdentity{}, err
	}
	keySet, err := v.keySet(ctx, doc.JWKSURI, false)
	if err != nil {
		return ports.ExternalIdentity{}, err
	}

	identity, err := v.validateIDToken(raw, keySet)
	if errors.Is(err, errUnknownKeyID) {
		// Keys rotate; refetch once before giving up.
		keySet, err = v.keySet(ctx, doc.JWKSURI, true)
		if err != nil {
			return ports.ExternalIdentity{}, err
		}
		identity, err = v.validateIDToken(raw, keySet)
	}
	if err != nil {
		return ports.ExternalIdentity{}, err
	}
	identity.Provider = domain.ProviderGoogle
	return identity, nil
}

func (v *GoogleVerifier) discover(ctx context.Context) (oidcDiscoveryDocument, error) {
	discoveryURL := v.issuerURL + "/.well-known/openid-configuration"
	if doc, ok := v.discovery.Get(discoveryURL); ok {
		return doc, nil
	}
	result, err, _ := v.fetches.Do("discovery:"+discoveryURL, func() (any, error) {
		var doc oidcDiscoveryDocument
		if err := v.getJSON(ctx, discoveryURL, &doc); err != nil {
			return oidcDiscoveryDocument{}, fmt.Errorf("oidc discovery: %w", err)
		}
		if strings.TrimSpace(doc.Issuer) != "" && strings.TrimRight(doc.Issuer, "/") != v.issuerURL {
			return oidcDiscoveryDocument{}, fmt.Errorf("issuer mismatch: got %s expected %s", doc.Issuer, v.issuerURL)
		}
		if strings.TrimSpace(doc.JWKSURI) == "" {
			return oidcDiscoveryDocument{}, errors.New("discovery document missing jwks_uri")
		}
		v.discovery.Add(discoveryURL, doc)
		return doc, nil
	})
	if err != nil {
		return oidcDiscoveryDocument{}, err
	}
	return result.(oidcDiscoveryDocument), nil
}

func (v *GoogleVerifier) keySet(ctx context.Context, jwksURI string, refresh bool) (map[string]*rsa.PublicKey, error) {
	if !refresh {
		if keys, ok := v.keys.Get(jwksURI); ok {
			return keys, nil
		}
	}
	result, err, _ := v.fetches.Do("jwks:"+jwksURI, func() (any, error) {
		keys, err := v.fetchJWKS(ctx, jwksURI)
		if err != nil {
			return nil, err
		}
		v.keys.Add(jwksURI, keys)
		return keys, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]*rsa.PublicKey), nil
}

func (v *GoogleVerifier) fetchJWKS(ctx context.Context, jwksURI string) (map[string]*rsa.PublicKey, error) {
	var doc jwksDocument
	if err := v.getJSON(ctx, jwksURI, &doc); err != nil {
		return nil, fmt.Errorf("oidc jwks fetch: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for i, key := range doc.Keys {
		if strings.ToUpper(strings.TrimSpace(key.Kty)) != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.N))
		if err != nil {
			return nil, fmt.Errorf("decode jwks n: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.E))
		if err != nil {
			return nil, fmt.Errorf("decode jwks e: %w", err)
		}
		eBig := new(big.Int).SetBytes(eBytes)
		if !eBig.IsInt64() || eBig.Int64() <= 1 {
			return nil, fmt.Errorf("invalid jwks exponent for key %s", key.Kid)
		}
		kid := strings.TrimSpace(key.Kid)
		if kid == "" {
			kid = fmt.Sprintf("key-%d", i)
		}
		keys[kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(eBig.Int64()),
		}
	}
	if len(keys) == 0 {
		return nil, errors.New("no RSA keys found in jwks")
	}
	return keys, nil
}

func (v *GoogleVerifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func (v *GoogleVerifier) validateIDToken(raw string, keySet map[string]*rsa.PublicKey) (ports.ExternalIdentity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if strings.TrimSpace(kid) != "" {
				key, ok := keySet[kid]
				if !ok {
					return nil, fmt.Errorf("%w: %s", errUnknownKeyID, kid)
				}
				return key, nil
			}
			if len(keySet) == 1 {
				for _, key := range keySet {
					return key, nil
				}
			}
			return nil, errors.New("missing key id")
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("validate id_token: %w", err)
	}
	if !parsed.Valid {
		return ports.ExternalIdentity{}, errors.New("invalid id_token")
	}

	if _, ok := v.issuers[stringClaim(claims, "iss")]; !ok {
		return ports.ExternalIdentity{}, fmt.Errorf("unexpected issuer %q", stringClaim(claims, "iss"))
	}
	subject := strings.TrimSpace(stringClaim(claims, "sub"))
	if subject == "" {
		return ports.ExternalIdentity{}, errors.New("id_token missing sub")
	}
	email := strings.ToLower(strings.TrimSpace(stringClaim(claims, "email")))
	if email == "" {
		return ports.ExternalIdentity{}, errors.New("id_token missing email")
	}

	return ports.ExternalIdentity{
		Subject:       subject,
		Email:         email,
		EmailVerified: boolClaim(claims["email_verified"]),
		Name:          strings.TrimSpace(stringClaim(claims, "name")),
		GivenName:     strings.TrimSpace(stringClaim(claims, "given_name")),
		FamilyName:    strings.TrimSpace(stringClaim(claims, "family_name")),
		AvatarURL:     strings.TrimSpace(stringClaim(claims, "picture")),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func boolClaim(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}
