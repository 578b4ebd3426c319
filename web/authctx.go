package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tablekit/tablekit/engine"
)

// ContextExtractor builds the engine's RequestContext from an incoming
// request. The default extractor reads a Bearer token; deployments with
// other schemes supply their own.
type ContextExtractor func(r *http.Request) (*engine.RequestContext, error)

// TokenVerifier validates JWT bearer tokens and extracts identity claims
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for HS256-signed tokens
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Extract builds a RequestContext from the Authorization header. An absent
// header yields an anonymous context; a present but invalid token is an
// error.
func (v *TokenVerifier) Extract(r *http.Request) (*engine.RequestContext, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return &engine.RequestContext{}, nil
	}

	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == header {
		return nil, fmt.Errorf("malformed authorization header")
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		// pin the signing method to prevent algorithm confusion
		if token.Method.Alg() != "HS256" {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	rc := &engine.RequestContext{}
	if sub, ok := claims["sub"].(string); ok {
		rc.UserID = sub
	}
	if tenant, ok := claims["tenant"].(string); ok {
		rc.TenantID = tenant
	}
	if roles, ok := claims["roles"].([]any); ok {
		for _, role := range roles {
			if s, ok := role.(string); ok {
				rc.Roles = append(rc.Roles, s)
			}
		}
	}
	return rc, nil
}

// AnonymousContext is a ContextExtractor for deployments without
// authentication
func AnonymousContext(*http.Request) (*engine.RequestContext, error) {
	return &engine.RequestContext{}, nil
}
