package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/softwind-labs/companion/internal/config"
)

const tokenLifetime = 24 * time.Hour

func GenerateJWT(handle string) (string, error) {
	claims := jwt.MapClaims{
		"sub": handle,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(tokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ValidateJWT(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})

	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		handle, _ := claims["sub"].(string)
		if handle == "" {
			return "", fmt.Errorf("invalid token subject")
		}
		return handle, nil
	}

	return "", fmt.Errorf("invalid token")
}
