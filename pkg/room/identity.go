package room

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mapsync/mapsync/pkg/ids"
)

// Identity is who a session claims to be. Sessions without a verifiable
// token still get a stable anonymous identity so presence keeps working.
type Identity struct {
	UserID      string
	DisplayName string
}

func anonymousIdentity() Identity {
	return Identity{
		UserID:      "anon-" + ids.New(),
		DisplayName: "Anonymous",
	}
}

// identityFromToken verifies an HS256 token and extracts the subject and
// display name claims. Authentication proper happens upstream; the token
// only carries identity for presence attribution.
func identityFromToken(token, secret string) (Identity, error) {
	if token == "" || secret == "" {
		return anonymousIdentity(), nil
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("parsing identity token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	id := Identity{}
	if sub, err := claims.GetSubject(); err == nil {
		id.UserID = sub
	}
	if name, ok := claims["name"].(string); ok {
		id.DisplayName = name
	}
	if id.UserID == "" {
		return Identity{}, fmt.Errorf("identity token missing subject")
	}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}
