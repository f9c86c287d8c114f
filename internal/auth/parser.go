package auth

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"dispatch-service/internal/model"
)

var ErrUnknownRole = errors.New("token carries an unknown role")

type Claims struct {
	UserID     uuid.UUID      `json:"sub"`
	Role       model.UserRole `json:"role"`
	UnitID     *uuid.UUID     `json:"unit_id,omitempty"`
	FacilityID *uuid.UUID     `json:"facility_id,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts verified claims into the actor identity used by the services.
func (c *Claims) Principal() model.Principal {
	return model.Principal{
		UserID:     c.UserID,
		Role:       c.Role,
		UnitID:     c.UnitID,
		FacilityID: c.FacilityID,
	}
}

type Parser struct {
	secret []byte
}

func NewParser(secret string) *Parser {
	return &Parser{secret: []byte(secret)}
}

func (p *Parser) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == uuid.Nil {
		return nil, jwt.ErrTokenInvalidClaims
	}

	switch claims.Role {
	case model.UserRolePatient, model.UserRoleAmbulance, model.UserRoleHospital, model.UserRoleAdmin:
	default:
		return nil, ErrUnknownRole
	}

	return claims, nil
}
