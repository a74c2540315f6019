package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system. Account
// management and token issuance live in the external identity service.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleReviewer  UserRole = "REVIEWER"
	RoleApplicant UserRole = "APPLICANT"
)

// JWTClaims carries the identity attached to authenticated requests.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
