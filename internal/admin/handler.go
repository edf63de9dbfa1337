package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"crm-backend/internal/httputil"
)

const (
	RoleOwner = "owner"
	RoleAdmin = "admin"

	RightSync        = "ib_sync"
	RightCommissions = "ib_commissions"
	RightRates       = "ib_rates"
	RightReferrals   = "ib_referrals"
)

var allAdminRights = []string{RightSync, RightCommissions, RightRates, RightReferrals}

var ErrInvalidToken = errors.New("invalid token")

type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (User, error)
}

// Handler handles admin authentication
type Handler struct {
	users     UserLookup
	jwtSecret []byte
	tokenTTL  time.Duration
}

func NewHandler(users UserLookup, jwtSecret string) *Handler {
	return &Handler{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  24 * time.Hour,
	}
}

// Login handles admin login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid request"})
		return
	}

	user, err := h.users.GetByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid credentials"})
		return
	}

	rights := grantedRights(user.Role, user.Rights)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      user.ID,
		"username": user.Username,
		"role":     user.Role,
		"rights":   rights,
		"exp":      time.Now().Add(h.tokenTTL).Unix(),
	})
	tokenStr, err := token.SignedString(h.jwtSecret)
	if err != nil {
		httputil.WriteJSON(w, http.StatusInternalServerError, httputil.ErrorResponse{Error: "token generation failed"})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"token":    tokenStr,
		"username": user.Username,
		"role":     user.Role,
		"rights":   rights,
	})
}

// Me returns admin info
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"username": p.Username,
		"role":     p.Role,
		"rights":   grantedRights(p.Role, p.Rights),
	})
}

func grantedRights(role string, rights map[string]bool) []string {
	if role == RoleOwner {
		return append([]string{}, allAdminRights...)
	}
	out := make([]string, 0, len(rights))
	for k, v := range rights {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Principal is the authenticated admin attached to a request.
type Principal struct {
	Username string
	Role     string
	Rights   map[string]bool
}

func (p Principal) Has(right string) bool {
	return p.Role == RoleOwner || p.Rights[right]
}

// ParseToken validates an admin JWT signed with secret.
func ParseToken(secret []byte, raw string) (Principal, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	role, _ := claims["role"].(string)
	if role != RoleAdmin && role != RoleOwner {
		return Principal{}, ErrInvalidToken
	}
	username, _ := claims["username"].(string)
	if username == "" {
		username = role
	}
	rights := map[string]bool{}
	if rightsRaw, ok := claims["rights"].([]interface{}); ok {
		for _, raw := range rightsRaw {
			if right, ok := raw.(string); ok && right != "" {
				rights[right] = true
			}
		}
	}
	return Principal{Username: username, Role: role, Rights: rights}, nil
}

// AdminAuthMiddleware validates admin JWT token
func AdminAuthMiddleware(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "missing authorization"})
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorResponse{Error: "invalid authorization format"})
				return
			}

			p, err := ParseToken(secret, parts[1])
			if err != nil {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "invalid token"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

type contextKey string

const principalKey contextKey = "admin_principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func RequireRight(right string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !p.Has(right) {
				httputil.WriteJSON(w, http.StatusForbidden, httputil.ErrorResponse{Error: "insufficient rights"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
