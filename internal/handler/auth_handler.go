package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-auth-service/internal/model"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

// AuthHandler handles the OTP and session HTTP surface.
type AuthHandler struct {
	auth *service.AuthService
}

func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Response is the standard API envelope.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(message string) Response {
	return Response{Success: false, Error: message}
}

type otpRequest struct {
	MobileNumber string `json:"mobile_number"`
}

type otpVerifyRequest struct {
	MobileNumber string `json:"mobile_number"`
	OTP          string `json:"otp"`
}

type registerRequest struct {
	MobileNumber string `json:"mobile_number"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	District     string `json:"district"`
	State        string `json:"state"`
	Country      string `json:"country"`
}

type profileUpdateRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	District  string `json:"district"`
	State     string `json:"state"`
	Country   string `json:"country"`
}

// RegisterRoutes mounts the auth endpoints.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/otp/request", h.RequestOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/login", h.Login)
		r.Post("/session", h.IssueSession)
		r.Post("/register", h.Register)
		r.Post("/logout", h.Logout)
		r.Get("/me", h.Me)
		r.Put("/me", h.UpdateMe)
	})
}

// RequestOTP starts the signup issuance cycle for an unregistered phone.
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if err := util.ValidatePhone(req.MobileNumber); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	code, err := h.auth.RequestOTP(req.MobileNumber, clientAddr(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK,
		successResponse(map[string]string{"otp": code}, "OTP generated"))
}

// Login starts the issuance cycle for a registered phone.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if err := util.ValidatePhone(req.MobileNumber); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	code, err := h.auth.Login(req.MobileNumber)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK,
		successResponse(map[string]string{"otp": code}, "OTP generated"))
}

// VerifyOTP applies one code submission.
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if err := util.ValidatePhone(req.MobileNumber); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if err := util.ValidateOTPCode(req.OTP); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if err := h.auth.VerifyOTP(req.MobileNumber, req.OTP); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(nil, "OTP verified"))
}

// IssueSession mints the session token for a verified phone.
func (h *AuthHandler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if err := util.ValidatePhone(req.MobileNumber); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	tok, err := h.auth.IssueSession(req.MobileNumber)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK,
		successResponse(map[string]string{"token": tok}, "session issued"))
}

// Register creates the account after OTP verification.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if err := util.ValidatePhone(req.MobileNumber); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		h.respond(w, http.StatusBadRequest, errorResponse("first and last name are required"))
		return
	}

	user, err := h.auth.Register(req.MobileNumber, model.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		District:  req.District,
		State:     req.State,
		Country:   req.Country,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusCreated, successResponse(user, "user registered"))
}

// Logout revokes the presented session.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		h.respond(w, http.StatusUnauthorized, errorResponse("invalid or expired token"))
		return
	}

	if err := h.auth.Logout(tok); err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(nil, "logged out"))
}

// Me returns the session claims plus the registered profile, if any.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		h.respond(w, http.StatusUnauthorized, errorResponse("invalid or expired token"))
		return
	}

	claims, err := h.auth.RequireVerifiedSession(tok)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	data := map[string]interface{}{
		"phone":    claims.Phone,
		"verified": claims.Verified,
	}
	if user, phone, err := h.auth.Profile(r.Context(), claims.Phone); err == nil {
		data["profile"] = user
		if phone != "" {
			data["phone"] = phone
		}
	} else if !errors.Is(err, service.ErrNoSuchUser) {
		h.respond(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}

	h.respond(w, http.StatusOK, successResponse(data, ""))
}

// UpdateMe rewrites the profile of the account behind the presented session.
func (h *AuthHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	tok, ok := bearerToken(r)
	if !ok {
		h.respond(w, http.StatusUnauthorized, errorResponse("invalid or expired token"))
		return
	}

	claims, err := h.auth.RequireVerifiedSession(tok)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	var req profileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return
	}
	if req.FirstName == "" || req.LastName == "" {
		h.respond(w, http.StatusBadRequest, errorResponse("first and last name are required"))
		return
	}

	user, err := h.auth.UpdateProfile(claims.Phone, model.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		District:  req.District,
		State:     req.State,
		Country:   req.Country,
	})
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	h.respond(w, http.StatusOK, successResponse(user, "profile updated"))
}

// respondServiceError maps the service's sentinel errors onto status codes.
// All four token-validation failures collapse into one 401 body.
func (h *AuthHandler) respondServiceError(w http.ResponseWriter, err error) {
	var invalidOTP *service.InvalidOTPError
	switch {
	case errors.Is(err, service.ErrRateLimited):
		h.respond(w, http.StatusTooManyRequests, errorResponse(err.Error()))
	case errors.Is(err, service.ErrDuplicateUser):
		h.respond(w, http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNoSuchUser),
		errors.Is(err, service.ErrNoRecord):
		h.respond(w, http.StatusNotFound, errorResponse(err.Error()))
	case errors.As(err, &invalidOTP):
		resp := errorResponse(err.Error())
		resp.Data = map[string]int{"attempts_remaining": invalidOTP.Remaining}
		h.respond(w, http.StatusBadRequest, resp)
	case errors.Is(err, service.ErrOTPExpired),
		errors.Is(err, service.ErrMaxAttemptsExceeded):
		h.respond(w, http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTokenNotFound),
		errors.Is(err, service.ErrTokenMismatch),
		errors.Is(err, service.ErrTokenRevoked):
		h.respond(w, http.StatusUnauthorized, errorResponse("invalid or expired token"))
	case errors.Is(err, service.ErrNotVerified):
		h.respond(w, http.StatusForbidden, errorResponse(err.Error()))
	default:
		util.Error("unhandled service error", zap.Error(err))
		h.respond(w, http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func (h *AuthHandler) respond(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Error("failed to encode response", zap.Error(err))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	return tok, tok != ""
}

func clientAddr(r *http.Request) string {
	// middleware.RealIP already folded X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
