package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Manialer35/avishkar-career-compass-sub001/internal/apperr"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/auth"
	"github.com/Manialer35/avishkar-career-compass-sub001/internal/repo"
)

const (
	defaultAdminPurchaseLimit = 50
	maxAdminPurchaseLimit     = 500
)

type otpSendRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.OTP.Send(r.Context(), req.PhoneNumber)
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]any{"success": true, "message": "OTP sent"}
	if res.Code != "" {
		body["otp"] = res.Code
	}
	writeJSON(w, body)
}

type otpVerifyRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTPCode     string `json:"otpCode"`
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.deps.OTP.Verify(r.Context(), req.PhoneNumber, req.OTPCode)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"user": map[string]any{
			"id":      res.Identity.UserID,
			"phone":   res.Identity.Phone,
			"isAdmin": res.IsAdmin,
		},
		"sessionToken": res.SessionToken,
		"expiresAt":    res.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type profileRequest struct {
	FullName string `json:"fullName"`
}

type profileJSON struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	FullName    *string `json:"fullName"`
	AvatarURL   *string `json:"avatarUrl"`
	PhoneNumber *string `json:"phoneNumber"`
	Email       *string `json:"email"`
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())

	var req profileRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	profile, isAdmin, err := s.deps.Roles.EnsureProfile(r.Context(), caller, req.FullName)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
		return
	}
	writeJSON(w, map[string]any{
		"success": true,
		"isAdmin": isAdmin,
		"profile": profileJSON{
			ID:          profile.ID,
			Username:    profile.Username,
			FullName:    profile.FullName,
			AvatarURL:   profile.AvatarURL,
			PhoneNumber: profile.PhoneNumber,
			Email:       profile.Email,
		},
	})
}

func (s *Server) handleAdminVerify(w http.ResponseWriter, r *http.Request) {
	caller, _ := auth.IdentityFromContext(r.Context())
	isAdmin, err := s.deps.Roles.IsAdmin(r.Context(), caller)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
		return
	}
	writeJSON(w, map[string]any{"isAdmin": isAdmin})
}

func (s *Server) handleAdminPurchases(w http.ResponseWriter, r *http.Request) {
	limit := defaultAdminPurchaseLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, fmt.Errorf("%w: limit must be a positive integer", apperr.ErrInvalidInput))
			return
		}
		limit = min(n, maxAdminPurchaseLimit)
	}
	list, err := s.deps.Store.ListRecentPurchases(r.Context(), limit)
	if err != nil {
		s.writeError(w, fmt.Errorf("list recent purchases: %w: %w", apperr.ErrPersistence, err))
		return
	}
	writeJSON(w, map[string]any{"purchases": purchaseViews(list)})
}

type materialInput struct {
	Title          string  `json:"title" validate:"required,max=200"`
	Description    *string `json:"description"`
	IsPremium      bool    `json:"isPremium"`
	Price          float64 `json:"price" validate:"gte=0,lte=100000"`
	DurationType   string  `json:"durationType" validate:"omitempty,oneof=lifetime fixed"`
	DurationMonths int     `json:"durationMonths" validate:"gte=0,lte=120"`
	DownloadURL    *string `json:"downloadUrl" validate:"omitempty,url"`
}

type adminMaterialRequest struct {
	Action   string         `json:"action" validate:"required,oneof=create update delete"`
	ID       string         `json:"id" validate:"omitempty,uuid"`
	Material *materialInput `json:"material" validate:"required_unless=Action delete"`
}

type materialJSON struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Description    *string `json:"description"`
	IsPremium      bool    `json:"isPremium"`
	Price          float64 `json:"price"`
	DurationType   string  `json:"durationType"`
	DurationMonths int     `json:"durationMonths"`
	DownloadURL    *string `json:"downloadUrl"`
}

func materialView(m *repo.Material) materialJSON {
	return materialJSON{
		ID:             m.ID,
		Title:          m.Title,
		Description:    m.Description,
		IsPremium:      m.IsPremium,
		Price:          m.Price,
		DurationType:   m.DurationType,
		DurationMonths: m.DurationMonths,
		DownloadURL:    m.DownloadURL,
	}
}

func materialValues(m *repo.Material) map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any{
		"title":           m.Title,
		"is_premium":      m.IsPremium,
		"price":           m.Price,
		"duration_type":   m.DurationType,
		"duration_months": m.DurationMonths,
	}
}

func (s *Server) handleAdminMaterials(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := auth.UserID(ctx)

	var req adminMaterialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	req.Action = strings.ToLower(strings.TrimSpace(req.Action))
	req.ID = strings.TrimSpace(req.ID)
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, invalidInput(err))
		return
	}
	if req.Action != "create" && req.ID == "" {
		s.writeError(w, fmt.Errorf("%w: id is required for %s", apperr.ErrInvalidInput, req.Action))
		return
	}

	var before *repo.Material
	if req.Action != "create" {
		existing, err := s.deps.Store.GetMaterial(ctx, req.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			s.writeError(w, apperr.ErrMaterialNotFound)
			return
		case err != nil:
			s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
			return
		}
		before = existing
	}

	var after *repo.Material
	switch req.Action {
	case "delete":
		if err := s.deps.Store.DeleteMaterial(ctx, req.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				s.writeError(w, apperr.ErrMaterialNotFound)
				return
			}
			s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
			return
		}
	default:
		in := req.Material
		m := repo.Material{
			ID:             req.ID,
			Title:          strings.TrimSpace(in.Title),
			Description:    in.Description,
			IsPremium:      in.IsPremium,
			Price:          in.Price,
			DurationType:   in.DurationType,
			DurationMonths: in.DurationMonths,
			DownloadURL:    in.DownloadURL,
		}
		if req.Action == "create" {
			m.ID = ""
		}
		if m.DurationType == "" {
			m.DurationType = repo.DurationFixed
		}
		saved, err := s.deps.Store.UpsertMaterial(ctx, m)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", apperr.ErrPersistence, err))
			return
		}
		after = saved
	}

	targetID := req.ID
	if after != nil {
		targetID = after.ID
	}
	if err := s.deps.Store.InsertAuditLog(ctx, repo.AuditEntry{
		AdminUserID: &caller,
		Action:      "study_material_" + req.Action,
		TargetTable: "study_materials",
		TargetID:    targetID,
		OldValues:   materialValues(before),
		NewValues:   materialValues(after),
		IPAddress:   r.RemoteAddr,
		UserAgent:   r.UserAgent(),
	}); err != nil {
		s.logger.Warn("failed to audit material change", "error", err, "material_id", targetID)
	}
	if s.deps.Materials != nil && req.Action != "create" {
		if err := s.deps.Materials.Invalidate(ctx, targetID); err != nil {
			s.logger.Warn("failed to invalidate material cache", "error", err, "material_id", targetID)
		}
	}
	s.logger.Info("study material changed", "action", req.Action, "material_id", targetID, "admin_id", caller)

	if after == nil {
		writeJSON(w, map[string]any{"success": true, "deleted": map[string]string{"id": targetID}})
		return
	}
	writeJSON(w, map[string]any{"success": true, "material": materialView(after)})
}

func invalidInput(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed %s", apperr.ErrInvalidInput, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
}
