package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	goMFA "github.com/MrEthical07/goMFA"
	gomfamw "github.com/MrEthical07/goMFA/middleware"
	"github.com/go-chi/chi/v5"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type confirmMFARequest struct {
	ChallengeID    string                 `json:"challenge_id"`
	Method         string                 `json:"method"`
	Code           string                 `json:"code,omitempty"`
	Sample         []byte                 `json:"sample,omitempty"`
	Points         []goMFA.GesturePoint   `json:"points,omitempty"`
	Keystroke      *keystrokeProofPayload `json:"keystroke,omitempty"`
	RememberDevice bool                   `json:"remember_device,omitempty"`
	DeviceLabel    string                 `json:"device_label,omitempty"`
}

type keystrokeProofPayload struct {
	Text   string                `json:"text"`
	Sample goMFA.KeystrokeSample `json:"sample"`
}

type loginResponse struct {
	UserID       string         `json:"user_id"`
	MFARequired  bool           `json:"mfa_required"`
	ChallengeID  string         `json:"challenge_id,omitempty"`
	Methods      []goMFA.Method `json:"methods,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	UsedMethod   goMFA.Method   `json:"used_method,omitempty"`
	DeviceTrust  bool           `json:"device_trusted,omitempty"`
}

func toLoginResponse(result *goMFA.LoginResult) loginResponse {
	return loginResponse{
		UserID:       result.UserID,
		MFARequired:  result.MFARequired,
		ChallengeID:  result.ChallengeID,
		Methods:      result.Methods,
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		ExpiresIn:    result.ExpiresIn,
		UsedMethod:   result.UsedMethod,
		DeviceTrust:  result.DeviceTrust,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// authedUser pulls the validated user from the guard context.
func authedUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	res, ok := gomfamw.AuthResultFromContext(r.Context())
	if !ok || res.UserID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return res.UserID, true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	account, err := s.engine.Register(r.Context(), goMFA.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"user_id": account.UserID,
		"email":   account.Email,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.engine.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if result.MFARequired {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toLoginResponse(result))
}

func (s *Server) handleConfirmMFA(w http.ResponseWriter, r *http.Request) {
	var req confirmMFARequest
	if !decodeBody(w, r, &req) {
		return
	}

	proof := goMFA.MFAProof{
		Method:         goMFA.Method(req.Method),
		Code:           req.Code,
		Sample:         req.Sample,
		Points:         req.Points,
		RememberDevice: req.RememberDevice,
		DeviceLabel:    req.DeviceLabel,
	}
	if req.Keystroke != nil {
		proof.Keystroke = &goMFA.KeystrokeProof{
			Text:   req.Keystroke.Text,
			Sample: req.Keystroke.Sample,
		}
	}

	result, err := s.engine.ConfirmMFA(r.Context(), req.ChallengeID, proof)
	if err != nil {
		// A failed proof that leaves budget on the challenge reports how many
		// tries remain alongside the generic rejection.
		var attempt *goMFA.MFAAttemptError
		if errors.As(err, &attempt) {
			writeJSON(w, statusForError(err), map[string]any{
				"error":              "verification failed",
				"remaining_attempts": attempt.Remaining,
			})
			return
		}
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}

	access, refresh, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	const bearer = "Bearer "
	if len(token) <= len(bearer) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.engine.LogoutByAccessToken(r.Context(), token[len(bearer):]); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	if err := s.engine.LogoutAll(r.Context(), userID); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	res, ok := gomfamw.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}

	attempts, err := s.engine.LoginHistory(r.Context(), userID, 50)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

type enrollSimilarityRequest struct {
	Samples [][]byte `json:"samples"`
}

func (s *Server) handleEnrollSimilarity(method goMFA.Method) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := authedUser(w, r)
		if !ok {
			return
		}
		var req enrollSimilarityRequest
		if !decodeBody(w, r, &req) {
			return
		}

		var err error
		switch method {
		case goMFA.MethodFace:
			err = s.engine.EnrollFace(r.Context(), userID, req.Samples)
		default:
			err = s.engine.EnrollVoice(r.Context(), userID, req.Samples)
		}
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"method": string(method)})
	}
}

type enrollGestureRequest struct {
	Samples [][]goMFA.GesturePoint `json:"samples"`
}

func (s *Server) handleEnrollGesture(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req enrollGestureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.EnrollGesture(r.Context(), userID, req.Samples); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"method": string(goMFA.MethodGesture)})
}

type enrollKeystrokeRequest struct {
	Passphrase string                  `json:"passphrase"`
	Samples    []goMFA.KeystrokeSample `json:"samples"`
}

func (s *Server) handleEnrollKeystroke(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req enrollKeystrokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.EnrollKeystroke(r.Context(), userID, req.Passphrase, req.Samples); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"method": string(goMFA.MethodKeystroke)})
}

func (s *Server) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	methods, err := s.engine.ListEnrollments(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"methods": methods})
}

func (s *Server) handleUnenroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	method := goMFA.Method(chi.URLParam(r, "method"))
	if err := s.engine.Unenroll(r.Context(), userID, method); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBeginTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	setup, err := s.engine.BeginTOTPEnrollment(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, setup)
}

type totpConfirmRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req totpConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ConfirmTOTPEnrollment(r.Context(), userID, req.Code); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type passwordConfirmRequest struct {
	Password string `json:"password"`
}

func (s *Server) handleDisableTOTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req passwordConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.DisableTOTP(r.Context(), userID, req.Password); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	codes, err := s.engine.GenerateBackupCodes(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

func (s *Server) handleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req passwordConfirmRequest
	if !decodeBody(w, r, &req) {
		return
	}
	codes, err := s.engine.RegenerateBackupCodes(r.Context(), userID, req.Password)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"codes": codes})
}

func (s *Server) handleRemainingBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	remaining, err := s.engine.RemainingBackupCodes(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"remaining": remaining})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	devices, err := s.engine.ListTrustedDevices(r.Context(), userID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

type trustDeviceRequest struct {
	Label string `json:"label"`
}

func (s *Server) handleTrustDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	var req trustDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.TrustDevice(r.Context(), userID, req.Label); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevokeDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	fingerprint := chi.URLParam(r, "fingerprint")
	if err := s.engine.RevokeDevice(r.Context(), userID, fingerprint); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleForgetDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := authedUser(w, r)
	if !ok {
		return
	}
	fingerprint := chi.URLParam(r, "fingerprint")
	if err := s.engine.ForgetDevice(r.Context(), userID, fingerprint); err != nil {
		s.writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
