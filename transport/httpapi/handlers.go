package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
)

// MessageResponse acknowledges requests that return no data.
type MessageResponse struct {
	Message string `json:"message"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Password   string `json:"password"`
}

type renewalRequest struct {
	RenewalToken string `json:"renewal_token"`
}

type initiateRecoveryRequest struct {
	Email string `json:"email"`
}

type completeRecoveryRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

type playbackRequest struct {
	TrackURI string `json:"track_uri"`
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", goSession.ErrInvalidInput, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: request body must hold a single JSON object", goSession.ErrInvalidInput)
	}
	return nil
}

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	var req goSession.RegisterRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	res, err := a.engine.Register(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" {
		identifier = req.Phone
	}

	pair, err := a.engine.Login(r.Context(), identifier, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) Renew(w http.ResponseWriter, r *http.Request) {
	var req renewalRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	pair, err := a.engine.Renew(r.Context(), req.RenewalToken)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	var req renewalRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.Logout(r.Context(), req.RenewalToken); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

func (a *API) InitiateRecovery(w http.ResponseWriter, r *http.Request) {
	var req initiateRecoveryRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.InitiateRecovery(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "code sent"})
}

func (a *API) CompleteRecovery(w http.ResponseWriter, r *http.Request) {
	var req completeRecoveryRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.CompleteRecovery(r.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "password reset"})
}

func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	profile, err := a.engine.GetProfile(r.Context(), claims)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) UpdateMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	var update goSession.ProfileUpdate
	if err := a.decode(w, r, &update); err != nil {
		a.writeError(w, r, err)
		return
	}

	profile, err := a.engine.UpdateProfile(r.Context(), claims, update)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) TopItems(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	items, err := a.engine.GetExternalTopItems(r.Context(), claims)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeRawJSON(w, http.StatusOK, items)
}

// NowPlaying answers 204 when nothing is playing.
func (a *API) NowPlaying(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	body, err := a.engine.GetExternalNowPlaying(r.Context(), claims)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed == "" || trimmed == "null" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeRawJSON(w, http.StatusOK, body)
}

func (a *API) StartPlayback(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	var req playbackRequest
	if err := a.decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if err := a.engine.StartExternalPlayback(r.Context(), claims, req.TrackURI); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "playback started"})
}

func (a *API) PausePlayback(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, goSession.ErrUnauthorized)
		return
	}

	if err := a.engine.PauseExternalPlayback(r.Context(), claims); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "playback paused"})
}
