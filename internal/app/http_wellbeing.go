package app

import (
	"errors"
	"io"
	"net/http"

	"triad/api/internal/avatar"
)

func (s *HTTPServer) handleOnboardingStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.OnboardingStatus(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.service.ListActivities(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *HTTPServer) handleSaveActivities(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Selections map[string][]string `json:"selections"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	activities, err := s.service.SaveActivitySelection(r.Context(), sessionFrom(r).UserID, body.Selections)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *HTTPServer) handleListReminders(w http.ResponseWriter, r *http.Request) {
	windows, err := s.service.ListReminderWindows(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func (s *HTTPServer) handleSaveReminders(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Windows []ReminderInput `json:"windows"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	windows, err := s.service.SaveReminderWindows(r.Context(), sessionFrom(r).UserID, body.Windows)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"windows": windows})
}

func (s *HTTPServer) handleTodayActivities(w http.ResponseWriter, r *http.Request) {
	pillars, err := s.service.TodayActivities(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pillars": pillars})
}

func (s *HTTPServer) handleSaveDailyCheckIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActivityIDs []string `json:"activityIds"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	result, err := s.service.SaveDailyCheckIn(r.Context(), sessionFrom(r).UserID, body.ActivityIDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleTodayCheckIns(w http.ResponseWriter, r *http.Request) {
	today, err := s.service.TodayCheckIns(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, today)
}

func (s *HTTPServer) handleMorningIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Intention string `json:"intention"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.SaveMorningIntent(r.Context(), sessionFrom(r).UserID, body.Intention); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Morning intention saved"})
}

func (s *HTTPServer) handleEveningReflection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reflection string `json:"reflection"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.SaveEveningReflection(r.Context(), sessionFrom(r).UserID, body.Reflection); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Evening reflection saved"})
}

func (s *HTTPServer) handleCalculateStreaks(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.CalculateStreaks(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleStreaks(w http.ResponseWriter, r *http.Request) {
	streaks, harmony, err := s.service.Streaks(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"streaks": streaks, "harmony": harmony})
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dashboard, err := s.service.Dashboard(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (s *HTTPServer) handleWheel(w http.ResponseWriter, r *http.Request) {
	svg, err := s.service.WheelSVG(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(svg)
}

func (s *HTTPServer) handleProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.Profile(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var body ProfileInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	profile, err := s.service.UpdateProfile(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// handleUploadAvatar takes the raw image as the request body.
func (s *HTTPServer) handleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, avatar.MaxBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeServiceError(w, r, avatar.ErrTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read request body", nil)
		return
	}

	avatarURL, err := s.service.UploadAvatar(r.Context(), sessionFrom(r).UserID, data)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"avatarUrl": avatarURL})
}
