package app

import (
	"net/http"
)

// routeRBAC handles sheet membership routes:
//
//	/api/sheets/{id}/users           GET list, POST grant
//	/api/sheets/{id}/users/{userId}  DELETE revoke
func (s *HTTPServer) routeRBAC(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 3 || parts[0] != "sheets" || parts[2] != "users" {
		return false
	}
	sheetID, ok := parseSheetID(w, parts[1])
	if !ok {
		return true
	}

	switch len(parts) {
	case 3:
		s.handleSheetUsers(w, r, session, sheetID)
	case 4:
		s.handleSheetUserRevoke(w, r, session, sheetID, parts[3])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return true
}

func (s *HTTPServer) handleSheetUsers(w http.ResponseWriter, r *http.Request, session Session, sheetID int64) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListSheetUsers(r.Context(), session.UserID, sheetID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		var body struct {
			UserID string `json:"userId"`
			Access string `json:"access"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		grant, err := s.service.ShareSheet(r.Context(), session.UserID, sheetID, body.UserID, body.Access)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, grant)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSheetUserRevoke(w http.ResponseWriter, r *http.Request, session Session, sheetID int64, userID string) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if err := s.service.RevokeSheetUser(r.Context(), session.UserID, sheetID, userID); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
