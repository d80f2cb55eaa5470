package gatehttp

import (
	"encoding/json"
	"net/http"
)

type errResp struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func forbidden(w http.ResponseWriter, code, message string) {
	writeJSON(w, http.StatusForbidden, errResp{Error: code, Message: message})
}

func serverErr(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusInternalServerError, errResp{Error: code})
}
