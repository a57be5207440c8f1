// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"net/http"
)

// UploadsHandler serves the multipart session table as JSON on the debug
// port.
func (s *Server) UploadsHandler(w http.ResponseWriter, r *http.Request) {
	uploads := s.svc.Multipart().Snapshot()
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(map[string]any{
		"count":   len(uploads),
		"uploads": uploads,
	}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
