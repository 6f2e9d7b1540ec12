// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func testRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/v1/ping", getPing)
	r.POST("/api/v1/process", postProcess)
	return r
}

func TestGetPing(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/v1/ping", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status got %d expect 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("body got %q expect pong", w.Body.String())
	}
}

func TestPostProcessMissingArgs(t *testing.T) {
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/process", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status got %d expect 400", w.Code)
	}
}

func TestPostProcessInvalidCalibration(t *testing.T) {
	body := `{
		"filePatterns": ["burst/*.raw"],
		"calibration": {"cfa": "RGGB", "whiteLevel": 0, "wbGains": [1,1,1,1],
			"ccm": [[1,0,0],[0,1,0],[0,0,1]]},
		"sequence": {"type": "seq", "active": true, "steps": []}
	}`
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/process", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status got %d expect 400 for white level at zero", w.Code)
	}
}

func TestPostProcessNoFiles(t *testing.T) {
	// a valid request over an empty directory streams the log and reports
	// the glob failure in the body, not via the status code
	body := `{
		"filePatterns": ["does-not-exist/*.raw"],
		"calibration": {"cfa": "RGGB", "whiteLevel": 1023, "wbGains": [1,1,1,1],
			"ccm": [[1,0,0],[0,1,0],[0,0,1]]},
		"sequence": {"type": "seq", "active": true, "steps": []}
	}`
	r := testRouter()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/process", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status got %d expect 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Error globbing filenames") {
		t.Errorf("body got %q expect glob error in streamed log", w.Body.String())
	}
}
