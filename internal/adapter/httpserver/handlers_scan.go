package httpserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/HimethW/RFID-forklift/internal/domain"
	apperrors "github.com/HimethW/RFID-forklift/internal/platform/errors"
	"github.com/labstack/echo/v4"
)

const scanSavedMessage = "Scan saved and broadcasted"

type sendIDRequest struct {
	ID json.RawMessage `json:"id"`
}

type sendIDResponse struct {
	Message  string      `json:"message"`
	ScanData domain.Scan `json:"scanData"`
}

type recentScansResponse struct {
	Scans []domain.Scan `json:"scans"`
}

// handleSendID is the reader-facing ingest endpoint. An unreadable body is
// treated the same as a missing ID so readers get one consistent 400.
func (s *Server) handleSendID(c echo.Context) error {
	var req sendIDRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		req.ID = nil
	}

	scan, err := s.scans.Ingest(c.Request().Context(), tagIDFromJSON(req.ID))
	if err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, sendIDResponse{Message: scanSavedMessage, ScanData: scan}); err != nil {
		return fmt.Errorf("failed to write scan response: %w", err)
	}
	return nil
}

// tagIDFromJSON accepts a JSON string or number; a number keeps its literal
// text. Any other JSON kind yields "".
func tagIDFromJSON(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	switch c := raw[0]; {
	case c == '"':
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return ""
		}
		return id
	case c == '-' || (c >= '0' && c <= '9'):
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

func (s *Server) handleRecentScans(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return apperrors.ValidationError("limit must be a positive integer").WithField("limit", v)
		}
		limit = n
	}

	scans, err := s.scans.Recent(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if scans == nil {
		scans = []domain.Scan{}
	}

	if err := c.JSON(http.StatusOK, recentScansResponse{Scans: scans}); err != nil {
		return fmt.Errorf("failed to write scans response: %w", err)
	}
	return nil
}
