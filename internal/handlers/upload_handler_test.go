package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smr/internal/models"
	"smr/internal/test"
)

const threeRowReport = "Artist,Title,Spins,Adds\nAdele,Hello,40,2\nDrake,Hotline Bling,35,1\nWeekend,Blinding Lights,30,0\n"

func TestUploadHandler_RequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := s.get(t, "/api/v1/uploads", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.get(t, "/api/v1/uploads", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUploadHandler_SubmitResolvesAndReports(t *testing.T) {
	s := newTestServer(t, nil)
	test.CreateArtist(t, s.db, "Adele")
	test.CreateArtist(t, s.db, "Drake")
	test.CreateArtist(t, s.db, "The Weeknd")

	resp, body := s.upload(t, s.reviewer, "week10.csv", threeRowReport, map[string]string{
		"report_date": "2024-03-08",
		"report_type": "weekly",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.Equal(t, float64(3), body["row_count"])
	assert.Equal(t, float64(1), body["unmatched_count"])
	assert.InDelta(t, 66.67, body["linkage_rate"], 0.01)
	assert.Equal(t, string(models.StatusMapping), body["status"])
	assert.Equal(t, false, body["queued"])

	uploadID := number(t, body["upload_id"])
	upload := body["upload"].(map[string]interface{})
	assert.Equal(t, "reviewer", upload["uploaded_by"])

	t.Run("duplicate is refused with the existing id", func(t *testing.T) {
		resp, body := s.upload(t, s.reviewer, "again.csv", threeRowReport, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "duplicate", body["kind"])
		data := body["data"].(map[string]interface{})
		assert.Equal(t, float64(uploadID), data["existing_upload_id"])
	})

	t.Run("get", func(t *testing.T) {
		resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d", uploadID), s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "week10.csv", body["upload"].(map[string]interface{})["filename"])
		assert.NotContains(t, body, "audit")
	})

	t.Run("rows", func(t *testing.T) {
		resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d/rows?page_size=2", uploadID), s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["data"], 2)
		meta := body["pagination"].(map[string]interface{})
		assert.Equal(t, float64(3), meta["total_count"])
		assert.Equal(t, true, meta["has_next"])
	})

	t.Run("unmatched lists the unresolved name", func(t *testing.T) {
		resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d/unmatched", uploadID), s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		entries := body["data"].([]interface{})
		require.Len(t, entries, 1)
		entry := entries[0].(map[string]interface{})
		assert.Equal(t, "Weekend", entry["submitted_name"])
		assert.Equal(t, float64(30), entry["total_spins"])
	})

	t.Run("gate fails below threshold", func(t *testing.T) {
		resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d/gate", uploadID), s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		gate := body["gate"].(map[string]interface{})
		assert.Equal(t, false, gate["passed"])
		assert.Equal(t, float64(95), gate["threshold"])
	})

	t.Run("finalize is refused below threshold", func(t *testing.T) {
		resp, body := s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/finalize", uploadID), s.reviewer, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
		assert.Equal(t, "threshold", body["kind"])

		var entries int64
		require.NoError(t, s.db.Model(&models.CanonicalChartEntry{}).Count(&entries).Error)
		assert.Zero(t, entries)
	})

	t.Run("events are journaled", func(t *testing.T) {
		resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d/events", uploadID), s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, body["data"])
	})

	t.Run("list filters by status", func(t *testing.T) {
		resp, body := s.get(t, "/api/v1/uploads?status=mapping", s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["data"], 1)

		resp, body = s.get(t, "/api/v1/uploads?status=finalized", s.reviewer)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, body["data"])

		resp, _ = s.get(t, "/api/v1/uploads?status=bogus", s.reviewer)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})
}

func TestUploadHandler_MapThenFinalize(t *testing.T) {
	s := newTestServer(t, nil)
	test.CreateArtist(t, s.db, "Adele")
	test.CreateArtist(t, s.db, "Drake")
	weeknd := test.CreateArtist(t, s.db, "The Weeknd")

	_, body := s.upload(t, s.reviewer, "week11.csv", threeRowReport, nil)
	uploadID := number(t, body["upload_id"])

	resp, body := s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/mappings", uploadID), s.reviewer, map[string]interface{}{
		"submitted_name": "Weekend",
		"artist_id":      weeknd.ID,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, float64(100), body["linkage_rate"])
	assert.Equal(t, true, body["gate_passed"])
	assert.Equal(t, string(models.StatusReady), body["status"])

	resp, body = s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/finalize", uploadID), s.reviewer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, float64(3), body["entries_committed"])
	assert.Equal(t, "reviewer", body["finalized_by"])

	t.Run("second finalize is refused", func(t *testing.T) {
		resp, body := s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/finalize", uploadID), s.reviewer, nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "already_finalized", body["kind"])
	})

	t.Run("mapping after finalize is refused", func(t *testing.T) {
		resp, _ := s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/mappings", uploadID), s.reviewer, map[string]interface{}{
			"submitted_name": "Adele",
			"artist_id":      weeknd.ID,
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("get includes the audit record", func(t *testing.T) {
		_, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d", uploadID), s.reviewer)
		audit := body["audit"].(map[string]interface{})
		assert.Equal(t, "reviewer", audit["finalized_by"])
	})
}

func TestUploadHandler_MapValidation(t *testing.T) {
	s := newTestServer(t, nil)
	upload := test.CreateUpload(t, s.db, models.StatusMapping)

	resp, body := s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/mappings", upload.ID), s.reviewer, map[string]interface{}{
		"submitted_name": "",
		"artist_id":      0,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	fields := body["data"].(map[string]interface{})
	assert.Contains(t, fields, "submitted_name")
	assert.Contains(t, fields, "artist_id")

	resp, _ = s.postJSON(t, "/api/v1/uploads/abc/mappings", s.reviewer, map[string]interface{}{
		"submitted_name": "Adele",
		"artist_id":      1,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadHandler_SchemaFailureKeepsUpload(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.upload(t, s.reviewer, "bad.csv", "Foo,Bar\n1,2\n", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "schema", body["kind"])

	data := body["data"].(map[string]interface{})
	uploadID := number(t, data["upload_id"])

	_, body = s.get(t, fmt.Sprintf("/api/v1/uploads/%d", uploadID), s.reviewer)
	assert.Equal(t, string(models.StatusFailed), body["upload"].(map[string]interface{})["status"])
}

func TestUploadHandler_SubmitValidation(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.upload(t, s.reviewer, "r.csv", threeRowReport, map[string]string{"report_date": "08/03/2024"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body["details"], "report_date")

	resp, _ = s.postJSON(t, "/api/v1/uploads", s.reviewer, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUploadHandler_GateOnEmptyReport(t *testing.T) {
	s := newTestServer(t, nil)
	upload := test.CreateUpload(t, s.db, models.StatusReview)

	resp, body := s.get(t, fmt.Sprintf("/api/v1/uploads/%d/gate", upload.ID), s.reviewer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["empty"])
}

func TestUploadHandler_NotFound(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/api/v1/uploads/999", "/api/v1/uploads/999/rows", "/api/v1/uploads/999/unmatched", "/api/v1/uploads/999/gate"} {
		resp, _ := s.get(t, path, s.reviewer)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}

	resp, _ := s.postJSON(t, "/api/v1/uploads/999/finalize", s.reviewer, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUploadHandler_RejectIsAdminOnly(t *testing.T) {
	s := newTestServer(t, nil)
	upload := test.CreateUpload(t, s.db, models.StatusMapping)
	path := fmt.Sprintf("/api/v1/uploads/%d/reject", upload.ID)

	resp, _ := s.postJSON(t, path, s.reviewer, map[string]string{"reason": "wrong station"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.postJSON(t, path, s.admin, map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)

	resp, body = s.postJSON(t, path, s.admin, map[string]string{"reason": "wrong station"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	rejected := body["upload"].(map[string]interface{})
	assert.Equal(t, string(models.StatusRejected), rejected["status"])
	assert.Equal(t, "admin", rejected["rejected_by"])

	finalized := test.CreateUpload(t, s.db, models.StatusFinalized)
	resp, body = s.postJSON(t, fmt.Sprintf("/api/v1/uploads/%d/reject", finalized.ID), s.admin, map[string]string{"reason": "late"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_finalized", body["kind"])
}
