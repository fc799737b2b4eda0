package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm-backup/internal/audit"
	"crm-backup/internal/backup"
	"crm-backup/internal/config"
)

type fakeService struct {
	keyConfigured bool
	artifact      *backup.Artifact
	result        *backup.RestoreResult
	err           error

	actor    string
	restored []byte
	info     audit.RequestInfo
}

func (f *fakeService) KeyConfigured() bool { return f.keyConfigured }

func (f *fakeService) CreateBackup(ctx context.Context, actor string) (*backup.Artifact, error) {
	f.actor = actor
	f.info, _ = audit.RequestInfoFromContext(ctx)
	if f.err != nil {
		return nil, f.err
	}
	return f.artifact, nil
}

func (f *fakeService) RestoreBackup(ctx context.Context, actor string, data []byte) (*backup.RestoreResult, error) {
	f.actor = actor
	f.restored = data
	f.info, _ = audit.RequestInfoFromContext(ctx)
	if f.err != nil {
		return &backup.RestoreResult{Errors: []string{f.err.Error()}, Warnings: []string{}}, f.err
	}
	return f.result, nil
}

var testTokens = []config.TokenConfig{
	{Token: "admin-token", Actor: "admin@example.com", UserID: "u-1", Roles: []string{config.AdminRole}},
	{Token: "viewer-token", Actor: "viewer@example.com", Roles: []string{"viewer"}},
}

func newTestServer(svc *fakeService, opts Options) http.Handler {
	return NewRouter(svc, NewStaticTokenAuthenticator(testTokens), opts).Setup()
}

func doRequest(h http.Handler, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("User-Agent", "backup-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestServer(&fakeService{keyConfigured: true}, Options{})

	rec := doRequest(h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["keyConfigured"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := backup.NewMetrics(reg)
	require.NoError(t, err)

	h := newTestServer(&fakeService{}, Options{Gatherer: reg})
	rec := doRequest(h, http.MethodGet, "/metrics", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crm_backup_last_artifact_size_bytes")
}

func TestAuthentication(t *testing.T) {
	h := newTestServer(&fakeService{}, Options{})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer nope", http.StatusUnauthorized},
		{"missing role", "Bearer viewer-token", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/admin/backups", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestCreateBackup(t *testing.T) {
	svc := &fakeService{artifact: &backup.Artifact{
		Data:     []byte("sealed-bytes"),
		Checksum: strings.Repeat("ab", 32),
		Filename: "crm-backup-20240305-140709.htb",
		Records:  3,
	}}
	h := newTestServer(svc, Options{})

	rec := doRequest(h, http.MethodPost, "/api/admin/backups", "admin-token", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sealed-bytes", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, strings.Repeat("ab", 32), rec.Header().Get("X-Backup-Checksum"))
	assert.Equal(t, `attachment; filename=crm-backup-20240305-140709.htb`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "admin@example.com", svc.actor)
	assert.Equal(t, "u-1", svc.info.UserID)
	assert.Equal(t, "backup-test", svc.info.UserAgent)
}

func TestCreateBackup_MissingKey(t *testing.T) {
	h := newTestServer(&fakeService{err: backup.NewMissingKeyError()}, Options{})

	rec := doRequest(h, http.MethodPost, "/api/admin/backups", "admin-token", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "Backup encryption is not configured", resp.Message)
}

func TestRestoreBackup(t *testing.T) {
	svc := &fakeService{result: &backup.RestoreResult{
		Success:         true,
		RecordsRestored: 4,
		RecordsDeleted:  2,
		Tables:          map[string]*backup.TableRestoreStats{"accounts": {Deleted: 2, Restored: 4, Batches: 1}},
		Warnings:        []string{"snapshot version 0.9 differs"},
	}}
	h := newTestServer(svc, Options{})

	rec := doRequest(h, http.MethodPost, "/api/admin/backups/restore", "admin-token", bytes.NewReader([]byte("artifact")))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "Restored 4 records", resp.Message)
	require.NotNil(t, resp.RecordsRestored)
	assert.Equal(t, int64(4), *resp.RecordsRestored)
	assert.Equal(t, []string{"snapshot version 0.9 differs"}, resp.Warnings)
	assert.Equal(t, []byte("artifact"), svc.restored)
	assert.Equal(t, "admin@example.com", svc.actor)
}

func TestRestoreBackup_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"missing key", backup.NewMissingKeyError(), http.StatusServiceUnavailable, "Backup encryption is not configured"},
		{"integrity", backup.NewIntegrityError("checksum mismatch", nil), http.StatusBadRequest, "Backup file failed the integrity check"},
		{"decryption", backup.NewDecryptionError("authentication failed", nil), http.StatusBadRequest, "Backup file could not be decrypted with the configured key"},
		{"malformed", backup.NewMalformedArtifactError("bad json", nil), http.StatusBadRequest, "Backup file is malformed"},
		{"version", backup.NewVersionMismatchError("0.9", backup.SnapshotVersion), http.StatusUnprocessableEntity, "Backup snapshot version is not supported"},
		{"table restore", backup.NewTableRestoreError("contacts", backup.PhaseInsert, errors.New("duplicate key")), http.StatusInternalServerError, "Restore failed, no changes were committed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "Restore failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(&fakeService{err: tt.err}, Options{})
			rec := doRequest(h, http.MethodPost, "/api/admin/backups/restore", "admin-token", strings.NewReader("artifact"))

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeResponse(t, rec)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, []string{tt.err.Error()}, resp.Errors)
			require.NotNil(t, resp.RecordsRestored)
			assert.Zero(t, *resp.RecordsRestored)
		})
	}
}

func TestRestoreBackup_EmptyBody(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, Options{})

	rec := doRequest(h, http.MethodPost, "/api/admin/backups/restore", "admin-token", http.NoBody)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.restored)
}

func TestRestoreBackup_TooLarge(t *testing.T) {
	svc := &fakeService{}
	h := newTestServer(svc, Options{MaxRestoreBytes: 8})

	rec := doRequest(h, http.MethodPost, "/api/admin/backups/restore", "admin-token", strings.NewReader("0123456789"))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, decodeResponse(t, rec).Message, "8 B")
	assert.Nil(t, svc.restored)
}

func TestStaticTokenAuthenticator_CopiesRoles(t *testing.T) {
	tokens := []config.TokenConfig{{Token: "t", Actor: "a", Roles: []string{config.AdminRole}}}
	auth := NewStaticTokenAuthenticator(tokens)
	tokens[0].Roles[0] = "viewer"

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer t")
	p, err := auth.Authenticate(req)
	require.NoError(t, err)
	assert.True(t, p.HasRole(config.AdminRole))
}
