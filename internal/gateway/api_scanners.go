package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/ov-project/govmd/internal/model"
)

func toScannerView(s model.Scanner) scannerView {
	return scannerView{
		UUID:       s.UUID,
		Name:       s.Name,
		Kind:       string(s.Kind),
		Host:       s.Host,
		Port:       s.Port,
		UnixSocket: s.UnixSocket,
	}
}

func (gw *Gateway) handleListScanners(w http.ResponseWriter, r *http.Request) {
	scanners, err := gw.scanners.ListScanners(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]scannerView, 0, len(scanners))
	for _, s := range scanners {
		out = append(out, toScannerView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

type createScannerRequest struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	UnixSocket string `json:"unix_socket"`
	CACert     string `json:"ca_cert"`
	ClientCert string `json:"client_cert"`
	ClientKey  string `json:"client_key"`
}

func (gw *Gateway) handleCreateScanner(w http.ResponseWriter, r *http.Request) {
	var req createScannerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Kind == "" {
		writeError(w, http.StatusBadRequest, "name and kind are required")
		return
	}
	sc := &model.Scanner{
		UUID:       uuid.NewString(),
		Name:       req.Name,
		Kind:       model.ScannerKind(req.Kind),
		Host:       req.Host,
		Port:       req.Port,
		UnixSocket: req.UnixSocket,
		CACert:     req.CACert,
		ClientCert: req.ClientCert,
		ClientKey:  req.ClientKey,
	}
	if err := gw.scanners.CreateScanner(r.Context(), sc); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toScannerView(*sc))
}
