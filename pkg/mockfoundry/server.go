// Package mockfoundry serves the subset of the Foundry dataset API used by the translator,
// backed by memory and an optional directory, for local runs and tests.
package mockfoundry

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Upload records a file upload into a dataset transaction.
type Upload struct {
	DatasetRID string
	TxnRID     string
	FilePath   string
	Bytes      []byte
}

// Server implements a minimal Foundry-like dataset API.
type Server struct {
	inputDir  string
	uploadDir string

	mu      sync.Mutex
	calls   []Call
	uploads []Upload

	expectedAuthorization string

	nextTxn int
	txns    map[string]*txnState
	// order lists transaction RIDs per dataset, oldest first.
	order map[string][]string

	// heads holds the last committed contents per dataset for read-after-write.
	heads map[string][]byte
}

type txnState struct {
	rid        string
	datasetRID string
	branch     string
	created    time.Time
	committed  bool
	files      map[string][]byte
}

// New constructs a mock server. Input datasets are read from <inputDir>/<rid>.csv; committed
// heads are persisted under uploadDir when it is set.
func New(inputDir, uploadDir string) *Server {
	return &Server{
		inputDir:  inputDir,
		uploadDir: uploadDir,
		nextTxn:   1,
		txns:      make(map[string]*txnState),
		order:     make(map[string][]string),
		heads:     make(map[string][]byte),
	}
}

// RequireBearerToken enforces a matching Authorization header. An empty token disables the check.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// SeedDataset sets the committed contents of a dataset.
func (s *Server) SeedDataset(datasetRID string, csv []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[datasetRID] = append([]byte(nil), csv...)
}

// Handler returns the HTTP handler serving the mock API under /api.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.record, s.authorize)

	r.Route("/api/v2/datasets/{rid}", func(r chi.Router) {
		r.Get("/branches/{branch}", s.handleGetBranch)
		r.Get("/readTable", s.handleReadTable)
		r.Post("/transactions", s.handleCreateTransaction)
		r.Get("/transactions", s.handleListTransactions)
		r.Post("/transactions/{txn}/commit", s.handleCommit)
		r.Post("/files/*", s.handleUpload)
	})
	return r
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Uploads returns a snapshot of uploads made to the server.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		expected := s.expectedAuthorization
		s.mu.Unlock()
		if expected != "" && r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Default:Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type conjureError struct {
	ErrorCode       string `json:"errorCode"`
	ErrorName       string `json:"errorName"`
	ErrorInstanceID string `json:"errorInstanceId"`
}

func writeError(w http.ResponseWriter, status int, code, name string) {
	writeJSON(w, status, conjureError{
		ErrorCode:       code,
		ErrorName:       name,
		ErrorInstanceID: fmt.Sprintf("mock-%d", time.Now().UnixNano()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func datasetRID(r *http.Request) (string, bool) {
	rid := chi.URLParam(r, "rid")
	return rid, isSafeToken(rid)
}

// readHead returns the committed contents, falling back to the persisted head and then
// to the input directory.
func (s *Server) readHead(rid string) ([]byte, bool) {
	s.mu.Lock()
	head, ok := s.heads[rid]
	s.mu.Unlock()
	if ok {
		return head, true
	}

	if s.uploadDir != "" {
		if b, err := os.ReadFile(s.committedTablePath(rid)); err == nil {
			s.mu.Lock()
			s.heads[rid] = b
			s.mu.Unlock()
			return b, true
		}
	}
	if s.inputDir != "" {
		if b, err := os.ReadFile(filepath.Join(s.inputDir, rid+".csv")); err == nil {
			return b, true
		}
	}
	return nil, false
}

type branchResp struct {
	Name           string `json:"name"`
	TransactionRID string `json:"transactionRid,omitempty"`
}

func (s *Server) handleGetBranch(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	branch := chi.URLParam(r, "branch")

	s.mu.Lock()
	var latest string
	order := s.order[rid]
	for i := len(order) - 1; i >= 0; i-- {
		if t := s.txns[order[i]]; t != nil && (t.branch == "" || t.branch == branch) {
			latest = t.rid
			break
		}
	}
	s.mu.Unlock()

	if latest == "" {
		if _, ok := s.readHead(rid); !ok {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "BranchNotFound")
			return
		}
	}
	writeJSON(w, http.StatusOK, branchResp{Name: branch, TransactionRID: latest})
}

func (s *Server) handleReadTable(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	b, ok := s.readHead(rid)
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "DatasetNotFound")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = w.Write(b)
}

type createTxnReq struct {
	TransactionType string `json:"transactionType"`
}

type txnResp struct {
	RID             string  `json:"rid"`
	TransactionType string  `json:"transactionType"`
	Status          string  `json:"status"`
	CreatedTime     string  `json:"createdTime"`
	ClosedTime      *string `json:"closedTime,omitempty"`
}

func (t *txnState) resp() txnResp {
	out := txnResp{
		RID:             t.rid,
		TransactionType: "SNAPSHOT",
		Status:          "OPEN",
		CreatedTime:     t.created.UTC().Format(time.RFC3339Nano),
	}
	if t.committed {
		out.Status = "COMMITTED"
		closed := out.CreatedTime
		out.ClosedTime = &closed
	}
	return out
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	var req createTxnReq
	if b, _ := io.ReadAll(r.Body); len(b) > 0 {
		_ = json.Unmarshal(b, &req)
	}
	if req.TransactionType != "" && req.TransactionType != "SNAPSHOT" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}

	s.mu.Lock()
	for _, existing := range s.order[rid] {
		if t := s.txns[existing]; t != nil && !t.committed {
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "CONFLICT", "OpenTransactionAlreadyExists")
			return
		}
	}
	t := &txnState{
		rid:        fmt.Sprintf("ri.foundry.main.transaction.%06d", s.nextTxn),
		datasetRID: rid,
		branch:     r.URL.Query().Get("branchName"),
		created:    time.Now(),
		files:      make(map[string][]byte),
	}
	s.nextTxn++
	s.txns[t.rid] = t
	s.order[rid] = append(s.order[rid], t.rid)
	resp := t.resp()
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

type listTxnsResp struct {
	Data []txnResp `json:"data"`
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	if r.URL.Query().Get("preview") != "true" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "ApiFeaturePreviewUsageOnly")
		return
	}

	s.mu.Lock()
	order := s.order[rid]
	out := listTxnsResp{Data: make([]txnResp, 0, len(order))}
	for i := len(order) - 1; i >= 0; i-- {
		out.Data = append(out.Data, s.txns[order[i]].resp())
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	filePath, ok := strings.CutSuffix(chi.URLParam(r, "*"), "/upload")
	if !ok || !isSafeFilePath(filePath) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	txnRID := r.URL.Query().Get("transactionRid")

	b, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.txns[txnRID]
	if t == nil || t.datasetRID != rid {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "TransactionNotFound")
		return
	}
	if t.committed {
		writeError(w, http.StatusConflict, "CONFLICT", "TransactionNotOpen")
		return
	}
	t.files[filePath] = b
	s.uploads = append(s.uploads, Upload{DatasetRID: rid, TxnRID: txnRID, FilePath: filePath, Bytes: b})

	writeJSON(w, http.StatusOK, map[string]string{"path": filePath, "transactionRid": txnRID})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	rid, ok := datasetRID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	txnRID := chi.URLParam(r, "txn")

	s.mu.Lock()
	t := s.txns[txnRID]
	switch {
	case t == nil || t.datasetRID != rid:
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "TransactionNotFound")
		return
	case t.committed:
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "CONFLICT", "TransactionNotOpen")
		return
	case len(t.files) != 1:
		// readTable serves a single CSV, so a snapshot must hold exactly one file.
		s.mu.Unlock()
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Conjure:InvalidArgument")
		return
	}
	var head []byte
	for _, b := range t.files {
		head = b
	}
	t.committed = true
	s.heads[rid] = head
	resp := t.resp()
	s.mu.Unlock()

	if s.uploadDir != "" {
		p := s.committedTablePath(rid)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Default:Internal")
			return
		}
		if err := os.WriteFile(p, head, 0o644); err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Default:Internal")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) committedTablePath(datasetRID string) string {
	return filepath.Join(s.uploadDir, datasetRID, "_committed", "readTable.csv")
}

func isSafeToken(s string) bool {
	return s != "" && !strings.ContainsAny(s, "/\\")
}

func isSafeFilePath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	for _, part := range strings.Split(p, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}
