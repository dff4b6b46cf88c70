package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/Dhanush010/Syncscribe/store"
)

const maxBodyBytes = 8 << 20

type documentJSON struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type versionJSON struct {
	ID         string    `json:"_id"`
	DocumentID string    `json:"documentId"`
	Content    string    `json:"content"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"createdAt"`
}

type documentRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

type versionRequest struct {
	DocumentID string `json:"documentId"`
	Content    string `json:"content"`
	Name       string `json:"name"`
}

func toDocumentJSON(d store.Document) documentJSON {
	return documentJSON{ID: d.ID, Title: d.Title, Content: d.Content, UpdatedAt: d.UpdatedAt}
}

func toVersionJSON(v store.Version) versionJSON {
	return versionJSON{
		ID:         v.ID,
		DocumentID: v.DocumentID,
		Content:    v.Content,
		CreatedBy:  v.CreatedBy,
		Name:       v.Label,
		CreatedAt:  v.CreatedAt,
	}
}

// documentAPI serves the document catalogue and its version history.
type documentAPI struct {
	store store.Store
	now   func() time.Time
}

func registerDocumentAPI(r *mux.Router, s store.Store) {
	api := &documentAPI{store: s, now: time.Now}

	r.Methods(http.MethodGet).Path("/api/documents").HandlerFunc(api.listDocuments)
	r.Methods(http.MethodPost).Path("/api/documents").HandlerFunc(api.createDocument)
	r.Methods(http.MethodGet).Path("/api/documents/{id}").HandlerFunc(api.getDocument)
	r.Methods(http.MethodPut).Path("/api/documents/{id}").HandlerFunc(api.updateDocument)
	r.Methods(http.MethodDelete).Path("/api/documents/{id}").HandlerFunc(api.deleteDocument)

	r.Methods(http.MethodGet).Path("/api/versions/document/{id}").HandlerFunc(api.listVersions)
	r.Methods(http.MethodPost).Path("/api/versions").HandlerFunc(api.createVersion)
	r.Methods(http.MethodPost).Path("/api/versions/{id}/restore").HandlerFunc(api.restoreVersion)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.V(1).Infof("[http]write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeStoreError maps store errors onto status codes.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Document not found")
	case errors.Is(err, store.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, "Version not found")
	default:
		glog.Warningf("[http]%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (a *documentAPI) listDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.store.ListDocuments(r.Context())
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	out := make([]documentJSON, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentJSON(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *documentAPI) createDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var doc store.Document
	if req.Title != nil {
		doc.Title = *req.Title
	}
	if req.Content != nil {
		doc.Content = *req.Content
	}
	created, err := a.store.CreateDocument(r.Context(), doc)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	glog.V(1).Infof("[http]created document %s", created.ID)
	writeJSON(w, http.StatusCreated, toDocumentJSON(*created))
}

func (a *documentAPI) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.store.GetDocument(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentJSON(*doc))
}

func (a *documentAPI) updateDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	doc, err := a.store.UpdateDocument(r.Context(), mux.Vars(r)["id"], store.DocumentPatch{Title: req.Title, Content: req.Content})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDocumentJSON(*doc))
}

func (a *documentAPI) deleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := a.store.DeleteDocument(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (a *documentAPI) listVersions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.store.GetDocument(r.Context(), id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	versions, err := a.store.ListVersions(r.Context(), id)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	out := make([]versionJSON, 0, len(versions))
	for _, v := range versions {
		out = append(out, toVersionJSON(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *documentAPI) createVersion(w http.ResponseWriter, r *http.Request) {
	var req versionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := a.store.GetDocument(r.Context(), req.DocumentID); err != nil {
		writeStoreError(w, r, err)
		return
	}
	now := a.now()
	if req.Name == "" {
		req.Name = fmt.Sprintf("Version %s", now.Format("2006-01-02 15:04:05"))
	}
	v, err := a.store.CreateVersion(r.Context(), store.Version{
		DocumentID: req.DocumentID,
		Content:    req.Content,
		Label:      req.Name,
		CreatedAt:  now,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toVersionJSON(*v))
}

// restoreVersion copies a version's content back onto its document. Rooms
// open on the document see the restored content on their next join.
func (a *documentAPI) restoreVersion(w http.ResponseWriter, r *http.Request) {
	v, err := a.store.GetVersion(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	doc, err := a.store.UpdateDocument(r.Context(), v.DocumentID, store.DocumentPatch{Content: &v.Content})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	glog.Infof("[http]restored document %s to version %s", doc.ID, v.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Version restored",
		"document": toDocumentJSON(*doc),
	})
}
