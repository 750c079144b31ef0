package mocksdmx

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

// Paths served by the mock registry.
const (
	CatalogPath    = "/rest/dataflow/all"
	DataPrefix     = "/rest/data/"
	DataflowPrefix = "/rest/dataflow/"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Server implements a minimal SDMX registry surface: the dataflow catalog, per-dataflow
// data exports and per-dataflow structure documents.
type Server struct {
	mu        sync.Mutex
	calls     []Call
	dataflows []sdmx.Dataflow
	catalog   []byte
	failures  map[string]int
	delay     time.Duration
}

// New constructs a mock registry that serves dataflows as its catalog.
func New(dataflows []sdmx.Dataflow) *Server {
	s := &Server{failures: make(map[string]int)}
	s.SetCatalog(dataflows)
	return s
}

// SetCatalog replaces the dataflows served by the catalog endpoint.
func (s *Server) SetCatalog(dataflows []sdmx.Dataflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataflows = append([]sdmx.Dataflow(nil), dataflows...)
	s.catalog = nil
}

// SetRawCatalog serves body verbatim from the catalog endpoint.
func (s *Server) SetRawCatalog(body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append([]byte(nil), body...)
}

// FailPath makes requests for the exact URL path answer with status.
func (s *Server) FailPath(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = status
}

// SetDelay holds every response for d, or until the client goes away.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DataPrefix, s.handleData)
	mux.HandleFunc(DataflowPrefix, s.handleDataflow)
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// DataURLTemplate returns a data query template rooted at baseURL.
func DataURLTemplate(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + DataPrefix + "{agency_id},{dataflow_id},/all?format=csvfilewithlabels"
}

// StructureURLTemplate returns a structure query template rooted at baseURL.
func StructureURLTemplate(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + DataflowPrefix + "{agency_id}/{dataflow_id}/{version}?references=all"
}

// CatalogURL returns the catalog endpoint rooted at baseURL.
func CatalogURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + CatalogPath
}

// begin records the call and applies configured delay and failures.
// It returns false when the response has already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
	delay := s.delay
	status, failing := s.failures[r.URL.Path]
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-r.Context().Done():
			t.Stop()
			return false
		}
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if failing {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `<Error><ErrorMessage code="%d"><Text>mock failure</Text></ErrorMessage></Error>`, status)
		return false
	}
	return true
}

func (s *Server) handleDataflow(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r) {
		return
	}

	// /rest/dataflow/all
	// /rest/dataflow/{agency}/{dataflow}/{version}
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, DataflowPrefix), "/")
	if rest == "all" {
		s.serveCatalog(w)
		return
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		http.NotFound(w, r)
		return
	}
	df, ok := s.lookup(parts[0], parts[1], parts[2])
	if !ok {
		http.NotFound(w, r)
		return
	}
	b, err := sdmx.EncodeCatalog([]sdmx.Dataflow{df})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(b)
}

func (s *Server) serveCatalog(w http.ResponseWriter) {
	s.mu.Lock()
	body := s.catalog
	dfs := s.dataflows
	s.mu.Unlock()

	if body == nil {
		var err error
		body, err = sdmx.EncodeCatalog(dfs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(body)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r) {
		return
	}

	// /rest/data/{agency},{dataflow},{version?}/{key}
	rest := strings.TrimPrefix(r.URL.Path, DataPrefix)
	flowRef, _, _ := strings.Cut(rest, "/")
	parts := strings.Split(flowRef, ",")
	if len(parts) < 2 {
		http.NotFound(w, r)
		return
	}
	df, ok := s.lookup(parts[0], parts[1], "")
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	_, _ = fmt.Fprintf(w, "DATAFLOW,OBS_VALUE\n%s:%s(%s),1\n", df.AgencyID, df.ID, df.Version)
}

// lookup finds a dataflow by agency and id; an empty version matches any.
func (s *Server) lookup(agency, id, version string) (sdmx.Dataflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, df := range s.dataflows {
		if df.AgencyID == agency && df.ID == id && (version == "" || df.Version == version) {
			return df, true
		}
	}
	return sdmx.Dataflow{}, false
}
