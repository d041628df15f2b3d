// Package fakeapi is an in-process implementation of the watermarking
// service used by tests. Each job can be scripted by the name of its first
// uploaded file: transient 503s, rejections, slow processing or a remote
// failure.
package fakeapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// BasePath is where the fake mounts the document API.
const BasePath = "/api/document"

// Behavior scripts how the fake treats a job.
type Behavior struct {
	SubmitFailures int    // 503 replies before the upload is accepted
	Reject         bool   // 422 on every upload
	PollFailures   int    // 503 replies on poll before answering
	PendingPolls   int    // "processing" answers before the result is ready
	Fail           string // remote failure reason reported by poll
	FetchFailures  int    // 503 replies on download before serving the file
}

type part struct {
	name string
	data []byte
}

type job struct {
	token      string
	watermark  string
	parts      []part
	behavior   Behavior
	polls      int
	pollFails  int
	fetchFails int
}

// Server is the scripted fake.
type Server struct {
	mu        sync.Mutex
	behaviors map[string]Behavior
	attempts  map[string]int
	jobs      map[string]*job
	accepted  []string
	engine    *gin.Engine
}

// New creates a fake with no scripted behavior: every job succeeds on the
// first poll.
func New() *Server {
	gin.SetMode(gin.TestMode)

	s := &Server{
		behaviors: map[string]Behavior{},
		attempts:  map[string]int{},
		jobs:      map[string]*job{},
	}

	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group(BasePath)
	api.POST("/files", s.submit)  // upload one or more files
	api.GET("/*path", s.dispatch) // /url/:token polls, /:token downloads

	s.engine = r
	return s
}

// Script sets the behavior of jobs whose first file is name.
func (s *Server) Script(name string, b Behavior) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[name] = b
}

// Serve starts the fake on a local listener. Callers close the returned server.
func (s *Server) Serve() *httptest.Server {
	return httptest.NewServer(s.engine)
}

// BaseURL returns the API base for a server started with Serve.
func BaseURL(srv *httptest.Server) string {
	return srv.URL + BasePath
}

// Attempts returns how many uploads were received for jobs whose first file is name.
func (s *Server) Attempts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[name]
}

// Accepted returns the first file name of every accepted job, in order.
func (s *Server) Accepted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accepted...)
}

func (s *Server) submit(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		fail(c, http.StatusBadRequest, fmt.Errorf("parse multipart form failed: %v", err))
		return
	}

	headers := c.Request.MultipartForm.File["files[]"]
	if len(headers) == 0 {
		fail(c, http.StatusBadRequest, errors.New("files[] is required"))
		return
	}

	parts := make([]part, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Errorf("failed to open %s", h.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			fail(c, http.StatusBadRequest, fmt.Errorf("failed to read %s", h.Filename))
			return
		}
		parts = append(parts, part{name: h.Filename, data: data})
	}

	first := parts[0].name

	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[first]++
	b := s.behaviors[first]
	if s.attempts[first] <= b.SubmitFailures {
		fail(c, http.StatusServiceUnavailable, errors.New("service unavailable"))
		return
	}
	if b.Reject {
		fail(c, http.StatusUnprocessableEntity, errors.New("unsupported document"))
		return
	}

	token := fmt.Sprintf("tok-%d", len(s.jobs)+1)
	s.jobs[token] = &job{
		token:     token,
		watermark: c.PostForm("watermark"),
		parts:     parts,
		behavior:  b,
	}
	s.accepted = append(s.accepted, first)

	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) dispatch(c *gin.Context) {
	path := strings.TrimPrefix(c.Param("path"), "/")
	if token, ok := strings.CutPrefix(path, "url/"); ok {
		s.poll(c, token)
		return
	}
	s.download(c, path)
}

func (s *Server) poll(c *gin.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[token]
	if !ok {
		fail(c, http.StatusNotFound, errors.New("unknown token"))
		return
	}
	if j.pollFails < j.behavior.PollFailures {
		j.pollFails++
		fail(c, http.StatusServiceUnavailable, errors.New("service unavailable"))
		return
	}
	if j.behavior.Fail != "" {
		c.JSON(http.StatusOK, gin.H{"error": j.behavior.Fail})
		return
	}
	if j.polls < j.behavior.PendingPolls {
		j.polls++
		c.JSON(http.StatusOK, gin.H{"status": "processing"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": BasePath + "/" + token})
}

func (s *Server) download(c *gin.Context, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[token]
	if !ok {
		fail(c, http.StatusNotFound, errors.New("unknown token"))
		return
	}
	if j.behavior.Fail != "" || j.polls < j.behavior.PendingPolls {
		fail(c, http.StatusConflict, errors.New("document is not ready"))
		return
	}
	if j.fetchFails < j.behavior.FetchFailures {
		j.fetchFails++
		fail(c, http.StatusServiceUnavailable, errors.New("service unavailable"))
		return
	}

	c.Data(http.StatusOK, "application/pdf", render(j.watermark, j.parts))
}

// render builds the returned document: each uploaded part preceded by the
// watermark text, concatenated in upload order.
func render(watermark string, parts []part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		fmt.Fprintf(&buf, "[%s] %s\n", watermark, p.name)
		buf.Write(p.data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// fail sends an error JSON response with the specified HTTP status code.
func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"message": err.Error()})
}
