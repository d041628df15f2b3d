// Package watermark is the HTTP client for the remote watermarking service.
//
// The service is asynchronous: Submit returns a handle right away, Poll
// reports whether the job is ready, and Fetch downloads the result once Poll
// has reported it done.
package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public watermarking API.
const DefaultBaseURL = "https://api.filigrane.beta.gouv.fr/api/document"

// maxErrBody bounds how much of an error response is kept in messages.
const maxErrBody = 512

// State is the remote processing state of a job.
type State string

const (
	StateProcessing State = "processing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Handle identifies a submitted job on the service.
type Handle struct {
	Token string
}

// Status is the result of a Poll.
type Status struct {
	State  State
	URL    string // download URL, set when done
	Reason string // failure message, set when failed
}

// Upload is one file of a job. Open is called on every submission attempt so
// a retried upload always starts from the beginning of the file.
type Upload struct {
	Name        string
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// Client talks to the watermarking API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu    sync.Mutex
	ready map[string]string // token -> download URL, filled by Poll
}

// NewClient creates a client for baseURL. apiKey is optional and sent as a
// bearer token when set.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		ready:   map[string]string{},
	}
}

// Submit uploads files as a single job with the given watermark text.
func (c *Client) Submit(ctx context.Context, files []Upload, text string) (Handle, error) {
	if len(files) == 0 {
		return Handle{}, fmt.Errorf("submit: %w: no files", ErrRejected)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	formErr := make(chan error, 1)
	go func() {
		err := writeForm(mw, files, text)
		formErr <- err
		pw.CloseWithError(err)
	}()
	defer pr.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", pr)
	if err != nil {
		return Handle{}, fmt.Errorf("submit: %w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, "submit", ErrRejected, &out); err != nil {
		select {
		case ferr := <-formErr:
			var lf *localFileError
			if errors.As(ferr, &lf) {
				return Handle{}, fmt.Errorf("submit: %w: %v", ErrRejected, lf)
			}
		default:
		}
		return Handle{}, err
	}
	if out.Token == "" {
		return Handle{}, fmt.Errorf("submit: %w: response has no token", ErrRejected)
	}
	return Handle{Token: out.Token}, nil
}

// writeForm streams the multipart body: one files[] part per upload and the
// watermark field.
func writeForm(mw *multipart.Writer, files []Upload, text string) error {
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files[]"; filename="%s"`, escapeQuotes(f.Name)))
		h.Set("Content-Type", f.ContentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return &localFileError{name: f.Name, err: err}
		}
		_, err = io.Copy(part, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", f.Name, err)
		}
	}
	if err := mw.WriteField("watermark", text); err != nil {
		return err
	}
	return mw.Close()
}

// localFileError is an upload that could not be opened locally. It is not
// worth retrying.
type localFileError struct {
	name string
	err  error
}

func (e *localFileError) Error() string { return "open " + e.name + ": " + e.err.Error() }
func (e *localFileError) Unwrap() error { return e.err }

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }

// Poll asks the service whether the job behind h is ready.
func (c *Client) Poll(ctx context.Context, h Handle) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/url/"+url.PathEscape(h.Token), nil)
	if err != nil {
		return Status{}, fmt.Errorf("poll: %w: %v", ErrRejected, err)
	}

	var out struct {
		URL    string `json:"url"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.do(req, "poll", ErrRejected, &out); err != nil {
		return Status{}, err
	}

	switch {
	case out.URL != "":
		c.mu.Lock()
		c.ready[h.Token] = out.URL
		c.mu.Unlock()
		return Status{State: StateDone, URL: out.URL}, nil
	case out.Error != "":
		return Status{State: StateFailed, Reason: out.Error}, nil
	case strings.EqualFold(out.Status, string(StateFailed)):
		return Status{State: StateFailed, Reason: "remote processing failed"}, nil
	default:
		return Status{State: StateProcessing}, nil
	}
}

// Fetch downloads the watermarked result. It fails with ErrFetch, without a
// request, unless Poll has reported the job done.
func (c *Client) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	c.mu.Lock()
	_, ok := c.ready[h.Token]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w: job is not done", h.Token, ErrFetch)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(h.Token), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w: %v", ErrFetch, err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(ctx, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classify("fetch", resp.StatusCode, readErrBody(resp.Body), ErrFetch)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, "fetch", err)
	}
	return data, nil
}

// do sends req and decodes a JSON reply into out.
func (c *Client) do(req *http.Request, op string, clientErr error, out interface{}) error {
	c.authorize(req)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(req.Context(), op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classify(op, resp.StatusCode, readErrBody(resp.Body), clientErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: %w: decode response: %v", op, clientErr, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// transportError wraps network failures as transient. When the caller's own
// context is done the context error is returned instead, so the caller can
// tell a deadline apart from a flaky network.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
}

func readErrBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrBody))
	return strings.TrimSpace(string(b))
}
