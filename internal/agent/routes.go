package agent

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andycostintoma/remote-test-agent/internal/filter"
	"github.com/andycostintoma/remote-test-agent/internal/httpx"
	"github.com/andycostintoma/remote-test-agent/internal/pullstream"
	"github.com/andycostintoma/remote-test-agent/internal/tarcodec"
	"go.uber.org/zap"
)

const execPathPrefix = "/exec/"
const filesPathPrefix = "/files/"

// Router builds the httpx.Handler that dispatches requests to a's route
// handlers. HEAD is normalized to GET before dispatch: that's a
// routing-layer rewrite rather than an HTTP-engine concern, so the engine
// stays agnostic to any particular method-normalization policy.
func Router(a *Agent) httpx.Handler {
	return func(req *httpx.Request) *httpx.Response {
		method := req.Method
		if method == "HEAD" {
			method = "GET"
		}
		path := req.URL.Path

		switch {
		case method == "GET" && path == "/image":
			return a.getImage(req)
		case method == "POST" && path == "/image/stop":
			return a.stopImage(req)
		case method == "GET" && path == "/tar":
			return a.getTar(req)
		case method == "POST" && path == "/tar":
			return a.postTar(req)
		case method == "DELETE" && path == "/tree":
			return a.deleteTree(req)
		case method == "POST" && path == execPathPrefix:
			return a.startExec(req)
		case method == "GET" && strings.HasPrefix(path, execPathPrefix):
			return a.getExec(req, strings.TrimPrefix(path, execPathPrefix))
		case method == "GET" && strings.HasPrefix(path, filesPathPrefix):
			return a.getFile(req, strings.TrimPrefix(path, filesPathPrefix))
		default:
			return notFound()
		}
	}
}

func jsonResponse(status int, v any) *httpx.Response {
	data, err := jsonAPI.Marshal(v)
	if err != nil {
		return textResponse(500, "internal: "+err.Error())
	}
	h := httpx.Header{}
	h.Set("Content-Type", "application/json")
	return &httpx.Response{
		StatusCode:    status,
		Header:        h,
		ContentLength: int64(len(data)),
		Body:          bytes.NewReader(data),
	}
}

func textResponse(status int, body string) *httpx.Response {
	h := httpx.Header{}
	h.Set("Content-Type", "text/plain")
	return &httpx.Response{
		StatusCode:    status,
		Header:        h,
		ContentLength: int64(len(body)),
		Body:          strings.NewReader(body),
	}
}

func emptyResponse(status int) *httpx.Response {
	return &httpx.Response{StatusCode: status, Header: httpx.Header{}, ContentLength: 0, Body: bytes.NewReader(nil)}
}

func notFound() *httpx.Response { return emptyResponse(404) }

// hasQueryFlag reports whether raw query string contains key=1 as one of
// its '&'-separated pairs.
func hasQueryFlag(rawQuery, key string) bool {
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == key+"=1" {
			return true
		}
	}
	return false
}

// getImage implements GET /image.
func (a *Agent) getImage(_ *httpx.Request) *httpx.Response {
	return jsonResponse(200, map[string]string{
		"status": a.StatusText(),
		"name":   a.ImageName,
	})
}

// stopImage implements POST /image/stop. A 404 when no stop command was
// configured means the agent cannot be asked to stop at all; otherwise the
// command runs at most once and the handler always answers 303.
func (a *Agent) stopImage(_ *httpx.Request) *httpx.Response {
	result := a.Stop()
	if !result.Configured {
		return notFound()
	}
	h := httpx.Header{}
	h.Set("Location", "/image")
	return &httpx.Response{StatusCode: 303, Header: h, ContentLength: 0, Body: bytes.NewReader(nil)}
}

// getTar implements GET /tar, streaming a ustar archive of the workspace
// through the pull-stream channel so the whole archive is never buffered.
// ?gzip=1 opts into a gzip-wrapped archive via a query parameter rather
// than a second route.
func (a *Agent) getTar(req *httpx.Request) *httpx.Response {
	wantGzip := hasQueryFlag(req.URL.RawQuery, "gzip")

	producer := func(out io.Writer) error {
		var tw *tarcodec.Writer
		var gz *filter.Writer
		if wantGzip {
			gz = filter.NewWriter(out, filter.NewGzip(true))
			tw = tarcodec.NewWriter(gz)
		} else {
			tw = tarcodec.NewWriter(out)
		}

		names, err := EnumFiles(a.Workspace)
		if err != nil {
			return err
		}
		for _, name := range names {
			full := filepath.Join(a.Workspace, filepath.FromSlash(name))
			if err := addTarEntry(tw, name, full); err != nil {
				return err
			}
		}
		if err := tw.Close(); err != nil {
			return err
		}
		if gz != nil {
			return gz.Close()
		}
		return nil
	}

	body := pullstream.NewWithErrorLog(producer, func(err error) {
		a.logger.Warn("get_tar producer failed", zap.Error(err))
	})

	h := httpx.Header{}
	if wantGzip {
		h.Set("Content-Type", "application/x-gzip")
	} else {
		h.Set("Content-Type", "application/x-tar")
	}
	return &httpx.Response{StatusCode: 200, Header: h, ContentLength: -1, Body: body}
}

func addTarEntry(tw *tarcodec.Writer, name, full string) error {
	f, err := os.Open(full)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	return tw.Add(name, uint64(info.Size()), uint64(info.ModTime().Unix()), f)
}

// postTar implements POST /tar: unpack either application/x-tar or
// application/x-gzip (gzip-wrapped tar) into the workspace.
func (a *Agent) postTar(req *httpx.Request) *httpx.Response {
	ct, _ := req.Header.Single("Content-Type")
	ct = strings.TrimSpace(strings.ToLower(ct))

	var src io.Reader = req.Body
	switch ct {
	case "application/x-gzip":
		src = filter.NewReader(req.Body, filter.NewGzip(false))
	case "application/x-tar":
		// use req.Body as-is
	default:
		return emptyResponse(406)
	}

	tr := tarcodec.NewReader(src)
	for {
		name, _, content, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return textResponse(500, err.Error())
		}

		dest, err := ResolveWorkspacePath(a.Workspace, name)
		if err != nil {
			return textResponse(500, err.Error())
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return textResponse(500, err.Error())
		}
		out, err := os.Create(dest)
		if err != nil {
			return textResponse(500, err.Error())
		}
		_, err = io.Copy(out, content)
		closeErr := out.Close()
		if err != nil {
			return textResponse(500, err.Error())
		}
		if closeErr != nil {
			return textResponse(500, closeErr.Error())
		}
	}
	return emptyResponse(200)
}

// deleteTree implements DELETE /tree: recursively removes the workspace.
func (a *Agent) deleteTree(_ *httpx.Request) *httpx.Response {
	if err := os.RemoveAll(a.Workspace); err != nil {
		return textResponse(500, err.Error())
	}
	return emptyResponse(200)
}

// getFile implements GET /files/<path>.
func (a *Agent) getFile(_ *httpx.Request, rel string) *httpx.Response {
	full, err := ResolveWorkspacePath(a.Workspace, rel)
	if err != nil {
		return notFound()
	}

	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return notFound()
		}
		return textResponse(500, err.Error())
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return textResponse(500, err.Error())
	}
	if info.IsDir() {
		f.Close()
		return notFound()
	}

	h := httpx.Header{}
	h.Set("Content-Type", "application/octet-stream")
	return &httpx.Response{StatusCode: 200, Header: h, ContentLength: info.Size(), Body: f}
}

// execRequestBody is the JSON body of POST /exec/.
type execRequestBody struct {
	Cmd  []string `json:"cmd"`
	Pure bool     `json:"pure"`
}

// execStatusBody is the JSON response shape for both POST /exec/ and
// GET /exec/<id>.
type execStatusBody struct {
	ID       int      `json:"id"`
	Command  []string `json:"command"`
	ExitCode *int     `json:"exit_code"`
	Pure     bool     `json:"pure"`
}

// startExec implements POST /exec/.
func (a *Agent) startExec(req *httpx.Request) *httpx.Response {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return textResponse(400, "bad request body")
	}

	var body execRequestBody
	if err := jsonAPI.Unmarshal(data, &body); err != nil || len(body.Cmd) == 0 {
		return textResponse(400, "expected {\"cmd\": [string], \"pure\": bool}")
	}

	pi, err := a.StartProcess(body.Cmd, body.Pure)
	if err != nil {
		return textResponse(400, err.Error())
	}

	resp := execStatusResponse(pi)
	resp.StatusCode = 201
	resp.Header.Set("Location", execPathPrefix[1:]+a.Identity.AgentUUID+"-"+strconv.Itoa(pi.Index))
	return resp
}

// getExec implements GET /exec/<uuid>-<idx>. A prefix mismatch or an
// out-of-range index are both reported as 404, not 400.
func (a *Agent) getExec(_ *httpx.Request, id string) *httpx.Response {
	uuidLen := len(a.Identity.AgentUUID)
	if len(id) < uuidLen+1 || !strings.HasPrefix(id, a.Identity.AgentUUID) || id[uuidLen] != '-' {
		return notFound()
	}

	idxStr := id[uuidLen+1:]
	idx, err := strconv.Atoi(idxStr)
	if err != nil || strconv.Itoa(idx) != idxStr {
		return notFound()
	}

	pi, ok := a.Process(idx)
	if !ok {
		return notFound()
	}
	return execStatusResponse(pi)
}

func execStatusResponse(pi *ProcessInfo) *httpx.Response {
	body := execStatusBody{ID: pi.Index, Command: pi.Cmd, Pure: pi.Pure}
	if exited, code := pi.Poll(); exited {
		body.ExitCode = &code
	}
	return jsonResponse(200, body)
}
