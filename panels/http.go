package panels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultHTTPTimeout = 30 * time.Second

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

// httpPanel is shared by the token and form strategies.
type httpPanel struct {
	cfg     *models.PanelConfig
	client  *http.Client
	retrier *Retrier
}

func newHTTPPanel(cfg *models.PanelConfig, client *http.Client, retrier *Retrier) httpPanel {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if retrier == nil {
		retrier = NewRetrier()
	}
	return httpPanel{cfg: cfg, client: client, retrier: retrier}
}

func (h *httpPanel) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(h.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (h *httpPanel) path(key, def string, vars map[string]string) string {
	p := h.cfg.Option(key, def)
	for k, v := range vars {
		p = strings.ReplaceAll(p, "{"+k+"}", v)
	}
	return h.url(p)
}

type response struct {
	status int
	body   []byte
	url    string
}

func (h *httpPanel) do(ctx context.Context, client *http.Client, r *http.Request) (*response, error) {
	requestId, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("could not generate request id: %w", err)
	}
	r = r.WithContext(ctx)
	r.Header.Set("X-Request-ID", requestId.String())
	if r.Header.Get("User-Agent") == "" {
		r.Header.Set("User-Agent", userAgent)
	}

	rsp, err := client.Do(r)
	if err != nil {
		return nil, classify(err, "%s %s", r.Method, r.URL.Path)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.Debug().Err(err).Msg("could not close response body")
		}
	}(rsp.Body)

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, classify(err, "failed to read response body")
	}

	return &response{status: rsp.StatusCode, body: body, url: rsp.Request.URL.String()}, nil
}

// statusError maps a non-2xx panel answer onto the failure taxonomy.
func statusError(rsp *response, what string) error {
	raw := truncate(string(rsp.body), 2048)
	switch {
	case rsp.status == http.StatusUnauthorized || rsp.status == http.StatusForbidden:
		return &Error{Kind: KindAuthenticationFailed, Message: fmt.Sprintf("%s returned %d", what, rsp.status), Raw: raw}
	case rsp.status == http.StatusNotFound:
		return &Error{Kind: KindTargetNotFound, Message: fmt.Sprintf("%s returned 404", what), Raw: raw}
	case rsp.status == http.StatusRequestTimeout || rsp.status == http.StatusGatewayTimeout:
		return &Error{Kind: KindTimeout, Message: fmt.Sprintf("%s returned %d", what, rsp.status), Raw: raw}
	case rsp.status >= 500:
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("%s returned %d", what, rsp.status), Raw: raw}
	}
	return &Error{Kind: KindRemoteRejected, Message: messageOf(rsp.body, fmt.Sprintf("%s returned %d", what, rsp.status)), Raw: raw}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// lookup resolves a dotted path ("data.token") inside decoded JSON.
func lookup(v any, path string) (any, bool) {
	for _, part := range strings.Split(path, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		if v, ok = m[part]; !ok {
			return nil, false
		}
	}
	return v, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func messageOf(body []byte, def string) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return def
	}
	for _, key := range []string{"message", "error", "msg"} {
		if m, ok := lookup(v, key); ok {
			if s := stringify(m); s != "" {
				return s
			}
		}
	}
	return def
}
