package stdlib

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/thomasrohde/sandscript/pkg/diagnostics"
	"github.com/thomasrohde/sandscript/pkg/evaluator"
)

// maxBody caps how much of a response body is read.
const maxBody = 16 << 20

func httpModule() *evaluator.Module {
	return evaluator.NewModule("http", map[string]evaluator.NativeFunc{
		"get": httpGet,
	})
}

// http.get(url, { headers }?) → { status, headers, body }
func httpGet(t *evaluator.Thread, args []evaluator.Value) (evaluator.Value, error) {
	rawURL, err := argString("http.get", args, 0)
	if err != nil {
		return nil, err
	}
	opts, err := optRecord("http.get", args, 1)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(rawURL, "data:") {
		body, err := decodeDataURL(rawURL)
		if err != nil {
			return nil, evaluator.Errorf(diagnostics.EIO, "http.get: %s", err)
		}
		return httpResponse(t, http.StatusOK, nil, body)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, evaluator.Errorf(diagnostics.EIO, "http.get: %s", err)
	}
	if v, ok := opts.Get("headers"); ok {
		if hdrs, ok := v.(*evaluator.Record); ok {
			for _, kv := range hdrs.Pairs {
				if s, ok := kv.Value.(evaluator.String); ok {
					req.Header.Set(kv.Key, s.Value)
				}
			}
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, evaluator.Errorf(diagnostics.EIO, "http.get: %s", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, evaluator.Errorf(diagnostics.EIO, "http.get: %s", err)
	}
	t.Logger().Debug("http.get", "url", rawURL, "status", resp.StatusCode, "bytes", len(body))
	return httpResponse(t, resp.StatusCode, resp.Header, string(body))
}

func httpResponse(t *evaluator.Thread, status int, header http.Header, body string) (evaluator.Value, error) {
	names := make([]string, 0, len(header))
	for k := range header {
		names = append(names, k)
	}
	sort.Strings(names)
	pairs := make([]evaluator.KeyValue, len(names))
	for i, k := range names {
		pairs[i] = evaluator.KeyValue{
			Key:   strings.ToLower(k),
			Value: evaluator.NewString(strings.Join(header[k], ", ")),
		}
	}
	headers, err := t.MakeRecord(pairs)
	if err != nil {
		return nil, err
	}
	bodyVal, err := t.MakeString(body)
	if err != nil {
		return nil, err
	}
	return t.MakeRecord([]evaluator.KeyValue{
		{Key: "status", Value: num(status)},
		{Key: "headers", Value: headers},
		{Key: "body", Value: bodyVal},
	})
}

// decodeDataURL returns the payload of a data: URL such as
// data:text/plain,Hello%20World.
func decodeDataURL(dataURL string) (string, error) {
	rest := strings.TrimPrefix(dataURL, "data:")
	_, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", fmt.Errorf("invalid data URL")
	}
	decoded, err := url.PathUnescape(payload)
	if err != nil {
		return payload, nil
	}
	return decoded, nil
}
