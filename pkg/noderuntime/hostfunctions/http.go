package hostfunctions

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/flowlike-oss/wasmnoderuntime/pkg/noderuntime/manifest"
)

type httpResponse struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

func httpCapabilityFor(method string) manifest.Capability {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return manifest.CapHTTPGet
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return manifest.CapHTTPPost
	default:
		return manifest.CapHTTPAll
	}
}

// hHTTPRequest implements
// http_request(method, url, headers, body) -> (status, headers, body) as a
// single packed JSON result.
func hHTTPRequest(ctx context.Context, mod api.Module, state *HostState, methodPtr, methodLen, urlPtr, urlLen, headersPtr, headersLen, bodyPtr, bodyLen uint32) uint64 {
	method, ok := readArg(mod, methodPtr, methodLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}
	rawURL, ok := readArg(mod, urlPtr, urlLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}

	methodStr := string(method)
	cap := httpCapabilityFor(methodStr)
	if !state.Has(cap) && !state.Has(manifest.CapHTTPAll) {
		return packErr(ErrCodeCapabilityDenied)
	}

	parsed, err := url.Parse(string(rawURL))
	if err != nil {
		return packErr(ErrCodeInvalidArgument)
	}
	if state.Security != nil && !state.Security.HostAllowed(parsed.Hostname()) {
		state.Logger.Warn("http_request rejected: host not in allow-list", zap.String("host", parsed.Hostname()))
		return packErr(ErrCodeCapabilityDenied)
	}

	var headers map[string]string
	if headersLen > 0 {
		headerBytes, ok := readArg(mod, headersPtr, headersLen)
		if !ok {
			return packErr(ErrCodeInvalidArgument)
		}
		if err := json.Unmarshal(headerBytes, &headers); err != nil {
			return packErr(ErrCodeInvalidArgument)
		}
	}
	body, ok := readArg(mod, bodyPtr, bodyLen)
	if !ok {
		return packErr(ErrCodeInvalidArgument)
	}

	if state.Backends.HTTPClient == nil {
		return packErr(ErrCodeUpstreamFailure)
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, methodStr, parsed.String(), bodyReader)
	if err != nil {
		return packErr(ErrCodeInvalidArgument)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := state.Backends.HTTPClient.Do(req)
	if err != nil {
		state.Logger.Warn("http_request transport error", zap.Error(err), zap.String("url", parsed.String()))
		return packErr(ErrCodeUpstreamFailure)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return packErr(ErrCodeUpstreamFailure)
	}

	out, err := json.Marshal(httpResponse{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    string(respBody),
	})
	if err != nil {
		return packErr(ErrCodeHostInternal)
	}
	return writeResult(ctx, mod, state, out)
}
