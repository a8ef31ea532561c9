/*
Copyright 2025 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package httpproxy

import (
	"io"
	"net/http"

	"github.com/google/ouli/internal/config"
	"github.com/google/ouli/internal/fingerprint"
	"github.com/google/ouli/internal/ouerr"
	"github.com/google/ouli/internal/redact"
	"github.com/google/ouli/internal/wire"
)

// SessionHeader names the test name a client attaches to a request so the
// recording/replay session can be resolved.
const SessionHeader = "X-Ouli-Test-Name"

// effectiveLimits fills any zero size or header-count field of l with the
// package default (MaxConnections is left as given),
// so callers built with a zero-value config.LimitsConfig (tests, or an
// endpoint whose config predates defaulting) still get bounded behavior.
func effectiveLimits(l config.LimitsConfig) config.LimitsConfig {
	if l.MaxRequestSize == 0 {
		l.MaxRequestSize = config.DefaultMaxRequestSize
	}
	if l.MaxResponseSize == 0 {
		l.MaxResponseSize = config.DefaultMaxResponseSize
	}
	if l.MaxHeaders == 0 {
		l.MaxHeaders = config.DefaultMaxHeaders
	}
	return l
}

func headersToPairs(h http.Header) []fingerprint.Pair {
	pairs := make([]fingerprint.Pair, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			pairs = append(pairs, fingerprint.Pair{Key: name, Value: v})
		}
	}
	return pairs
}

func pairsToHeader(pairs []fingerprint.Pair) http.Header {
	h := make(http.Header, len(pairs))
	for _, p := range pairs {
		h.Add(p.Key, p.Value)
	}
	return h
}

// requestFromHTTP builds a fingerprint.Request from an incoming HTTP
// request, dropping headers named in redactHeaderNames and scrubbing
// secrets from the remaining header values and the body via redactor. It
// rejects requests whose header count or body size exceed limits with
// *ouerr.DataTooLarge.
func requestFromHTTP(r *http.Request, redactHeaderNames []string, redactor *redact.Redact, limits config.LimitsConfig) (fingerprint.Request, error) {
	limits = effectiveLimits(limits)

	headerCount := 0
	for _, values := range r.Header {
		headerCount += len(values)
	}
	if headerCount > limits.MaxHeaders {
		return fingerprint.Request{}, &ouerr.DataTooLarge{Size: headerCount, Limit: limits.MaxHeaders}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(limits.MaxRequestSize)+1))
	if err != nil {
		return fingerprint.Request{}, err
	}
	r.Body.Close()
	if len(body) > limits.MaxRequestSize {
		return fingerprint.Request{}, &ouerr.DataTooLarge{Size: len(body), Limit: limits.MaxRequestSize}
	}

	headers := r.Header.Clone()
	for _, name := range redactHeaderNames {
		headers.Del(name)
	}
	redactor.Headers(headers)

	query := make([]fingerprint.Pair, 0, len(r.URL.Query()))
	for key, values := range r.URL.Query() {
		for _, v := range values {
			query = append(query, fingerprint.Pair{Key: key, Value: v})
		}
	}

	return fingerprint.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   query,
		Headers: headersToPairs(headers),
		Body:    redactor.Bytes(body),
	}, nil
}

func writeResponse(w http.ResponseWriter, resp wire.Response) {
	header := w.Header()
	for _, p := range resp.Headers {
		header.Add(p.Key, p.Value)
	}
	w.WriteHeader(int(resp.Status))
	w.Write(resp.Body)
}

func sessionNameFromRequest(r *http.Request) string {
	return r.Header.Get(SessionHeader)
}
